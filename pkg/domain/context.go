package domain

import "strings"

// EvalContext is the loosely-typed object conditions are evaluated against.
// Values are strings, numbers, bools, nil, slices, or nested map[string]any.
type EvalContext map[string]any

// Get resolves a dot-separated field path. The path is tried first against a
// nested "metadata" sub-object when one is present; only if the full path
// resolves there is that value used. Otherwise resolution falls back to the
// context root. The second return is false when the path does not resolve.
func (c EvalContext) Get(path string) (any, bool) {
	if c == nil || path == "" {
		return nil, false
	}

	if meta, ok := c["metadata"].(map[string]any); ok {
		if v, ok := resolvePath(meta, path); ok {
			return v, true
		}
	}

	return resolvePath(c, path)
}

func resolvePath(root map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = root

	for _, part := range parts {
		node, ok := current.(map[string]any)
		if !ok {
			if ec, ok := current.(EvalContext); ok {
				node = map[string]any(ec)
			} else {
				return nil, false
			}
		}
		next, ok := node[part]
		if !ok {
			return nil, false
		}
		current = next
	}

	return current, true
}

// IncidentContext flattens an incident into an EvalContext so auto-remediation
// conditions share the policy condition evaluator.
func IncidentContext(inc *Incident) EvalContext {
	if inc == nil {
		return EvalContext{}
	}
	return EvalContext{
		"id":               inc.ID,
		"type":             string(inc.Type),
		"severity":         string(inc.Severity),
		"status":           string(inc.Status),
		"title":            inc.Title,
		"description":      inc.Description,
		"source":           inc.Source,
		"policy_id":        inc.PolicyID,
		"violation_id":     inc.ViolationID,
		"resource_id":      inc.ResourceID,
		"assigned_to":      inc.AssignedTo,
		"escalation_level": inc.EscalationLevel,
		"impact_level":     string(inc.ImpactLevel),
		"data_exposure":    inc.DataExposure,
	}
}
