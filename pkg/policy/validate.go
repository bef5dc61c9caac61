package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/aegisgrc/aegis-oss/pkg/domain"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

var knownOperators = map[domain.ConditionOperator]struct{}{
	domain.OpEquals:      {},
	domain.OpNotEquals:   {},
	domain.OpContains:    {},
	domain.OpNotContains: {},
	domain.OpRegex:       {},
	domain.OpExists:      {},
	domain.OpNotExists:   {},
	domain.OpGreaterThan: {},
	domain.OpLessThan:    {},
}

// ValidatePolicy checks a policy's structure at create/update time. An active,
// enabled policy must carry at least one rule with at least one condition (or
// a Rego module) and at least one action.
func ValidatePolicy(p *domain.Policy) error {
	problems := structProblems(p)

	if !p.Severity.Valid() {
		problems = append(problems, fmt.Sprintf("unknown severity %q", p.Severity))
	}

	for i, rule := range p.Rules {
		switch rule.Type {
		case domain.RuleTypeRego:
			if strings.TrimSpace(rule.Module) == "" {
				problems = append(problems, fmt.Sprintf("rule %d: rego rule requires a module", i))
			}
		default:
			for j, cond := range rule.Conditions {
				if _, ok := knownOperators[cond.Operator]; !ok {
					problems = append(problems, fmt.Sprintf("rule %d condition %d: unknown operator %q", i, j, cond.Operator))
				}
				if cond.Field == "" {
					problems = append(problems, fmt.Sprintf("rule %d condition %d: field is required", i, j))
				}
			}
		}
	}

	if p.Status == domain.PolicyStatusActive && p.Enabled {
		if len(p.Rules) == 0 {
			problems = append(problems, "active policy requires at least one rule")
		}
		for i, rule := range p.Rules {
			if rule.Type != domain.RuleTypeRego && len(rule.Conditions) == 0 {
				problems = append(problems, fmt.Sprintf("rule %d: active policy rules require at least one condition", i))
			}
			if len(rule.Actions) == 0 {
				problems = append(problems, fmt.Sprintf("rule %d: active policy rules require at least one action", i))
			}
		}
	}

	if len(problems) > 0 {
		return &domain.ValidationError{Entity: "policy", Problems: problems}
	}
	return nil
}

// ValidateAutoRemediationRule checks an auto-remediation rule definition.
func ValidateAutoRemediationRule(r *domain.AutoRemediationRule) error {
	problems := structProblems(r)

	if !r.SeverityThreshold.Valid() {
		problems = append(problems, fmt.Sprintf("unknown severity threshold %q", r.SeverityThreshold))
	}
	for i, cond := range r.Conditions {
		if _, ok := knownOperators[cond.Operator]; !ok {
			problems = append(problems, fmt.Sprintf("condition %d: unknown operator %q", i, cond.Operator))
		}
	}
	if r.MaxExecutions < 0 {
		problems = append(problems, "max_executions must not be negative")
	}
	if r.CooldownPeriod < 0 {
		problems = append(problems, "cooldown_period must not be negative")
	}

	if len(problems) > 0 {
		return &domain.ValidationError{Entity: "auto-remediation rule", Problems: problems}
	}
	return nil
}

func structProblems(v any) []string {
	err := structValidator.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []string{err.Error()}
	}

	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return problems
}
