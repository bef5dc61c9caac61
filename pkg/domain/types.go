package domain

import (
	"time"
)

// Severity grades policies, violations, and incidents.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// severityRank orders severities with critical first. Unknown severities sort
// after info so malformed input never outranks real findings.
var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
	SeverityInfo:     4,
}

// Rank returns the ordinal position of the severity, critical being 0.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return len(severityRank)
}

// AtLeast reports whether s is at least as severe as threshold.
func (s Severity) AtLeast(threshold Severity) bool {
	return s.Rank() <= threshold.Rank()
}

// Valid reports whether s is one of the known severity levels.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// EnforcementMode controls how firing rules are acted upon.
type EnforcementMode string

const (
	EnforcementMonitor EnforcementMode = "monitor"
	EnforcementEnforce EnforcementMode = "enforce"
	EnforcementBlock   EnforcementMode = "block"
)

// PolicyStatus is the administrative lifecycle state of a policy.
type PolicyStatus string

const (
	PolicyStatusDraft    PolicyStatus = "draft"
	PolicyStatusActive   PolicyStatus = "active"
	PolicyStatusInactive PolicyStatus = "inactive"
	PolicyStatusArchived PolicyStatus = "archived"
)

// Policy is a named collection of rules mapped to compliance frameworks.
type Policy struct {
	ID              string          `json:"id" yaml:"id"`
	Name            string          `json:"name" yaml:"name" validate:"required"`
	Description     string          `json:"description" yaml:"description" validate:"required"`
	Category        string          `json:"category" yaml:"category" validate:"required"`
	Severity        Severity        `json:"severity" yaml:"severity" validate:"required"`
	Frameworks      []string        `json:"frameworks" yaml:"frameworks" validate:"required,min=1"`
	Status          PolicyStatus    `json:"status" yaml:"status"`
	Enabled         bool            `json:"enabled" yaml:"enabled"`
	EnforcementMode EnforcementMode `json:"enforcement_mode" yaml:"enforcement_mode"`
	Rules           []Rule          `json:"rules" yaml:"rules"`
	AuditTrail      []AuditEntry    `json:"audit_trail" yaml:"audit_trail,omitempty"`
	CreatedAt       time.Time       `json:"created_at" yaml:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" yaml:"updated_at"`
	CreatedBy       string          `json:"created_by" yaml:"created_by"`
	Version         int             `json:"version" yaml:"version"`
}

// Clone returns a deep copy of the policy to avoid shared mutable state.
func (p *Policy) Clone() *Policy {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Frameworks = append([]string(nil), p.Frameworks...)
	clone.AuditTrail = append([]AuditEntry(nil), p.AuditTrail...)
	if len(p.Rules) > 0 {
		clone.Rules = make([]Rule, len(p.Rules))
		for i := range p.Rules {
			clone.Rules[i] = p.Rules[i].Clone()
		}
	}
	return &clone
}

// RuleType discriminates how a rule is evaluated.
type RuleType string

const (
	// RuleTypeCondition evaluates the rule's condition list left to right.
	RuleTypeCondition RuleType = "condition"
	// RuleTypeRego evaluates an embedded Rego module; the rule fires when the
	// module's violation decision is true.
	RuleTypeRego RuleType = "rego"
)

// Rule is a condition set plus actions that fires when its conditions describe
// the violating state. Rules are owned exclusively by their policy.
type Rule struct {
	ID          string              `json:"id" yaml:"id"`
	Type        RuleType            `json:"type" yaml:"type"`
	Description string              `json:"description" yaml:"description"`
	Conditions  []Condition         `json:"conditions" yaml:"conditions"`
	Actions     []EnforcementAction `json:"actions" yaml:"actions"`
	Enabled     bool                `json:"enabled" yaml:"enabled"`
	Priority    int                 `json:"priority" yaml:"priority"`
	// Module holds Rego source for RuleTypeRego rules; empty otherwise.
	Module string `json:"module,omitempty" yaml:"module,omitempty"`
}

// Clone returns a deep copy of the rule.
func (r Rule) Clone() Rule {
	clone := r
	clone.Conditions = append([]Condition(nil), r.Conditions...)
	if len(r.Actions) > 0 {
		clone.Actions = make([]EnforcementAction, len(r.Actions))
		for i := range r.Actions {
			clone.Actions[i] = r.Actions[i].Clone()
		}
	}
	return clone
}

// ConditionOperator is the comparison applied to a resolved field value.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "equals"
	OpNotEquals   ConditionOperator = "not_equals"
	OpContains    ConditionOperator = "contains"
	OpNotContains ConditionOperator = "not_contains"
	OpRegex       ConditionOperator = "regex"
	OpExists      ConditionOperator = "exists"
	OpNotExists   ConditionOperator = "not_exists"
	OpGreaterThan ConditionOperator = "greater_than"
	OpLessThan    ConditionOperator = "less_than"
)

// LogicalOperator combines a condition's verdict with the accumulated verdict
// of all prior conditions in the same rule.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// Condition compares a dotted field path against a value. Logical describes
// how this condition combines with the running result of the conditions before
// it; evaluation is a strict left-to-right fold with no operator precedence.
type Condition struct {
	Field    string            `json:"field" yaml:"field"`
	Operator ConditionOperator `json:"operator" yaml:"operator"`
	Value    any               `json:"value,omitempty" yaml:"value,omitempty"`
	Logical  LogicalOperator   `json:"logical_operator,omitempty" yaml:"logical_operator,omitempty"`
}

// ActionType tags an enforcement action.
type ActionType string

const (
	ActionBlock      ActionType = "block"
	ActionNotify     ActionType = "notify"
	ActionTag        ActionType = "tag"
	ActionQuarantine ActionType = "quarantine"
	ActionRemediate  ActionType = "remediate"
)

// EnforcementAction is an immediate action attached to a violation or rule.
// It is never persisted on its own; outcomes are recorded per execution in an
// EnforcementResult.
type EnforcementAction struct {
	Type   ActionType     `json:"type" yaml:"type"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Clone returns a copy of the action with its parameter bag duplicated.
func (a EnforcementAction) Clone() EnforcementAction {
	clone := a
	clone.Params = cloneAnyMap(a.Params)
	return clone
}

// ViolationStatus is the lifecycle state of a violation.
type ViolationStatus string

const (
	ViolationOpen         ViolationStatus = "open"
	ViolationAcknowledged ViolationStatus = "acknowledged"
	ViolationRemediated   ViolationStatus = "remediated"
	ViolationFalsePositive ViolationStatus = "false_positive"
	ViolationAcceptedRisk ViolationStatus = "accepted_risk"
)

// ComplianceImpact records how a violation touches one compliance framework.
type ComplianceImpact struct {
	Framework         string   `json:"framework" yaml:"framework"`
	ImpactLevel       Severity `json:"impact_level" yaml:"impact_level"`
	RequiresReporting bool     `json:"requires_reporting" yaml:"requires_reporting"`
}

// Violation is a concrete, timestamped finding that a rule fired against a
// resource. Immutable once created except for Status and AuditTrail.
type Violation struct {
	ID               string              `json:"id"`
	PolicyID         string              `json:"policy_id"`
	RuleID           string              `json:"rule_id"`
	Severity         Severity            `json:"severity"`
	Title            string              `json:"title"`
	Description      string              `json:"description"`
	Category         string              `json:"category"`
	ResourceID       string              `json:"resource_id"`
	ResourceType     string              `json:"resource_type"`
	DetectedAt       time.Time           `json:"detected_at"`
	DetectedBy       string              `json:"detected_by"`
	Status           ViolationStatus     `json:"status"`
	RiskScore        int                 `json:"risk_score"`
	Impacts          []ComplianceImpact  `json:"compliance_impacts"`
	RemediationSteps []string            `json:"remediation_steps"`
	Actions          []EnforcementAction `json:"enforcement_actions"`
	Metadata         map[string]any      `json:"metadata,omitempty"`
	AuditTrail       []AuditEntry        `json:"audit_trail,omitempty"`
}

// ValidationResult is the outcome of validating one resource. Results are
// superseded, never mutated, and retained in a bounded history.
type ValidationResult struct {
	ID           string      `json:"id"`
	ResourceID   string      `json:"resource_id"`
	ResourceType string      `json:"resource_type"`
	Timestamp    time.Time   `json:"timestamp"`
	Compliant    bool        `json:"compliant"`
	Violations   []Violation `json:"violations"`
	Score        int         `json:"score"`
	CacheKey     string      `json:"cache_key"`
}

// PolicyEvaluationResult is the outcome of evaluating a single policy.
type PolicyEvaluationResult struct {
	PolicyID         string      `json:"policy_id"`
	Passed           bool        `json:"passed"`
	Violations       []Violation `json:"violations"`
	Score            int         `json:"score"`
	EvaluatedAt      time.Time   `json:"evaluated_at"`
	EvaluationTimeMs int64       `json:"evaluation_time_ms"`
}

// PlanStatus is the lifecycle state of a remediation plan.
type PlanStatus string

const (
	PlanOpen      PlanStatus = "open"
	PlanCompleted PlanStatus = "completed"
	PlanClosed    PlanStatus = "closed"
)

// StepStatus is the lifecycle state of a remediation step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepCancelled  StepStatus = "cancelled"
)

// RemediationStep is one tracked unit of work inside a plan, owned exclusively
// by that plan.
type RemediationStep struct {
	ID                   string     `json:"id"`
	ViolationID          string     `json:"violation_id"`
	ResourceID           string     `json:"resource_id"`
	Severity             Severity   `json:"severity"`
	Description          string     `json:"description"`
	Status               StepStatus `json:"status"`
	Assignee             string     `json:"assignee,omitempty"`
	DueDate              time.Time  `json:"due_date"`
	VerificationRequired bool       `json:"verification_required"`
	VerificationResult   *bool      `json:"verification_result,omitempty"`
	VerifiedBy           string     `json:"verified_by,omitempty"`
	VerifiedAt           *time.Time `json:"verified_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// RemediationPlan tracks the work to resolve a batch of violations.
type RemediationPlan struct {
	ID          string            `json:"id"`
	OrgID       string            `json:"org_id,omitempty"`
	Title       string            `json:"title"`
	Resources   []string          `json:"resources"`
	Frameworks  []string          `json:"frameworks"`
	Steps       []RemediationStep `json:"steps"`
	Status      PlanStatus        `json:"status"`
	Priority    Severity          `json:"priority"`
	Progress    int               `json:"progress"`
	DueDate     time.Time         `json:"due_date"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the plan.
func (p *RemediationPlan) Clone() *RemediationPlan {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Resources = append([]string(nil), p.Resources...)
	clone.Frameworks = append([]string(nil), p.Frameworks...)
	clone.Steps = append([]RemediationStep(nil), p.Steps...)
	return &clone
}

// IncidentType classifies a security incident.
type IncidentType string

const (
	IncidentUnauthorizedAccess IncidentType = "unauthorized_access"
	IncidentDataBreach         IncidentType = "data_breach"
	IncidentPolicyViolation    IncidentType = "policy_violation"
	IncidentMalware            IncidentType = "malware_detected"
	IncidentInsiderThreat      IncidentType = "insider_threat"
)

// IncidentStatus is the lifecycle state of an incident.
type IncidentStatus string

const (
	IncidentOpen          IncidentStatus = "open"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentContained     IncidentStatus = "contained"
	IncidentResolved      IncidentStatus = "resolved"
	IncidentClosed        IncidentStatus = "closed"
	IncidentFalsePositive IncidentStatus = "false_positive"
)

// Incident is an escalated, lifecycle-tracked security event.
type Incident struct {
	ID                 string              `json:"id"`
	Type               IncidentType        `json:"type"`
	Severity           Severity            `json:"severity"`
	Status             IncidentStatus      `json:"status"`
	Title              string              `json:"title"`
	Description        string              `json:"description"`
	Source             string              `json:"source"`
	PolicyID           string              `json:"policy_id,omitempty"`
	ViolationID        string              `json:"violation_id,omitempty"`
	ResourceID         string              `json:"resource_id,omitempty"`
	AssignedTo         string              `json:"assigned_to,omitempty"`
	EscalationLevel    int                 `json:"escalation_level"`
	ImpactLevel        Severity            `json:"impact_level"`
	DataExposure       bool                `json:"data_exposure"`
	ComplianceImpacts  []ComplianceImpact  `json:"compliance_impacts,omitempty"`
	RemediationActions []RemediationAction `json:"remediation_actions,omitempty"`
	Notifications      []Notification      `json:"notifications,omitempty"`
	Evidence           []Evidence          `json:"evidence,omitempty"`
	AuditTrail         []AuditEntry        `json:"audit_trail,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
	AcknowledgedAt     *time.Time          `json:"acknowledged_at,omitempty"`
	ContainedAt        *time.Time          `json:"contained_at,omitempty"`
	ResolvedAt         *time.Time          `json:"resolved_at,omitempty"`
	ClosedAt           *time.Time          `json:"closed_at,omitempty"`
}

// Clone returns a deep copy of the incident.
func (i *Incident) Clone() *Incident {
	if i == nil {
		return nil
	}
	clone := *i
	clone.ComplianceImpacts = append([]ComplianceImpact(nil), i.ComplianceImpacts...)
	clone.RemediationActions = append([]RemediationAction(nil), i.RemediationActions...)
	clone.Notifications = append([]Notification(nil), i.Notifications...)
	clone.Evidence = append([]Evidence(nil), i.Evidence...)
	clone.AuditTrail = append([]AuditEntry(nil), i.AuditTrail...)
	return &clone
}

// Evidence is an artifact attached to an incident during investigation.
type Evidence struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	AddedBy     string    `json:"added_by"`
	AddedAt     time.Time `json:"added_at"`
	Reference   string    `json:"reference,omitempty"`
}

// RemediationAction summarizes one auto-remediation rule execution against an
// incident, covering every configured action in that batch.
type RemediationAction struct {
	ID         string          `json:"id"`
	RuleID     string          `json:"rule_id"`
	RuleName   string          `json:"rule_name"`
	Status     string          `json:"status"`
	Result     string          `json:"result"`
	Outcomes   []ActionOutcome `json:"outcomes"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// ActionOutcome records the result of one individual action execution.
type ActionOutcome struct {
	Type    string         `json:"type"`
	Params  map[string]any `json:"params,omitempty"`
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
}

// Notification is one best-effort message dispatched for an incident.
type Notification struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Status    string    `json:"status"`
	SentAt    time.Time `json:"sent_at"`
}

// AutoRemediationActionType names a simulated external response action.
type AutoRemediationActionType string

const (
	AutoActionIsolateResource   AutoRemediationActionType = "isolate_resource"
	AutoActionDisableUser       AutoRemediationActionType = "disable_user"
	AutoActionBlockIP           AutoRemediationActionType = "block_ip"
	AutoActionRotateCredentials AutoRemediationActionType = "rotate_credentials"
	AutoActionApplyPatch        AutoRemediationActionType = "apply_patch"
	AutoActionNotify            AutoRemediationActionType = "notify"
	AutoActionCustomScript      AutoRemediationActionType = "custom_script"
)

// AutoRemediationAction is one configured response action on a rule.
type AutoRemediationAction struct {
	Type   AutoRemediationActionType `json:"type" yaml:"type"`
	Params map[string]any            `json:"params,omitempty" yaml:"params,omitempty"`
}

// AutoRemediationRule triggers automated response actions when an incident
// matches its type, severity threshold, and conditions. Counters are mutated
// only by the execution engine; definition fields only by administrative edits.
type AutoRemediationRule struct {
	ID                string                  `json:"id" yaml:"id"`
	Name              string                  `json:"name" yaml:"name" validate:"required"`
	Description       string                  `json:"description" yaml:"description"`
	IncidentTypes     []IncidentType          `json:"incident_types" yaml:"incident_types" validate:"required,min=1"`
	SeverityThreshold Severity                `json:"severity_threshold" yaml:"severity_threshold" validate:"required"`
	Conditions        []Condition             `json:"conditions" yaml:"conditions"`
	Actions           []AutoRemediationAction `json:"actions" yaml:"actions" validate:"required,min=1"`
	Enabled           bool                    `json:"enabled" yaml:"enabled"`
	MaxExecutions     int                     `json:"max_executions" yaml:"max_executions"`
	CooldownPeriod    Period                  `json:"cooldown_period" yaml:"cooldown_period"`
	ExecutionCount    int                     `json:"execution_count" yaml:"-"`
	SuccessCount      int                     `json:"success_count" yaml:"-"`
	FailureCount      int                     `json:"failure_count" yaml:"-"`
	LastExecuted      *time.Time              `json:"last_executed,omitempty" yaml:"-"`
	CreatedAt         time.Time               `json:"created_at" yaml:"created_at"`
	UpdatedAt         time.Time               `json:"updated_at" yaml:"updated_at"`
}

// Clone returns a deep copy of the rule.
func (r *AutoRemediationRule) Clone() *AutoRemediationRule {
	if r == nil {
		return nil
	}
	clone := *r
	clone.IncidentTypes = append([]IncidentType(nil), r.IncidentTypes...)
	clone.Conditions = append([]Condition(nil), r.Conditions...)
	clone.Actions = append([]AutoRemediationAction(nil), r.Actions...)
	if r.LastExecuted != nil {
		t := *r.LastExecuted
		clone.LastExecuted = &t
	}
	return &clone
}

// EnforcementResult records one executor invocation. Success is the logical
// AND over all individual action outcomes.
type EnforcementResult struct {
	ID           string          `json:"id"`
	ResourceID   string          `json:"resource_id"`
	ResourceType string          `json:"resource_type"`
	Success      bool            `json:"success"`
	Actions      []ActionOutcome `json:"actions"`
	ExecutedAt   time.Time       `json:"executed_at"`
}

// AuditEntry is one append-only audit trail record.
type AuditEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Details   string    `json:"details,omitempty"`
}

func cloneAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
