package incident

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aegisgrc/aegis-oss/pkg/domain"
	"github.com/aegisgrc/aegis-oss/pkg/policy"
	"github.com/aegisgrc/aegis-oss/pkg/storage"
	"github.com/aegisgrc/aegis-oss/pkg/telemetry"
)

// DefaultActionTimeout bounds each individual response action.
const DefaultActionTimeout = 5 * time.Second

// Responder is the capability interface behind automated remediation, one
// method per response family. All calls reach external systems; the shipped
// implementation simulates them.
type Responder interface {
	IsolateResource(ctx context.Context, inc *domain.Incident, params map[string]any) error
	DisableUser(ctx context.Context, inc *domain.Incident, params map[string]any) error
	BlockIP(ctx context.Context, inc *domain.Incident, params map[string]any) error
	RotateCredentials(ctx context.Context, inc *domain.Incident, params map[string]any) error
	ApplyPatch(ctx context.Context, inc *domain.Incident, params map[string]any) error
	Notify(ctx context.Context, inc *domain.Incident, params map[string]any) error
	CustomScript(ctx context.Context, inc *domain.Incident, params map[string]any) error
}

// AutoRemediatorOptions configure construction.
type AutoRemediatorOptions struct {
	Rules         storage.AutoRemediationRuleStore
	Responder     Responder
	Logger        *slog.Logger
	Metrics       *telemetry.Metrics
	ActionTimeout time.Duration
	Clock         func() time.Time
}

// AutoRemediator matches auto-remediation rules against incidents and
// executes them subject to cooldown and execution-count limits.
type AutoRemediator struct {
	rules     storage.AutoRemediationRuleStore
	responder Responder
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	timeout   time.Duration
	now       func() time.Time

	// gate serializes the cooldown/limit check with the counter claim so two
	// concurrent triggers inside one cooldown window execute exactly once.
	gate sync.Mutex
}

// NewAutoRemediator constructs an AutoRemediator with defaults for unset
// options.
func NewAutoRemediator(opts AutoRemediatorOptions) *AutoRemediator {
	rules := opts.Rules
	if rules == nil {
		rules = storage.NewMemoryAutoRemediationRuleStore()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	responder := opts.Responder
	if responder == nil {
		responder = NewSimulatedResponder(logger)
	}
	timeout := opts.ActionTimeout
	if timeout <= 0 {
		timeout = DefaultActionTimeout
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &AutoRemediator{
		rules:     rules,
		responder: responder,
		logger:    logger,
		metrics:   opts.Metrics,
		timeout:   timeout,
		now:       clock,
	}
}

// CreateRule validates and stores a new auto-remediation rule.
func (a *AutoRemediator) CreateRule(ctx context.Context, r *domain.AutoRemediationRule) (*domain.AutoRemediationRule, error) {
	rule := r.Clone()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if err := policy.ValidateAutoRemediationRule(rule); err != nil {
		return nil, err
	}

	now := a.now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	rule.ExecutionCount = 0
	rule.SuccessCount = 0
	rule.FailureCount = 0
	rule.LastExecuted = nil

	if err := a.rules.Save(ctx, rule); err != nil {
		return nil, err
	}
	return rule.Clone(), nil
}

// UpdateRule replaces a rule's definition fields, preserving its counters.
func (a *AutoRemediator) UpdateRule(ctx context.Context, r *domain.AutoRemediationRule) (*domain.AutoRemediationRule, error) {
	existing, err := a.rules.Get(ctx, r.ID)
	if err != nil {
		return nil, err
	}

	updated := r.Clone()
	if err := policy.ValidateAutoRemediationRule(updated); err != nil {
		return nil, err
	}

	// Counters belong to the execution engine, not administrative edits.
	updated.ExecutionCount = existing.ExecutionCount
	updated.SuccessCount = existing.SuccessCount
	updated.FailureCount = existing.FailureCount
	updated.LastExecuted = existing.LastExecuted
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = a.now().UTC()

	if err := a.rules.Save(ctx, updated); err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

// GetRule returns one rule by id.
func (a *AutoRemediator) GetRule(ctx context.Context, id string) (*domain.AutoRemediationRule, error) {
	return a.rules.Get(ctx, id)
}

// ListRules returns all rules in unspecified order.
func (a *AutoRemediator) ListRules(ctx context.Context) ([]*domain.AutoRemediationRule, error) {
	return a.rules.List(ctx)
}

// DeleteRule removes a rule.
func (a *AutoRemediator) DeleteRule(ctx context.Context, id string) error {
	return a.rules.Delete(ctx, id)
}

// Matches reports whether the rule applies to the incident: enabled, incident
// type listed, incident at least as severe as the threshold, and the rule's
// conditions (empty set holds trivially) true against the incident fields.
func Matches(rule *domain.AutoRemediationRule, inc *domain.Incident) bool {
	if !rule.Enabled {
		return false
	}

	typeListed := false
	for _, t := range rule.IncidentTypes {
		if t == inc.Type {
			typeListed = true
			break
		}
	}
	if !typeListed {
		return false
	}

	if !inc.Severity.AtLeast(rule.SeverityThreshold) {
		return false
	}

	if len(rule.Conditions) == 0 {
		return true
	}
	return policy.EvaluateConditions(rule.Conditions, domain.IncidentContext(inc))
}

// Trigger runs every matching rule against the incident. A rule skipped for
// cooldown or execution limits is fatal only to that rule; other matching
// rules still run. Returns one RemediationAction record per executed rule.
func (a *AutoRemediator) Trigger(ctx context.Context, inc *domain.Incident) []domain.RemediationAction {
	rules, err := a.rules.List(ctx)
	if err != nil {
		a.logger.Error("list auto-remediation rules failed", "error", err)
		return nil
	}

	var records []domain.RemediationAction
	for _, rule := range rules {
		if !Matches(rule, inc) {
			continue
		}
		record, execErr := a.ExecuteRule(ctx, rule.ID, inc)
		if execErr != nil {
			a.logger.Warn("auto-remediation rule skipped",
				"rule_id", rule.ID, "incident_id", inc.ID, "reason", execErr)
			continue
		}
		records = append(records, *record)
	}
	return records
}

// ExecuteRule executes one rule's actions against the incident. Cooldown and
// execution-limit gating happens atomically with the counter claim: the
// execution count and cooldown clock advance before actions run and are never
// rolled back, regardless of individual action outcomes.
func (a *AutoRemediator) ExecuteRule(ctx context.Context, ruleID string, inc *domain.Incident) (*domain.RemediationAction, error) {
	rule, err := a.claim(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	outcomes := make([]domain.ActionOutcome, 0, len(rule.Actions))
	succeeded := 0
	for _, action := range rule.Actions {
		outcome := domain.ActionOutcome{
			Type:    string(action.Type),
			Params:  action.Params,
			Success: true,
		}
		if runErr := a.runAction(ctx, action, inc); runErr != nil {
			outcome.Success = false
			outcome.Error = runErr.Error()
			a.logger.Warn("auto-remediation action failed",
				"rule_id", rule.ID, "action", action.Type, "error", runErr)
		} else {
			succeeded++
		}
		outcomes = append(outcomes, outcome)
	}

	status, result := "completed", "success"
	switch {
	case succeeded == len(rule.Actions):
		a.bump(ctx, rule.ID, true)
		a.metrics.RecordAutoRemediation("executed")
	case succeeded > 0:
		result = "partial"
		a.bump(ctx, rule.ID, false)
		a.metrics.RecordAutoRemediation("failed")
	default:
		status, result = "failed", "partial"
		a.bump(ctx, rule.ID, false)
		a.metrics.RecordAutoRemediation("failed")
	}

	return &domain.RemediationAction{
		ID:         uuid.NewString(),
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		Status:     status,
		Result:     result,
		Outcomes:   outcomes,
		ExecutedAt: a.now().UTC(),
	}, nil
}

// claim checks the cooldown window and execution cap and, when the rule may
// run, advances its execution count and cooldown clock in the same critical
// section.
func (a *AutoRemediator) claim(ctx context.Context, ruleID string) (*domain.AutoRemediationRule, error) {
	a.gate.Lock()
	defer a.gate.Unlock()

	rule, err := a.rules.Get(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	now := a.now()
	if rule.CooldownPeriod > 0 && rule.LastExecuted != nil {
		until := rule.LastExecuted.Add(rule.CooldownPeriod.Duration())
		if now.Before(until) {
			a.metrics.RecordAutoRemediation("skipped_cooldown")
			return nil, fmt.Errorf("%w: rule %s until %s",
				domain.ErrCooldownActive, rule.ID, until.UTC().Format(time.RFC3339))
		}
	}
	if rule.MaxExecutions > 0 && rule.ExecutionCount >= rule.MaxExecutions {
		a.metrics.RecordAutoRemediation("skipped_limit")
		return nil, fmt.Errorf("%w: rule %s executed %d times",
			domain.ErrExecutionLimit, rule.ID, rule.ExecutionCount)
	}

	rule.ExecutionCount++
	stamp := now.UTC()
	rule.LastExecuted = &stamp
	if err := a.rules.Save(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

func (a *AutoRemediator) bump(ctx context.Context, ruleID string, success bool) {
	a.gate.Lock()
	defer a.gate.Unlock()

	rule, err := a.rules.Get(ctx, ruleID)
	if err != nil {
		a.logger.Error("update rule counters failed", "rule_id", ruleID, "error", err)
		return
	}
	if success {
		rule.SuccessCount++
	} else {
		rule.FailureCount++
	}
	if err := a.rules.Save(ctx, rule); err != nil {
		a.logger.Error("update rule counters failed", "rule_id", ruleID, "error", err)
	}
}

func (a *AutoRemediator) runAction(ctx context.Context, action domain.AutoRemediationAction, inc *domain.Incident) error {
	actionCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- a.dispatch(actionCtx, action, inc)
	}()

	select {
	case err := <-done:
		if err != nil {
			return &domain.ExecutionError{ActionType: string(action.Type), Err: err}
		}
		return nil
	case <-actionCtx.Done():
		return &domain.ExecutionError{ActionType: string(action.Type), Err: actionCtx.Err()}
	}
}

func (a *AutoRemediator) dispatch(ctx context.Context, action domain.AutoRemediationAction, inc *domain.Incident) error {
	switch action.Type {
	case domain.AutoActionIsolateResource:
		return a.responder.IsolateResource(ctx, inc, action.Params)
	case domain.AutoActionDisableUser:
		return a.responder.DisableUser(ctx, inc, action.Params)
	case domain.AutoActionBlockIP:
		return a.responder.BlockIP(ctx, inc, action.Params)
	case domain.AutoActionRotateCredentials:
		return a.responder.RotateCredentials(ctx, inc, action.Params)
	case domain.AutoActionApplyPatch:
		return a.responder.ApplyPatch(ctx, inc, action.Params)
	case domain.AutoActionNotify:
		return a.responder.Notify(ctx, inc, action.Params)
	case domain.AutoActionCustomScript:
		return a.responder.CustomScript(ctx, inc, action.Params)
	default:
		return fmt.Errorf("unknown auto-remediation action %q", action.Type)
	}
}

// SimulatedResponder implements Responder by logging intended outcomes.
// Delay, when set, models external call latency.
type SimulatedResponder struct {
	logger *slog.Logger
	Delay  time.Duration
}

// NewSimulatedResponder constructs a logging no-op responder.
func NewSimulatedResponder(logger *slog.Logger) *SimulatedResponder {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimulatedResponder{logger: logger}
}

func (r *SimulatedResponder) IsolateResource(ctx context.Context, inc *domain.Incident, params map[string]any) error {
	return r.simulate(ctx, "isolate_resource", inc, params)
}

func (r *SimulatedResponder) DisableUser(ctx context.Context, inc *domain.Incident, params map[string]any) error {
	return r.simulate(ctx, "disable_user", inc, params)
}

func (r *SimulatedResponder) BlockIP(ctx context.Context, inc *domain.Incident, params map[string]any) error {
	return r.simulate(ctx, "block_ip", inc, params)
}

func (r *SimulatedResponder) RotateCredentials(ctx context.Context, inc *domain.Incident, params map[string]any) error {
	return r.simulate(ctx, "rotate_credentials", inc, params)
}

func (r *SimulatedResponder) ApplyPatch(ctx context.Context, inc *domain.Incident, params map[string]any) error {
	return r.simulate(ctx, "apply_patch", inc, params)
}

func (r *SimulatedResponder) Notify(ctx context.Context, inc *domain.Incident, params map[string]any) error {
	return r.simulate(ctx, "notify", inc, params)
}

func (r *SimulatedResponder) CustomScript(ctx context.Context, inc *domain.Incident, params map[string]any) error {
	return r.simulate(ctx, "custom_script", inc, params)
}

func (r *SimulatedResponder) simulate(ctx context.Context, kind string, inc *domain.Incident, params map[string]any) error {
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.logger.Info("simulated response action",
		"action", kind, "incident_id", inc.ID, "params", params)
	return nil
}
