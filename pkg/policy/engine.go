// Package policy owns policy definitions and evaluates their rules against
// evaluation contexts, materializing violations for firing rules.
package policy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aegisgrc/aegis-oss/pkg/cache"
	"github.com/aegisgrc/aegis-oss/pkg/domain"
	"github.com/aegisgrc/aegis-oss/pkg/storage"
	"github.com/aegisgrc/aegis-oss/pkg/telemetry"
)

const (
	// DefaultCacheTTL bounds how long per-policy evaluation results are reused.
	DefaultCacheTTL = 5 * time.Minute

	tracerName = "aegis.policy"
)

// riskScores is the fixed severity-to-risk-score mapping applied to violations.
var riskScores = map[domain.Severity]int{
	domain.SeverityCritical: 90,
	domain.SeverityHigh:     70,
	domain.SeverityMedium:   50,
	domain.SeverityLow:      30,
	domain.SeverityInfo:     10,
}

// DefaultReportingFrameworks are the regimes whose violations always require
// reporting. Overridable through EngineOptions.
var DefaultReportingFrameworks = []string{"GDPR", "HIPAA"}

// EngineOptions configure engine construction.
type EngineOptions struct {
	Store               storage.PolicyStore
	Logger              *slog.Logger
	Metrics             *telemetry.Metrics
	CacheTTL            time.Duration
	ReportingFrameworks []string
	Clock               func() time.Time
}

// Engine evaluates policies and manages their definitions and audit trails.
type Engine struct {
	store     storage.PolicyStore
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	cache     *cache.TTL[*domain.PolicyEvaluationResult]
	rego      *regoEvaluator
	reporting map[string]struct{}
	tracer    trace.Tracer
	now       func() time.Time

	mu       sync.Mutex
	auditLog []domain.AuditEntry
}

// NewEngine constructs an Engine applying defaults for unset options.
func NewEngine(opts EngineOptions) *Engine {
	store := opts.Store
	if store == nil {
		store = storage.NewMemoryPolicyStore()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	frameworks := opts.ReportingFrameworks
	if frameworks == nil {
		frameworks = DefaultReportingFrameworks
	}
	reporting := make(map[string]struct{}, len(frameworks))
	for _, f := range frameworks {
		reporting[f] = struct{}{}
	}

	return &Engine{
		store:     store,
		logger:    logger,
		metrics:   opts.Metrics,
		cache:     cache.New[*domain.PolicyEvaluationResult](ttl),
		rego:      newRegoEvaluator(),
		reporting: reporting,
		tracer:    otel.Tracer(tracerName),
		now:       clock,
	}
}

// CreatePolicy validates and stores a new policy, appending a creation audit
// entry. Invalid policies are rejected and never stored.
func (e *Engine) CreatePolicy(ctx context.Context, p *domain.Policy, actor string) (*domain.Policy, error) {
	policy := p.Clone()
	e.applyDefaults(policy)

	if err := ValidatePolicy(policy); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	policy.CreatedAt = now
	policy.UpdatedAt = now
	policy.CreatedBy = actor
	policy.Version = 1
	policy.AuditTrail = append(policy.AuditTrail, e.audit("policy.created", actor, policy.ID))

	if err := e.store.Save(ctx, policy); err != nil {
		return nil, err
	}
	e.logger.Info("policy created", "policy_id", policy.ID, "name", policy.Name, "actor", actor)
	return policy.Clone(), nil
}

// UpdatePolicy replaces a policy's definition, preserving its creation
// metadata and audit trail, and invalidates its cached evaluations.
func (e *Engine) UpdatePolicy(ctx context.Context, p *domain.Policy, actor string) (*domain.Policy, error) {
	existing, err := e.store.Get(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	updated := p.Clone()
	e.applyDefaults(updated)
	updated.CreatedAt = existing.CreatedAt
	updated.CreatedBy = existing.CreatedBy
	updated.Version = existing.Version + 1
	updated.AuditTrail = append(append([]domain.AuditEntry(nil), existing.AuditTrail...), e.audit("policy.updated", actor, updated.ID))
	updated.UpdatedAt = e.now().UTC()

	if err := ValidatePolicy(updated); err != nil {
		return nil, err
	}

	if err := e.store.Save(ctx, updated); err != nil {
		return nil, err
	}
	e.invalidatePolicy(p.ID)
	return updated.Clone(), nil
}

// ActivatePolicy transitions a policy to active status. Activation re-runs
// structural validation so an empty policy can never become active.
func (e *Engine) ActivatePolicy(ctx context.Context, id, actor string) (*domain.Policy, error) {
	return e.transition(ctx, id, actor, "policy.activated", func(p *domain.Policy) {
		p.Status = domain.PolicyStatusActive
		p.Enabled = true
	})
}

// DeactivatePolicy transitions a policy to inactive status.
func (e *Engine) DeactivatePolicy(ctx context.Context, id, actor string) (*domain.Policy, error) {
	return e.transition(ctx, id, actor, "policy.deactivated", func(p *domain.Policy) {
		p.Status = domain.PolicyStatusInactive
		p.Enabled = false
	})
}

// ApprovePolicy records an approval on the policy's audit trail.
func (e *Engine) ApprovePolicy(ctx context.Context, id, actor string) (*domain.Policy, error) {
	return e.transition(ctx, id, actor, "policy.approved", nil)
}

func (e *Engine) transition(ctx context.Context, id, actor, action string, mutate func(*domain.Policy)) (*domain.Policy, error) {
	p, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if mutate != nil {
		mutate(p)
	}
	if err := ValidatePolicy(p); err != nil {
		return nil, err
	}

	p.AuditTrail = append(p.AuditTrail, e.audit(action, actor, id))
	p.UpdatedAt = e.now().UTC()

	if err := e.store.Save(ctx, p); err != nil {
		return nil, err
	}
	e.invalidatePolicy(id)
	return p.Clone(), nil
}

// DeletePolicy removes the policy from the store. The engine-level audit log
// keeps the policy's history; deletion only removes the definition.
func (e *Engine) DeletePolicy(ctx context.Context, id, actor string) error {
	if _, err := e.store.Get(ctx, id); err != nil {
		return err
	}
	if err := e.store.Delete(ctx, id); err != nil {
		return err
	}
	e.audit("policy.deleted", actor, id)
	e.invalidatePolicy(id)
	e.logger.Info("policy deleted", "policy_id", id, "actor", actor)
	return nil
}

// GetPolicy returns one policy by id.
func (e *Engine) GetPolicy(ctx context.Context, id string) (*domain.Policy, error) {
	return e.store.Get(ctx, id)
}

// PolicyFilter narrows ListPolicies results. Zero values match everything.
type PolicyFilter struct {
	Category string
	Status   domain.PolicyStatus
	Enabled  *bool
}

// ListPolicies returns policies matching the filter, in unspecified order.
func (e *Engine) ListPolicies(ctx context.Context, filter PolicyFilter) ([]*domain.Policy, error) {
	all, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.Policy, 0, len(all))
	for _, p := range all {
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.Enabled != nil && p.Enabled != *filter.Enabled {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// AuditLog returns a copy of the engine-level append-only audit log. Entries
// survive policy deletion.
func (e *Engine) AuditLog() []domain.AuditEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.AuditEntry(nil), e.auditLog...)
}

// EvaluatePolicy evaluates every enabled rule of the policy against the
// context. A disabled or non-active policy short-circuits to a passing result
// without touching rules. Results are cached per (policy, context) within the
// engine's TTL.
func (e *Engine) EvaluatePolicy(ctx context.Context, policyID string, evalCtx domain.EvalContext) (*domain.PolicyEvaluationResult, error) {
	ctx, span := e.tracer.Start(ctx, "policy.evaluate", trace.WithAttributes(attribute.String("policy.id", policyID)))
	defer span.End()

	p, err := e.store.Get(ctx, policyID)
	if err != nil {
		return nil, err
	}

	start := e.now()

	if !p.Enabled || p.Status != domain.PolicyStatusActive {
		return &domain.PolicyEvaluationResult{
			PolicyID:    policyID,
			Passed:      true,
			Violations:  []domain.Violation{},
			Score:       100,
			EvaluatedAt: start.UTC(),
		}, nil
	}

	cacheKey, cacheable := e.cacheKey(policyID, evalCtx)
	if cacheable {
		if cached, ok := e.cache.Get(cacheKey); ok {
			return cached, nil
		}
	}

	var (
		violations []domain.Violation
		evaluable  int
		passed     int
	)
	for _, rule := range p.Rules {
		if !rule.Enabled {
			continue
		}
		evaluable++

		fired, ruleErr := e.ruleFires(ctx, rule, evalCtx)
		if ruleErr != nil {
			// A broken rule counts as passed; the policy evaluation proceeds.
			e.logger.Error("rule evaluation failed", "policy_id", policyID, "rule_id", rule.ID, "error", ruleErr)
			passed++
			continue
		}
		if fired {
			violations = append(violations, e.buildViolation(p, rule, evalCtx))
		} else {
			passed++
		}
	}

	score := 100
	if evaluable > 0 {
		score = int(math.Round(float64(passed) / float64(evaluable) * 100))
	}

	elapsed := e.now().Sub(start)
	result := &domain.PolicyEvaluationResult{
		PolicyID:         policyID,
		Passed:           len(violations) == 0,
		Violations:       violations,
		Score:            score,
		EvaluatedAt:      start.UTC(),
		EvaluationTimeMs: elapsed.Milliseconds(),
	}

	outcome := "pass"
	if !result.Passed {
		outcome = "fail"
	}
	e.metrics.RecordPolicyEvaluation(outcome, elapsed.Seconds())
	for _, v := range violations {
		e.metrics.RecordViolation(string(v.Severity))
	}
	span.SetAttributes(attribute.Int("policy.violations", len(violations)))

	if cacheable {
		e.cache.Set(cacheKey, result)
	}
	return result, nil
}

// EvaluateAllPolicies evaluates every enabled, active policy concurrently.
// One policy's failure never fails the batch; it is logged and its result is
// omitted. Ordering of the returned slice is not guaranteed.
func (e *Engine) EvaluateAllPolicies(ctx context.Context, evalCtx domain.EvalContext) ([]*domain.PolicyEvaluationResult, error) {
	ctx, span := e.tracer.Start(ctx, "policy.evaluate_all")
	defer span.End()

	all, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []*domain.PolicyEvaluationResult
	)
	for _, p := range all {
		if !p.Enabled || p.Status != domain.PolicyStatusActive {
			continue
		}
		wg.Add(1)
		go func(policyID string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("policy evaluation panicked", "policy_id", policyID, "panic", fmt.Sprint(r))
				}
			}()

			result, evalErr := e.EvaluatePolicy(ctx, policyID, evalCtx)
			if evalErr != nil {
				e.logger.Error("policy evaluation failed", "policy_id", policyID, "error", evalErr)
				return
			}
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		}(p.ID)
	}
	wg.Wait()

	span.SetAttributes(attribute.Int("policy.evaluated", len(results)))
	return results, nil
}

// ClearCache drops all cached evaluation results.
func (e *Engine) ClearCache() {
	e.cache.Clear()
}

func (e *Engine) invalidatePolicy(id string) {
	e.cache.DeletePrefix(id + ":")
}

func (e *Engine) ruleFires(ctx context.Context, rule domain.Rule, evalCtx domain.EvalContext) (bool, error) {
	if rule.Type == domain.RuleTypeRego {
		return e.rego.Fires(ctx, rule, evalCtx)
	}
	return EvaluateConditions(rule.Conditions, evalCtx), nil
}

func (e *Engine) buildViolation(p *domain.Policy, rule domain.Rule, evalCtx domain.EvalContext) domain.Violation {
	resourceID, _ := evalCtx["resource_id"].(string)
	resourceType, _ := evalCtx["resource_type"].(string)

	title := rule.Description
	if title == "" {
		title = p.Name
	}

	impacts := make([]domain.ComplianceImpact, 0, len(p.Frameworks))
	for _, framework := range p.Frameworks {
		_, mustReport := e.reporting[framework]
		impacts = append(impacts, domain.ComplianceImpact{
			Framework:         framework,
			ImpactLevel:       p.Severity,
			RequiresReporting: mustReport,
		})
	}

	actions := make([]domain.EnforcementAction, 0, len(rule.Actions))
	for _, a := range rule.Actions {
		actions = append(actions, a.Clone())
	}

	return domain.Violation{
		ID:           uuid.NewString(),
		PolicyID:     p.ID,
		RuleID:       rule.ID,
		Severity:     p.Severity,
		Title:        title,
		Description:  fmt.Sprintf("Policy %q rule fired for category %s", p.Name, p.Category),
		Category:     p.Category,
		ResourceID:   resourceID,
		ResourceType: resourceType,
		DetectedAt:   e.now().UTC(),
		DetectedBy:   "policy-engine",
		Status:       domain.ViolationOpen,
		RiskScore:    riskScores[p.Severity],
		Impacts:      impacts,
		RemediationSteps: []string{
			fmt.Sprintf("Review the flagged configuration against policy %q", p.Name),
			fmt.Sprintf("Bring the resource back into the compliant state for category %s", p.Category),
		},
		Actions: actions,
	}
}

// cacheKey hashes the serialized context under the policy id so per-policy
// invalidation is a prefix delete. Unserializable contexts skip caching.
func (e *Engine) cacheKey(policyID string, evalCtx domain.EvalContext) (string, bool) {
	// encoding/json sorts map keys, so the serialization is deterministic.
	serialized, err := json.Marshal(evalCtx)
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(serialized)
	return policyID + ":" + hex.EncodeToString(sum[:]), true
}

func (e *Engine) applyDefaults(p *domain.Policy) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = domain.PolicyStatusDraft
	}
	if p.EnforcementMode == "" {
		p.EnforcementMode = domain.EnforcementMonitor
	}
	for i := range p.Rules {
		if p.Rules[i].ID == "" {
			p.Rules[i].ID = uuid.NewString()
		}
		if p.Rules[i].Type == "" {
			p.Rules[i].Type = domain.RuleTypeCondition
		}
	}
}

func (e *Engine) audit(action, actor, details string) domain.AuditEntry {
	entry := domain.AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: e.now().UTC(),
		Action:    action,
		Actor:     actor,
		Details:   details,
	}
	e.mu.Lock()
	e.auditLog = append(e.auditLog, entry)
	e.mu.Unlock()
	return entry
}
