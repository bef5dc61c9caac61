// Package validation orchestrates resource validation: it fans resource
// contexts through the policy engine, merges in data-classification checks,
// caches results, and dispatches enforcement for detected violations.
package validation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aegisgrc/aegis-oss/pkg/cache"
	"github.com/aegisgrc/aegis-oss/pkg/classification"
	"github.com/aegisgrc/aegis-oss/pkg/domain"
	"github.com/aegisgrc/aegis-oss/pkg/enforcement"
	"github.com/aegisgrc/aegis-oss/pkg/policy"
	"github.com/aegisgrc/aegis-oss/pkg/storage"
	"github.com/aegisgrc/aegis-oss/pkg/telemetry"
)

const (
	// DefaultCacheTTL bounds how long validation results are reused.
	DefaultCacheTTL = 5 * time.Minute

	historyLimit = 1000
)

// severityWeights is the fixed penalty each violation severity contributes to
// the validation score.
var severityWeights = map[domain.Severity]int{
	domain.SeverityCritical: 30,
	domain.SeverityHigh:     15,
	domain.SeverityMedium:   7,
	domain.SeverityLow:      3,
	domain.SeverityInfo:     1,
}

// classificationRequired is the fixed allow-list of resource types that must
// carry a data classification.
var classificationRequired = map[string]struct{}{
	"database":       {},
	"storage_bucket": {},
	"file_share":     {},
	"data_warehouse": {},
	"document_store": {},
}

// Options tune a single validation call.
type Options struct {
	SkipCache                  bool
	ValidateDataClassification bool
	// EnforcementEnabled defaults to true when nil; enforcement is dispatched
	// only when violations exist.
	EnforcementEnabled *bool
}

// ResourceRef identifies one resource in a batch validation.
type ResourceRef struct {
	ID   string
	Type string
}

// OrchestratorOptions configure orchestrator construction.
type OrchestratorOptions struct {
	Engine     *policy.Engine
	Classifier classification.Provider
	Executor   *enforcement.Executor
	Violations storage.ViolationStore
	Logger     *slog.Logger
	Metrics    *telemetry.Metrics
	CacheTTL   time.Duration
	Clock      func() time.Time
}

// Orchestrator validates resources against all active policies.
type Orchestrator struct {
	engine     *policy.Engine
	classifier classification.Provider
	executor   *enforcement.Executor
	violations storage.ViolationStore
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	cache      *cache.TTL[*domain.ValidationResult]
	now        func() time.Time

	mu      sync.RWMutex
	history []*domain.ValidationResult
}

// NewOrchestrator constructs an Orchestrator applying defaults for unset
// options. Engine is required.
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
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
	violations := opts.Violations
	if violations == nil {
		violations = storage.NewMemoryViolationStore()
	}
	executor := opts.Executor
	if executor == nil {
		executor = enforcement.NewExecutor(enforcement.Options{Logger: logger, Metrics: opts.Metrics, Clock: clock})
	}

	return &Orchestrator{
		engine:     opts.Engine,
		classifier: opts.Classifier,
		executor:   executor,
		violations: violations,
		logger:     logger,
		metrics:    opts.Metrics,
		cache:      cache.New[*domain.ValidationResult](ttl),
		now:        clock,
	}
}

// ValidateResource evaluates one resource against all active policies plus,
// when requested, the external classification check. Results are cached per
// (resource, context scope) key; a cached result younger than the TTL is
// returned unless opts.SkipCache is set.
func (o *Orchestrator) ValidateResource(ctx context.Context, resourceID, resourceType string, evalCtx domain.EvalContext, opts Options) (*domain.ValidationResult, error) {
	if resourceID == "" {
		return nil, fmt.Errorf("%w: resource id is required", domain.ErrInvalidInput)
	}

	key := o.cacheKey(resourceID, resourceType, evalCtx)
	if !opts.SkipCache {
		if cached, ok := o.cache.Get(key); ok {
			o.metrics.RecordValidation(cached.Compliant, "hit")
			return cached, nil
		}
	}

	resourceCtx := mergeContext(evalCtx, resourceID, resourceType)

	policyResults, err := o.engine.EvaluateAllPolicies(ctx, resourceCtx)
	if err != nil {
		return nil, err
	}

	var violations []domain.Violation
	for _, pr := range policyResults {
		violations = append(violations, pr.Violations...)
	}

	if opts.ValidateDataClassification {
		violations = append(violations, o.classificationViolations(ctx, resourceID, resourceType)...)
	}

	for i := range violations {
		v := violations[i]
		if err := o.violations.Save(ctx, &v); err != nil {
			o.logger.Error("persist violation failed", "violation_id", v.ID, "error", err)
		}
	}

	result := &domain.ValidationResult{
		ID:           uuid.NewString(),
		ResourceID:   resourceID,
		ResourceType: resourceType,
		Timestamp:    o.now().UTC(),
		Compliant:    len(violations) == 0,
		Violations:   violations,
		Score:        score(violations),
		CacheKey:     key,
	}

	enforcementEnabled := opts.EnforcementEnabled == nil || *opts.EnforcementEnabled
	if enforcementEnabled && len(violations) > 0 {
		o.dispatchEnforcement(ctx, violations, resourceID, resourceType, resourceCtx)
	}

	o.appendHistory(result)
	o.cache.Set(key, result)
	o.metrics.RecordValidation(result.Compliant, "miss")
	return result, nil
}

// ValidateResources validates each resource independently. A single
// resource's failure is logged and omitted; the caller receives partial
// results. Cancellation is honoured between resource iterations, returning
// whatever completed so far.
func (o *Orchestrator) ValidateResources(ctx context.Context, resources []ResourceRef, evalCtx domain.EvalContext, opts Options) ([]*domain.ValidationResult, error) {
	if resources == nil {
		return nil, fmt.Errorf("%w: resource list is required", domain.ErrInvalidInput)
	}

	results := make([]*domain.ValidationResult, 0, len(resources))
	for _, ref := range resources {
		select {
		case <-ctx.Done():
			return results, nil
		default:
		}

		result, err := o.ValidateResource(ctx, ref.ID, ref.Type, evalCtx, opts)
		if err != nil {
			o.logger.Error("resource validation failed", "resource_id", ref.ID, "error", err)
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

// ClearResourceCache drops cached results for one resource.
func (o *Orchestrator) ClearResourceCache(resourceID string) {
	o.cache.DeletePrefix(resourceID + "|")
}

// ClearCache drops all cached validation results.
func (o *Orchestrator) ClearCache() {
	o.cache.Clear()
}

// GetViolation returns one stored violation by id.
func (o *Orchestrator) GetViolation(ctx context.Context, id string) (*domain.Violation, error) {
	return o.violations.Get(ctx, id)
}

// UpdateViolationStatus moves a violation through its lifecycle and appends an
// audit entry recording the transition.
func (o *Orchestrator) UpdateViolationStatus(ctx context.Context, id string, status domain.ViolationStatus, actor string) (*domain.Violation, error) {
	v, err := o.violations.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	v.Status = status
	v.AuditTrail = append(v.AuditTrail, domain.AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: o.now().UTC(),
		Action:    "violation.status." + string(status),
		Actor:     actor,
	})

	if err := o.violations.Save(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// History returns a copy of the bounded validation history, oldest first.
func (o *Orchestrator) History() []*domain.ValidationResult {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]*domain.ValidationResult(nil), o.history...)
}

// Statistics aggregates the validation history.
type Statistics struct {
	TotalValidations     int                     `json:"total_validations"`
	CompliantCount       int                     `json:"compliant_count"`
	AverageScore         float64                 `json:"average_score"`
	ViolationsBySeverity map[domain.Severity]int `json:"violations_by_severity"`
}

// Statistics computes aggregate counts over the retained history.
func (o *Orchestrator) Statistics() Statistics {
	o.mu.RLock()
	defer o.mu.RUnlock()

	stats := Statistics{
		TotalValidations:     len(o.history),
		ViolationsBySeverity: make(map[domain.Severity]int),
	}

	scoreSum := 0
	for _, result := range o.history {
		if result.Compliant {
			stats.CompliantCount++
		}
		scoreSum += result.Score
		for _, v := range result.Violations {
			stats.ViolationsBySeverity[v.Severity]++
		}
	}
	if stats.TotalValidations > 0 {
		stats.AverageScore = float64(scoreSum) / float64(stats.TotalValidations)
	}
	return stats
}

func (o *Orchestrator) classificationViolations(ctx context.Context, resourceID, resourceType string) []domain.Violation {
	if o.classifier == nil {
		return nil
	}
	if _, required := classificationRequired[resourceType]; !required {
		return nil
	}

	_, found, err := o.classifier.GetClassification(ctx, resourceID)
	if err != nil {
		o.logger.Error("classification lookup failed", "resource_id", resourceID, "error", err)
		return nil
	}
	if found {
		return nil
	}

	return []domain.Violation{{
		ID:           uuid.NewString(),
		Severity:     domain.SeverityHigh,
		Title:        "Missing data classification",
		Description:  fmt.Sprintf("Resource type %q requires a data classification but none is recorded", resourceType),
		Category:     "Data Protection",
		ResourceID:   resourceID,
		ResourceType: resourceType,
		DetectedAt:   o.now().UTC(),
		DetectedBy:   "validation-orchestrator",
		Status:       domain.ViolationOpen,
		RiskScore:    70,
		RemediationSteps: []string{
			"Classify the resource's data and record the classification",
		},
	}}
}

// dispatchEnforcement fires every violation's actions, fire-and-continue:
// execution failures are logged and never abort the validation call.
func (o *Orchestrator) dispatchEnforcement(ctx context.Context, violations []domain.Violation, resourceID, resourceType string, resourceCtx domain.EvalContext) {
	target := enforcement.Target{
		ResourceID:   resourceID,
		ResourceType: resourceType,
		Context:      resourceCtx,
	}
	for _, v := range violations {
		if len(v.Actions) == 0 {
			continue
		}
		result := o.executor.Execute(ctx, v.Actions, target)
		if !result.Success {
			o.logger.Warn("enforcement partially failed",
				"violation_id", v.ID, "resource_id", resourceID)
		}
	}
}

func (o *Orchestrator) appendHistory(result *domain.ValidationResult) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.history = append(o.history, result)
	if len(o.history) > historyLimit {
		o.history = o.history[len(o.history)-historyLimit:]
	}
}

// cacheKey scopes cached results by resource identity plus the org, project,
// and environment carried in the context.
func (o *Orchestrator) cacheKey(resourceID, resourceType string, evalCtx domain.EvalContext) string {
	scope := func(key string) string {
		if v, ok := evalCtx[key].(string); ok {
			return v
		}
		return ""
	}
	return strings.Join([]string{
		resourceID, "|", resourceType, "|",
		scope("org_id"), "|", scope("project_id"), "|", scope("environment_id"),
	}, "")
}

// score applies the severity-weighted penalty, floored at zero.
func score(violations []domain.Violation) int {
	penalty := 0
	for _, v := range violations {
		penalty += severityWeights[v.Severity]
	}
	if penalty > 100 {
		penalty = 100
	}
	return 100 - penalty
}

func mergeContext(evalCtx domain.EvalContext, resourceID, resourceType string) domain.EvalContext {
	merged := make(domain.EvalContext, len(evalCtx)+2)
	for k, v := range evalCtx {
		merged[k] = v
	}
	merged["resource_id"] = resourceID
	merged["resource_type"] = resourceType
	return merged
}
