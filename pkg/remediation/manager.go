// Package remediation builds and tracks remediation plans for batches of
// violations: ordered steps, verification gating, and plan progress.
package remediation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/aegisgrc/aegis-oss/pkg/domain"
	"github.com/aegisgrc/aegis-oss/pkg/storage"
)

// dueDays maps step severity to its remediation deadline in days. Severities
// outside the table get the most lenient deadline.
var dueDays = map[domain.Severity]int{
	domain.SeverityCritical: 1,
	domain.SeverityHigh:     7,
	domain.SeverityMedium:   14,
	domain.SeverityLow:      30,
}

const defaultDueDays = 30

// CreateOptions scope a new plan.
type CreateOptions struct {
	OrgID    string
	Title    string
	Assignee string
}

// StepUpdate carries the mutable fields of one step. Nil fields are left
// untouched.
type StepUpdate struct {
	Status             *domain.StepStatus
	Assignee           *string
	VerificationResult *bool
	VerifiedBy         string
}

// PlanUpdate carries the mutable fields of a plan.
type PlanUpdate struct {
	Status *domain.PlanStatus
	Title  *string
}

// Manager owns remediation plan state transitions.
type Manager struct {
	plans  storage.RemediationPlanStore
	logger *slog.Logger
	now    func() time.Time
}

// ManagerOptions configure Manager construction.
type ManagerOptions struct {
	Plans  storage.RemediationPlanStore
	Logger *slog.Logger
	Clock  func() time.Time
}

// NewManager constructs a Manager applying defaults for unset options.
func NewManager(opts ManagerOptions) *Manager {
	plans := opts.Plans
	if plans == nil {
		plans = storage.NewMemoryPlanStore()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Manager{plans: plans, logger: logger, now: clock}
}

// CreatePlan groups the violations by resource (insertion order), orders each
// resource's steps most-severe first, and derives plan priority and due date
// from the most severe violation present.
func (m *Manager) CreatePlan(ctx context.Context, violations []domain.Violation, opts CreateOptions) (*domain.RemediationPlan, error) {
	if len(violations) == 0 {
		return nil, fmt.Errorf("%w: a plan requires at least one violation", domain.ErrInvalidInput)
	}

	now := m.now().UTC()

	// Group by resource id, preserving first-seen resource order.
	var resourceOrder []string
	grouped := make(map[string][]domain.Violation)
	for _, v := range violations {
		if _, seen := grouped[v.ResourceID]; !seen {
			resourceOrder = append(resourceOrder, v.ResourceID)
		}
		grouped[v.ResourceID] = append(grouped[v.ResourceID], v)
	}

	steps := make([]domain.RemediationStep, 0, len(violations))
	for _, resourceID := range resourceOrder {
		group := grouped[resourceID]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Severity.Rank() < group[j].Severity.Rank()
		})
		for _, v := range group {
			steps = append(steps, m.buildStep(v, opts.Assignee, now))
		}
	}

	priority := planPriority(violations)

	plan := &domain.RemediationPlan{
		ID:         uuid.NewString(),
		OrgID:      opts.OrgID,
		Title:      opts.Title,
		Resources:  dedupe(collect(violations, func(v domain.Violation) []string { return []string{v.ResourceID} })),
		Frameworks: dedupe(collect(violations, frameworksOf)),
		Steps:      steps,
		Status:     domain.PlanOpen,
		Priority:   priority,
		Progress:   0,
		DueDate:    now.AddDate(0, 0, dueDaysFor(mostSevere(violations))),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if plan.Title == "" {
		plan.Title = fmt.Sprintf("Remediation plan for %d violation(s)", len(violations))
	}

	if err := m.plans.Save(ctx, plan); err != nil {
		return nil, err
	}
	m.logger.Info("remediation plan created",
		"plan_id", plan.ID, "steps", len(plan.Steps), "priority", plan.Priority)
	return plan, nil
}

// UpdateStep applies the update to one step and recomputes plan progress.
// Verification results only take effect on steps requiring verification; a
// failed verification always forces the step back to in_progress and clears
// its completion, regardless of prior state.
func (m *Manager) UpdateStep(ctx context.Context, planID, stepID string, update StepUpdate) (*domain.RemediationPlan, error) {
	plan, err := m.plans.Get(ctx, planID)
	if err != nil {
		return nil, err
	}

	idx := -1
	for i := range plan.Steps {
		if plan.Steps[i].ID == stepID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, domain.NewNotFound("remediation step", stepID)
	}

	now := m.now().UTC()
	step := &plan.Steps[idx]

	if update.Assignee != nil {
		step.Assignee = *update.Assignee
	}

	if update.Status != nil {
		step.Status = *update.Status
		if step.Status == domain.StepCompleted {
			stamp := now
			step.CompletedAt = &stamp
		} else {
			step.CompletedAt = nil
		}
	}

	if update.VerificationResult != nil && step.VerificationRequired {
		result := *update.VerificationResult
		step.VerificationResult = &result
		step.VerifiedBy = update.VerifiedBy
		stamp := now
		step.VerifiedAt = &stamp

		if !result {
			// Verification failure always reopens work.
			step.Status = domain.StepInProgress
			step.CompletedAt = nil
		}
	}

	step.UpdatedAt = now
	m.recomputeProgress(plan, now)
	plan.UpdatedAt = now

	if err := m.plans.Save(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// UpdatePlan applies plan-level updates (status, title).
func (m *Manager) UpdatePlan(ctx context.Context, planID string, update PlanUpdate) (*domain.RemediationPlan, error) {
	plan, err := m.plans.Get(ctx, planID)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	if update.Title != nil {
		plan.Title = *update.Title
	}
	if update.Status != nil {
		plan.Status = *update.Status
		if plan.Status == domain.PlanCompleted && plan.CompletedAt == nil {
			stamp := now
			plan.CompletedAt = &stamp
		}
	}
	plan.UpdatedAt = now

	if err := m.plans.Save(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// GetPlan returns one plan by id.
func (m *Manager) GetPlan(ctx context.Context, id string) (*domain.RemediationPlan, error) {
	return m.plans.Get(ctx, id)
}

// ListPlans returns plans, optionally filtered by status.
func (m *Manager) ListPlans(ctx context.Context, status domain.PlanStatus) ([]*domain.RemediationPlan, error) {
	all, err := m.plans.List(ctx)
	if err != nil {
		return nil, err
	}
	if status == "" {
		return all, nil
	}
	out := make([]*domain.RemediationPlan, 0, len(all))
	for _, p := range all {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Manager) buildStep(v domain.Violation, assignee string, now time.Time) domain.RemediationStep {
	description := v.Title
	if len(v.RemediationSteps) > 0 {
		description = v.RemediationSteps[0]
	}

	return domain.RemediationStep{
		ID:                   uuid.NewString(),
		ViolationID:          v.ID,
		ResourceID:           v.ResourceID,
		Severity:             v.Severity,
		Description:          description,
		Status:               domain.StepPending,
		Assignee:             assignee,
		DueDate:              now.AddDate(0, 0, dueDaysFor(v.Severity)),
		VerificationRequired: v.Severity == domain.SeverityCritical || v.Severity == domain.SeverityHigh,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// recomputeProgress refreshes the plan's completion percentage and
// auto-completes an open plan once every step reports completed.
func (m *Manager) recomputeProgress(plan *domain.RemediationPlan, now time.Time) {
	if len(plan.Steps) == 0 {
		plan.Progress = 0
		return
	}

	completed := 0
	for i := range plan.Steps {
		if plan.Steps[i].Status == domain.StepCompleted {
			completed++
		}
	}
	plan.Progress = int(math.Round(float64(completed) / float64(len(plan.Steps)) * 100))

	if plan.Progress == 100 && plan.Status == domain.PlanOpen {
		plan.Status = domain.PlanCompleted
		stamp := now
		plan.CompletedAt = &stamp
	}
}

func dueDaysFor(s domain.Severity) int {
	if days, ok := dueDays[s]; ok {
		return days
	}
	return defaultDueDays
}

// planPriority is the highest severity present among the violations,
// defaulting to low when none of critical/high/medium/low match.
func planPriority(violations []domain.Violation) domain.Severity {
	for _, s := range []domain.Severity{domain.SeverityCritical, domain.SeverityHigh, domain.SeverityMedium, domain.SeverityLow} {
		for _, v := range violations {
			if v.Severity == s {
				return s
			}
		}
	}
	return domain.SeverityLow
}

func mostSevere(violations []domain.Violation) domain.Severity {
	best := violations[0].Severity
	for _, v := range violations[1:] {
		if v.Severity.Rank() < best.Rank() {
			best = v.Severity
		}
	}
	return best
}

func frameworksOf(v domain.Violation) []string {
	out := make([]string, 0, len(v.Impacts))
	for _, impact := range v.Impacts {
		out = append(out, impact.Framework)
	}
	return out
}

func collect(violations []domain.Violation, f func(domain.Violation) []string) []string {
	var out []string
	for _, v := range violations {
		out = append(out, f(v)...)
	}
	return out
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
