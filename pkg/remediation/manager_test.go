package remediation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/aegisgrc/aegis-oss/pkg/domain"
)

var fixedNow = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func testManager() *Manager {
	return NewManager(ManagerOptions{Clock: func() time.Time { return fixedNow }})
}

func violation(id, resource string, severity domain.Severity) domain.Violation {
	return domain.Violation{
		ID:         id,
		ResourceID: resource,
		Severity:   severity,
		Title:      "violation " + id,
		Impacts:    []domain.ComplianceImpact{{Framework: "SOC2", ImpactLevel: severity}},
	}
}

func TestCreatePlanOrderingAndDueDates(t *testing.T) {
	ctx := context.Background()
	m := testManager()

	plan, err := m.CreatePlan(ctx, []domain.Violation{
		violation("v1", "db-1", domain.SeverityLow),
		violation("v2", "db-2", domain.SeverityCritical),
		violation("v3", "db-1", domain.SeverityHigh),
	}, CreateOptions{OrgID: "org-1"})
	require.NoError(t, err)

	// Resources group in first-seen order; inside a group most severe first.
	require.Equal(t, []string{"db-1", "db-2"}, plan.Resources)
	require.Len(t, plan.Steps, 3)
	require.Equal(t, "v3", plan.Steps[0].ViolationID)
	require.Equal(t, "v1", plan.Steps[1].ViolationID)
	require.Equal(t, "v2", plan.Steps[2].ViolationID)

	// Plan priority and due date derive from the most severe violation.
	require.Equal(t, domain.SeverityCritical, plan.Priority)
	require.Equal(t, fixedNow.AddDate(0, 0, 1), plan.DueDate)

	// Step due dates follow each step's own severity.
	require.Equal(t, fixedNow.AddDate(0, 0, 7), plan.Steps[0].DueDate)
	require.Equal(t, fixedNow.AddDate(0, 0, 30), plan.Steps[1].DueDate)
	require.Equal(t, fixedNow.AddDate(0, 0, 1), plan.Steps[2].DueDate)

	// Verification only for critical and high severity steps.
	require.True(t, plan.Steps[0].VerificationRequired)
	require.False(t, plan.Steps[1].VerificationRequired)
	require.True(t, plan.Steps[2].VerificationRequired)

	require.Equal(t, domain.PlanOpen, plan.Status)
	require.Equal(t, 0, plan.Progress)
	require.Equal(t, []string{"SOC2"}, plan.Frameworks)
}

func TestCreatePlanRejectsEmpty(t *testing.T) {
	_, err := testManager().CreatePlan(context.Background(), nil, CreateOptions{})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestUpdateStepProgressAndAutoComplete(t *testing.T) {
	ctx := context.Background()
	m := testManager()

	plan, err := m.CreatePlan(ctx, []domain.Violation{
		violation("v1", "db-1", domain.SeverityMedium),
		violation("v2", "db-1", domain.SeverityMedium),
	}, CreateOptions{})
	require.NoError(t, err)

	completed := domain.StepCompleted
	plan, err = m.UpdateStep(ctx, plan.ID, plan.Steps[0].ID, StepUpdate{Status: &completed})
	require.NoError(t, err)
	require.Equal(t, 50, plan.Progress)
	require.Equal(t, domain.PlanOpen, plan.Status)
	require.NotNil(t, plan.Steps[0].CompletedAt)

	plan, err = m.UpdateStep(ctx, plan.ID, plan.Steps[1].ID, StepUpdate{Status: &completed})
	require.NoError(t, err)
	require.Equal(t, 100, plan.Progress)
	require.Equal(t, domain.PlanCompleted, plan.Status)
	require.NotNil(t, plan.CompletedAt)
}

func TestSingleStepPlanAutoCompletes(t *testing.T) {
	ctx := context.Background()
	m := testManager()

	plan, err := m.CreatePlan(ctx, []domain.Violation{
		violation("v1", "db-1", domain.SeverityLow),
	}, CreateOptions{})
	require.NoError(t, err)

	completed := domain.StepCompleted
	plan, err = m.UpdateStep(ctx, plan.ID, plan.Steps[0].ID, StepUpdate{Status: &completed})
	require.NoError(t, err)
	require.Equal(t, 100, plan.Progress)
	require.Equal(t, domain.PlanCompleted, plan.Status)
}

func TestFailedVerificationReopensStep(t *testing.T) {
	ctx := context.Background()
	m := testManager()

	plan, err := m.CreatePlan(ctx, []domain.Violation{
		violation("v1", "db-1", domain.SeverityCritical),
	}, CreateOptions{})
	require.NoError(t, err)
	require.True(t, plan.Steps[0].VerificationRequired)

	// Complete the step, then fail its verification in the same update.
	completed := domain.StepCompleted
	failed := false
	plan, err = m.UpdateStep(ctx, plan.ID, plan.Steps[0].ID, StepUpdate{
		Status:             &completed,
		VerificationResult: &failed,
		VerifiedBy:         "auditor",
	})
	require.NoError(t, err)

	step := plan.Steps[0]
	require.Equal(t, domain.StepInProgress, step.Status)
	require.Nil(t, step.CompletedAt)
	require.NotNil(t, step.VerificationResult)
	require.False(t, *step.VerificationResult)
	require.Equal(t, "auditor", step.VerifiedBy)

	// The plan never auto-completed.
	require.Equal(t, 0, plan.Progress)
	require.Equal(t, domain.PlanOpen, plan.Status)

	// A passing verification leaves completion in place.
	passed := true
	plan, err = m.UpdateStep(ctx, plan.ID, step.ID, StepUpdate{
		Status:             &completed,
		VerificationResult: &passed,
		VerifiedBy:         "auditor",
	})
	require.NoError(t, err)
	require.Equal(t, domain.StepCompleted, plan.Steps[0].Status)
	require.Equal(t, domain.PlanCompleted, plan.Status)
}

func TestVerificationIgnoredWhenNotRequired(t *testing.T) {
	ctx := context.Background()
	m := testManager()

	plan, err := m.CreatePlan(ctx, []domain.Violation{
		violation("v1", "db-1", domain.SeverityLow),
	}, CreateOptions{})
	require.NoError(t, err)
	require.False(t, plan.Steps[0].VerificationRequired)

	completed := domain.StepCompleted
	failed := false
	plan, err = m.UpdateStep(ctx, plan.ID, plan.Steps[0].ID, StepUpdate{
		Status:             &completed,
		VerificationResult: &failed,
	})
	require.NoError(t, err)
	require.Equal(t, domain.StepCompleted, plan.Steps[0].Status)
	require.Nil(t, plan.Steps[0].VerificationResult)
}

func TestUpdateStepNotFound(t *testing.T) {
	ctx := context.Background()
	m := testManager()

	plan, err := m.CreatePlan(ctx, []domain.Violation{
		violation("v1", "db-1", domain.SeverityLow),
	}, CreateOptions{})
	require.NoError(t, err)

	_, err = m.UpdateStep(ctx, "missing-plan", plan.Steps[0].ID, StepUpdate{})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = m.UpdateStep(ctx, plan.ID, "missing-step", StepUpdate{})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

// A more severe worst violation never yields a later plan due date.
func TestDueDateMonotonicity(t *testing.T) {
	severities := []domain.Severity{
		domain.SeverityCritical, domain.SeverityHigh, domain.SeverityMedium,
		domain.SeverityLow, domain.SeverityInfo,
	}

	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		m := testManager()

		drawn := rapid.SliceOfN(rapid.SampledFrom(severities), 1, 8).Draw(t, "severities")
		extra := rapid.SampledFrom(severities).Draw(t, "extra")

		violations := make([]domain.Violation, len(drawn))
		for i, s := range drawn {
			violations[i] = violation("v", "r", s)
		}

		base, err := m.CreatePlan(ctx, violations, CreateOptions{})
		require.NoError(t, err)

		widened, err := m.CreatePlan(ctx, append(violations, violation("vx", "r", extra)), CreateOptions{})
		require.NoError(t, err)

		require.False(t, widened.DueDate.After(base.DueDate))
	})
}
