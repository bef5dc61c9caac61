package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/aegisgrc/aegis-oss/pkg/classification"
	"github.com/aegisgrc/aegis-oss/pkg/domain"
	"github.com/aegisgrc/aegis-oss/pkg/policy"
)

func testEngine(t *testing.T) *policy.Engine {
	t.Helper()
	engine := policy.NewEngine(policy.EngineOptions{})
	_, err := engine.CreatePolicy(context.Background(), &domain.Policy{
		Name:        "Require MFA",
		Description: "All accounts must have MFA enabled",
		Category:    "Access Control",
		Severity:    domain.SeverityHigh,
		Frameworks:  []string{"SOC2"},
		Status:      domain.PolicyStatusActive,
		Enabled:     true,
		Rules: []domain.Rule{{
			Description: "MFA disabled",
			Conditions: []domain.Condition{{
				Field:    "mfa_enabled",
				Operator: domain.OpEquals,
				Value:    false,
			}},
			Actions: []domain.EnforcementAction{{Type: domain.ActionNotify}},
			Enabled: true,
		}},
	}, "tester")
	require.NoError(t, err)
	return engine
}

func TestValidateResource(t *testing.T) {
	ctx := context.Background()
	orch := NewOrchestrator(OrchestratorOptions{Engine: testEngine(t)})

	bad, err := orch.ValidateResource(ctx, "acct-1", "account",
		domain.EvalContext{"mfa_enabled": false}, Options{})
	require.NoError(t, err)
	require.False(t, bad.Compliant)
	require.Len(t, bad.Violations, 1)
	require.Equal(t, 85, bad.Score) // 100 - high severity weight

	// The detected violation is retrievable by id.
	stored, err := orch.GetViolation(ctx, bad.Violations[0].ID)
	require.NoError(t, err)
	require.Equal(t, "acct-1", stored.ResourceID)

	good, err := orch.ValidateResource(ctx, "acct-2", "account",
		domain.EvalContext{"mfa_enabled": true}, Options{})
	require.NoError(t, err)
	require.True(t, good.Compliant)
	require.Equal(t, 100, good.Score)
	require.Empty(t, good.Violations)

	_, err = orch.ValidateResource(ctx, "", "account", nil, Options{})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestValidateResourceCaching(t *testing.T) {
	ctx := context.Background()
	orch := NewOrchestrator(OrchestratorOptions{Engine: testEngine(t)})

	evalCtx := domain.EvalContext{"mfa_enabled": false, "org_id": "org-1"}

	first, err := orch.ValidateResource(ctx, "acct-1", "account", evalCtx, Options{})
	require.NoError(t, err)
	second, err := orch.ValidateResource(ctx, "acct-1", "account", evalCtx, Options{})
	require.NoError(t, err)
	require.Same(t, first, second)

	fresh, err := orch.ValidateResource(ctx, "acct-1", "account", evalCtx, Options{SkipCache: true})
	require.NoError(t, err)
	require.NotSame(t, first, fresh)

	// A different org scope is a different cache entry.
	otherScope, err := orch.ValidateResource(ctx, "acct-1", "account",
		domain.EvalContext{"mfa_enabled": false, "org_id": "org-2"}, Options{})
	require.NoError(t, err)
	require.NotSame(t, first, otherScope)

	orch.ClearResourceCache("acct-1")
	third, err := orch.ValidateResource(ctx, "acct-1", "account", evalCtx, Options{})
	require.NoError(t, err)
	require.NotSame(t, fresh, third)
}

func TestValidateResourceClassification(t *testing.T) {
	ctx := context.Background()
	classifier := classification.NewStaticProvider()
	classifier.Set("db-classified", classification.Classification{Level: "confidential", ContainsPII: true})

	orch := NewOrchestrator(OrchestratorOptions{
		Engine:     testEngine(t),
		Classifier: classifier,
	})
	opts := Options{ValidateDataClassification: true}
	compliantCtx := domain.EvalContext{"mfa_enabled": true}

	missing, err := orch.ValidateResource(ctx, "db-unclassified", "database", compliantCtx, opts)
	require.NoError(t, err)
	require.False(t, missing.Compliant)
	require.Len(t, missing.Violations, 1)

	v := missing.Violations[0]
	require.Equal(t, domain.SeverityHigh, v.Severity)
	require.Equal(t, "Data Protection", v.Category)
	require.Equal(t, "Missing data classification", v.Title)
	require.Equal(t, 70, v.RiskScore)

	classified, err := orch.ValidateResource(ctx, "db-classified", "database", compliantCtx, opts)
	require.NoError(t, err)
	require.True(t, classified.Compliant)

	// Types outside the data-store allow-list never require classification.
	vm, err := orch.ValidateResource(ctx, "vm-1", "virtual_machine", compliantCtx, opts)
	require.NoError(t, err)
	require.True(t, vm.Compliant)
}

func TestValidateResourcesBatch(t *testing.T) {
	ctx := context.Background()
	orch := NewOrchestrator(OrchestratorOptions{Engine: testEngine(t)})

	_, err := orch.ValidateResources(ctx, nil, nil, Options{})
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	empty, err := orch.ValidateResources(ctx, []ResourceRef{}, nil, Options{})
	require.NoError(t, err)
	require.Empty(t, empty)

	// A failing resource (empty id) is omitted; the rest still validate.
	results, err := orch.ValidateResources(ctx, []ResourceRef{
		{ID: "acct-1", Type: "account"},
		{ID: "", Type: "account"},
		{ID: "acct-2", Type: "account"},
	}, domain.EvalContext{"mfa_enabled": true}, Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Cancellation between iterations returns partial results.
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	partial, err := orch.ValidateResources(cancelled, []ResourceRef{
		{ID: "acct-3", Type: "account"},
	}, domain.EvalContext{"mfa_enabled": true}, Options{})
	require.NoError(t, err)
	require.Empty(t, partial)
}

func TestUpdateViolationStatus(t *testing.T) {
	ctx := context.Background()
	orch := NewOrchestrator(OrchestratorOptions{Engine: testEngine(t)})

	result, err := orch.ValidateResource(ctx, "acct-1", "account",
		domain.EvalContext{"mfa_enabled": false}, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, result.Violations)

	id := result.Violations[0].ID
	updated, err := orch.UpdateViolationStatus(ctx, id, domain.ViolationAcknowledged, "analyst")
	require.NoError(t, err)
	require.Equal(t, domain.ViolationAcknowledged, updated.Status)
	require.Len(t, updated.AuditTrail, 1)
	require.Equal(t, "violation.status.acknowledged", updated.AuditTrail[0].Action)
	require.Equal(t, "analyst", updated.AuditTrail[0].Actor)

	_, err = orch.UpdateViolationStatus(ctx, "missing", domain.ViolationRemediated, "analyst")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStatistics(t *testing.T) {
	ctx := context.Background()
	orch := NewOrchestrator(OrchestratorOptions{Engine: testEngine(t)})

	_, err := orch.ValidateResource(ctx, "acct-1", "account", domain.EvalContext{"mfa_enabled": true}, Options{})
	require.NoError(t, err)
	_, err = orch.ValidateResource(ctx, "acct-2", "account", domain.EvalContext{"mfa_enabled": false}, Options{})
	require.NoError(t, err)

	stats := orch.Statistics()
	require.Equal(t, 2, stats.TotalValidations)
	require.Equal(t, 1, stats.CompliantCount)
	require.Equal(t, 1, stats.ViolationsBySeverity[domain.SeverityHigh])
	require.InDelta(t, 92.5, stats.AverageScore, 0.001)

	require.Len(t, orch.History(), 2)
}

// Adding violations never raises the score, and the score stays within
// [0, 100].
func TestScoreMonotonicity(t *testing.T) {
	severities := []domain.Severity{
		domain.SeverityCritical, domain.SeverityHigh, domain.SeverityMedium,
		domain.SeverityLow, domain.SeverityInfo,
	}

	rapid.Check(t, func(t *rapid.T) {
		drawn := rapid.SliceOfN(rapid.SampledFrom(severities), 0, 20).Draw(t, "severities")

		violations := make([]domain.Violation, len(drawn))
		for i, s := range drawn {
			violations[i].Severity = s
		}

		prev := 100
		for i := 0; i <= len(violations); i++ {
			got := score(violations[:i])
			require.LessOrEqual(t, got, prev)
			require.GreaterOrEqual(t, got, 0)
			require.LessOrEqual(t, got, 100)
			prev = got
		}
	})
}
