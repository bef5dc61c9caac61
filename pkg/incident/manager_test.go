package incident

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aegisgrc/aegis-oss/pkg/domain"
	"github.com/aegisgrc/aegis-oss/pkg/notify"
)

// recordingNotifier captures messages instead of delivering them.
type recordingNotifier struct {
	sent []notify.Message
}

func (n *recordingNotifier) Send(_ context.Context, msg notify.Message) error {
	n.sent = append(n.sent, msg)
	return nil
}

func testIncidentManager() (*Manager, *recordingNotifier) {
	notifier := &recordingNotifier{}
	m := NewManager(ManagerOptions{Notifier: notifier})
	return m, notifier
}

func TestCreateIncidentFromViolation(t *testing.T) {
	ctx := context.Background()
	m, notifier := testIncidentManager()

	v := domain.Violation{
		ID:         "viol-1",
		PolicyID:   "pol-1",
		Severity:   domain.SeverityCritical,
		Title:      "Admin account without MFA",
		Category:   "Access Control",
		ResourceID: "acct-7",
		Impacts:    []domain.ComplianceImpact{{Framework: "GDPR", RequiresReporting: true}},
	}

	inc, err := m.CreateIncidentFromViolation(ctx, v)
	require.NoError(t, err)
	require.Equal(t, domain.IncidentUnauthorizedAccess, inc.Type)
	require.Equal(t, domain.SeverityCritical, inc.Severity)
	require.Equal(t, domain.IncidentOpen, inc.Status)
	require.Equal(t, "policy_engine", inc.Source)
	require.Equal(t, "viol-1", inc.ViolationID)
	require.Equal(t, "acct-7", inc.ResourceID)
	require.True(t, inc.DataExposure) // Access Control implies exposure
	require.Equal(t, 1, inc.EscalationLevel)
	require.Len(t, inc.ComplianceImpacts, 1)
	require.NotEmpty(t, inc.AuditTrail)

	// Creation notifications were dispatched and recorded on the incident.
	require.NotEmpty(t, notifier.sent)
	require.Len(t, inc.Notifications, len(notifier.sent))

	// An uncategorised violation becomes a policy_violation without exposure.
	plain, err := m.CreateIncidentFromViolation(ctx, domain.Violation{
		ID:       "viol-2",
		Severity: domain.SeverityLow,
		Title:    "Tag missing",
		Category: "Resource Hygiene",
	})
	require.NoError(t, err)
	require.Equal(t, domain.IncidentPolicyViolation, plain.Type)
	require.False(t, plain.DataExposure)

	_, err = m.CreateIncidentFromViolation(ctx, domain.Violation{})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCreateIncidentFromViolationTriggersRemediation(t *testing.T) {
	ctx := context.Background()
	remediator := NewAutoRemediator(AutoRemediatorOptions{})
	_, err := remediator.CreateRule(ctx, &domain.AutoRemediationRule{
		Name:              "disable on unauthorized access",
		IncidentTypes:     []domain.IncidentType{domain.IncidentUnauthorizedAccess},
		SeverityThreshold: domain.SeverityHigh,
		Actions:           []domain.AutoRemediationAction{{Type: domain.AutoActionDisableUser}},
		Enabled:           true,
	})
	require.NoError(t, err)

	m := NewManager(ManagerOptions{Remediator: remediator})

	inc, err := m.CreateIncidentFromViolation(ctx, domain.Violation{
		ID:       "viol-1",
		Severity: domain.SeverityCritical,
		Title:    "Privilege escalation",
		Category: "Access Control",
	})
	require.NoError(t, err)
	require.Len(t, inc.RemediationActions, 1)
	require.Equal(t, "completed", inc.RemediationActions[0].Status)

	// The remediation record is persisted, not just returned.
	stored, err := m.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, stored.RemediationActions, 1)
}

func TestIncidentLifecycleTransitions(t *testing.T) {
	ctx := context.Background()
	m, _ := testIncidentManager()

	inc, err := m.CreateIncident(ctx, &domain.Incident{
		Title:    "Suspicious logins",
		Severity: domain.SeverityHigh,
		Type:     domain.IncidentUnauthorizedAccess,
	}, "analyst")
	require.NoError(t, err)
	require.Equal(t, domain.IncidentOpen, inc.Status)

	investigating := domain.IncidentInvestigating
	inc, err = m.UpdateIncident(ctx, inc.ID, IncidentUpdate{Status: &investigating}, "analyst")
	require.NoError(t, err)
	require.NotNil(t, inc.AcknowledgedAt)
	firstAck := *inc.AcknowledgedAt

	contained := domain.IncidentContained
	inc, err = m.UpdateIncident(ctx, inc.ID, IncidentUpdate{Status: &contained}, "analyst")
	require.NoError(t, err)
	require.NotNil(t, inc.ContainedAt)
	require.Equal(t, firstAck, *inc.AcknowledgedAt)

	// Backwards moves are rejected.
	backwards := domain.IncidentInvestigating
	_, err = m.UpdateIncident(ctx, inc.ID, IncidentUpdate{Status: &backwards}, "analyst")
	require.ErrorIs(t, err, domain.ErrValidation)

	resolved := domain.IncidentResolved
	inc, err = m.UpdateIncident(ctx, inc.ID, IncidentUpdate{Status: &resolved}, "analyst")
	require.NoError(t, err)
	require.NotNil(t, inc.ResolvedAt)

	closed := domain.IncidentClosed
	inc, err = m.UpdateIncident(ctx, inc.ID, IncidentUpdate{Status: &closed}, "analyst")
	require.NoError(t, err)
	require.NotNil(t, inc.ClosedAt)

	// A closed incident cannot become a false positive.
	falsePositive := domain.IncidentFalsePositive
	_, err = m.UpdateIncident(ctx, inc.ID, IncidentUpdate{Status: &falsePositive}, "analyst")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestIncidentFalsePositiveFromAnyOpenState(t *testing.T) {
	ctx := context.Background()
	m, _ := testIncidentManager()

	inc, err := m.CreateIncident(ctx, &domain.Incident{
		Title:    "Noise",
		Severity: domain.SeverityLow,
	}, "analyst")
	require.NoError(t, err)

	falsePositive := domain.IncidentFalsePositive
	inc, err = m.UpdateIncident(ctx, inc.ID, IncidentUpdate{Status: &falsePositive}, "analyst")
	require.NoError(t, err)
	require.Equal(t, domain.IncidentFalsePositive, inc.Status)
}

func TestIncidentSkippedStateStampsOnlyTarget(t *testing.T) {
	ctx := context.Background()
	m, _ := testIncidentManager()

	inc, err := m.CreateIncident(ctx, &domain.Incident{
		Title:    "Fast containment",
		Severity: domain.SeverityMedium,
	}, "analyst")
	require.NoError(t, err)

	// Jumping straight to contained stamps ContainedAt but never
	// AcknowledgedAt.
	contained := domain.IncidentContained
	inc, err = m.UpdateIncident(ctx, inc.ID, IncidentUpdate{Status: &contained}, "analyst")
	require.NoError(t, err)
	require.NotNil(t, inc.ContainedAt)
	require.Nil(t, inc.AcknowledgedAt)
}

func TestAssignAndEscalateIncident(t *testing.T) {
	ctx := context.Background()
	m, notifier := testIncidentManager()

	inc, err := m.CreateIncident(ctx, &domain.Incident{
		Title:    "Key leak",
		Severity: domain.SeverityCritical,
	}, "analyst")
	require.NoError(t, err)

	inc, err = m.AssignIncident(ctx, inc.ID, "oncall", "lead")
	require.NoError(t, err)
	require.Equal(t, "oncall", inc.AssignedTo)
	require.Equal(t, "oncall", notifier.sent[len(notifier.sent)-1].Recipient)

	_, err = m.AssignIncident(ctx, inc.ID, "", "lead")
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	before := len(notifier.sent)
	inc, err = m.EscalateIncident(ctx, inc.ID, 3, "lead", "active exfiltration")
	require.NoError(t, err)
	require.Equal(t, 3, inc.EscalationLevel)
	// Level 3 notifies the full roster.
	require.Equal(t, before+3, len(notifier.sent))

	// Re-requesting the current level succeeds without another fan-out, and
	// levels past the cap clamp down to it.
	atLevel := len(notifier.sent)
	inc, err = m.EscalateIncident(ctx, inc.ID, 3, "lead", "still level 3")
	require.NoError(t, err)
	require.Equal(t, 3, inc.EscalationLevel)
	inc, err = m.EscalateIncident(ctx, inc.ID, 5, "lead", "everything is on fire")
	require.NoError(t, err)
	require.Equal(t, 3, inc.EscalationLevel)
	require.Equal(t, atLevel, len(notifier.sent))

	// Escalation only goes up.
	_, err = m.EscalateIncident(ctx, inc.ID, 2, "lead", "nope")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestAddEvidence(t *testing.T) {
	ctx := context.Background()
	m, _ := testIncidentManager()

	inc, err := m.CreateIncident(ctx, &domain.Incident{
		Title:    "Odd process tree",
		Severity: domain.SeverityMedium,
	}, "analyst")
	require.NoError(t, err)

	auditBefore := len(inc.AuditTrail)
	inc, err = m.AddEvidence(ctx, inc.ID, "process dump", "s3://evidence/dump-1", "analyst")
	require.NoError(t, err)
	require.Len(t, inc.Evidence, 1)
	require.Equal(t, "process dump", inc.Evidence[0].Description)
	require.Equal(t, "s3://evidence/dump-1", inc.Evidence[0].Reference)
	require.Len(t, inc.AuditTrail, auditBefore+1)

	_, err = m.AddEvidence(ctx, inc.ID, "", "", "analyst")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestListIncidentsAndStatistics(t *testing.T) {
	ctx := context.Background()
	m, _ := testIncidentManager()

	mk := func(title string, sev domain.Severity, typ domain.IncidentType) *domain.Incident {
		inc, err := m.CreateIncident(ctx, &domain.Incident{Title: title, Severity: sev, Type: typ}, "t")
		require.NoError(t, err)
		return inc
	}
	mk("a", domain.SeverityHigh, domain.IncidentDataBreach)
	mk("b", domain.SeverityLow, domain.IncidentPolicyViolation)
	closedInc := mk("c", domain.SeverityLow, domain.IncidentPolicyViolation)

	closed := domain.IncidentClosed
	_, err := m.UpdateIncident(ctx, closedInc.ID, IncidentUpdate{Status: &closed}, "t")
	require.NoError(t, err)

	breaches, err := m.ListIncidents(ctx, Filter{Type: domain.IncidentDataBreach})
	require.NoError(t, err)
	require.Len(t, breaches, 1)

	open, err := m.ListIncidents(ctx, Filter{Status: domain.IncidentOpen})
	require.NoError(t, err)
	require.Len(t, open, 2)

	stats, err := m.GetStatistics(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Total)
	require.Equal(t, 2, stats.Open)
	require.Equal(t, 2, stats.ByType[domain.IncidentPolicyViolation])
	require.Equal(t, 1, stats.BySeverity[domain.SeverityHigh])
}

func TestCreateIncidentValidation(t *testing.T) {
	ctx := context.Background()
	m, _ := testIncidentManager()

	_, err := m.CreateIncident(ctx, &domain.Incident{Severity: domain.SeverityLow}, "t")
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = m.CreateIncident(ctx, &domain.Incident{Title: "x", Severity: "huge"}, "t")
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	inc, err := m.CreateIncident(ctx, &domain.Incident{Title: "x", Severity: domain.SeverityLow}, "t")
	require.NoError(t, err)
	require.Equal(t, domain.IncidentPolicyViolation, inc.Type)
	require.False(t, inc.CreatedAt.IsZero())
	require.True(t, time.Since(inc.CreatedAt) < time.Minute)
}
