// Package incident tracks security incidents through their lifecycle and runs
// automated remediation rules against them.
package incident

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aegisgrc/aegis-oss/pkg/domain"
	"github.com/aegisgrc/aegis-oss/pkg/notify"
	"github.com/aegisgrc/aegis-oss/pkg/storage"
	"github.com/aegisgrc/aegis-oss/pkg/telemetry"
)

// categoryTypes maps a violation category to the incident type it escalates
// into. Categories outside the table become policy_violation.
var categoryTypes = map[string]domain.IncidentType{
	"Access Control":  domain.IncidentUnauthorizedAccess,
	"Data Protection": domain.IncidentDataBreach,
	"Insider Threat":  domain.IncidentInsiderThreat,
	"Malware":         domain.IncidentMalware,
}

// exposureCategories are violation categories that imply potential data
// exposure when escalated.
var exposureCategories = map[string]struct{}{
	"Data Protection": {},
	"Encryption":      {},
	"Access Control":  {},
}

// escalationRecipients is the fixed notification roster per escalation level.
// Levels above the table reuse the highest configured roster.
var escalationRecipients = map[int][]string{
	1: {"security-team"},
	2: {"security-team", "security-lead"},
	3: {"security-team", "security-lead", "ciso"},
}

const maxEscalationLevel = 3

// statusOrder positions each lifecycle state on the forward-only chain.
// false_positive sits outside the chain and is reachable from any state but
// closed.
var statusOrder = map[domain.IncidentStatus]int{
	domain.IncidentOpen:          0,
	domain.IncidentInvestigating: 1,
	domain.IncidentContained:     2,
	domain.IncidentResolved:      3,
	domain.IncidentClosed:        4,
}

// IncidentUpdate carries the mutable fields of an incident. Nil fields are
// left untouched.
type IncidentUpdate struct {
	Status      *domain.IncidentStatus
	Severity    *domain.Severity
	Description *string
}

// Filter narrows ListIncidents. Zero values match everything.
type Filter struct {
	Status   domain.IncidentStatus
	Type     domain.IncidentType
	Severity domain.Severity
}

// Statistics aggregates the incident population.
type Statistics struct {
	Total        int                           `json:"total"`
	Open         int                           `json:"open"`
	DataExposure int                           `json:"data_exposure"`
	ByStatus     map[domain.IncidentStatus]int `json:"by_status"`
	ByType       map[domain.IncidentType]int   `json:"by_type"`
	BySeverity   map[domain.Severity]int       `json:"by_severity"`
}

// ManagerOptions configure Manager construction.
type ManagerOptions struct {
	Incidents  storage.IncidentStore
	Remediator *AutoRemediator
	Notifier   notify.Notifier
	Logger     *slog.Logger
	Metrics    *telemetry.Metrics
	Clock      func() time.Time
}

// Manager owns incident lifecycle state, escalation, and the handoff into
// automated remediation.
type Manager struct {
	incidents  storage.IncidentStore
	remediator *AutoRemediator
	notifier   notify.Notifier
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	now        func() time.Time
}

// NewManager constructs a Manager applying defaults for unset options.
func NewManager(opts ManagerOptions) *Manager {
	incidents := opts.Incidents
	if incidents == nil {
		incidents = storage.NewMemoryIncidentStore()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	remediator := opts.Remediator
	if remediator == nil {
		remediator = NewAutoRemediator(AutoRemediatorOptions{Logger: logger, Metrics: opts.Metrics})
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		incidents:  incidents,
		remediator: remediator,
		notifier:   notifier,
		logger:     logger,
		metrics:    opts.Metrics,
		now:        clock,
	}
}

// CreateIncident records a manually reported incident. Type and severity must
// already be set by the caller.
func (m *Manager) CreateIncident(ctx context.Context, inc *domain.Incident, actor string) (*domain.Incident, error) {
	if inc == nil || inc.Title == "" {
		return nil, fmt.Errorf("%w: an incident requires a title", domain.ErrInvalidInput)
	}
	if !inc.Severity.Valid() {
		return nil, fmt.Errorf("%w: unknown severity %q", domain.ErrInvalidInput, inc.Severity)
	}

	now := m.now().UTC()
	created := inc.Clone()
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	if created.Type == "" {
		created.Type = domain.IncidentPolicyViolation
	}
	created.Status = domain.IncidentOpen
	created.CreatedAt = now
	created.UpdatedAt = now
	created.AuditTrail = append(created.AuditTrail, m.audit("incident.created", actor, created.Title))

	if err := m.incidents.Save(ctx, created); err != nil {
		return nil, err
	}
	m.metrics.RecordIncident(string(created.Type), string(created.Severity))
	m.logger.Info("incident created",
		"incident_id", created.ID, "type", created.Type, "severity", created.Severity)
	return created.Clone(), nil
}

// CreateIncidentFromViolation escalates a violation into an incident, mapping
// its category to an incident type and flagging data exposure for exposure
// categories. Matching auto-remediation rules and initial notifications run
// before the incident is returned.
func (m *Manager) CreateIncidentFromViolation(ctx context.Context, v domain.Violation) (*domain.Incident, error) {
	if v.ID == "" {
		return nil, fmt.Errorf("%w: violation has no id", domain.ErrInvalidInput)
	}

	incType, ok := categoryTypes[v.Category]
	if !ok {
		incType = domain.IncidentPolicyViolation
	}
	_, exposure := exposureCategories[v.Category]

	now := m.now().UTC()
	inc := &domain.Incident{
		ID:                uuid.NewString(),
		Type:              incType,
		Severity:          v.Severity,
		Status:            domain.IncidentOpen,
		Title:             v.Title,
		Description:       v.Description,
		Source:            "policy_engine",
		PolicyID:          v.PolicyID,
		ViolationID:       v.ID,
		ResourceID:        v.ResourceID,
		EscalationLevel:   1,
		ImpactLevel:       v.Severity,
		DataExposure:      exposure,
		ComplianceImpacts: append([]domain.ComplianceImpact(nil), v.Impacts...),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	inc.AuditTrail = append(inc.AuditTrail,
		m.audit("incident.created", "policy_engine", fmt.Sprintf("escalated from violation %s", v.ID)))

	if err := m.incidents.Save(ctx, inc); err != nil {
		return nil, err
	}
	m.metrics.RecordIncident(string(inc.Type), string(inc.Severity))
	m.logger.Info("incident created from violation",
		"incident_id", inc.ID, "violation_id", v.ID, "type", inc.Type, "severity", inc.Severity)

	// Automated remediation and notification dispatch happen before the
	// caller sees the incident; their records land on it.
	if records := m.remediator.Trigger(ctx, inc); len(records) > 0 {
		inc.RemediationActions = append(inc.RemediationActions, records...)
	}
	m.dispatch(ctx, inc, escalationRecipients[inc.EscalationLevel],
		fmt.Sprintf("New %s incident: %s", inc.Severity, inc.Title))

	inc.UpdatedAt = m.now().UTC()
	if err := m.incidents.Save(ctx, inc); err != nil {
		return nil, err
	}
	return inc.Clone(), nil
}

// UpdateIncident applies the update, validating status transitions against the
// forward-only lifecycle and stamping each transition timestamp exactly once.
// Every call appends exactly one audit entry.
func (m *Manager) UpdateIncident(ctx context.Context, id string, update IncidentUpdate, actor string) (*domain.Incident, error) {
	inc, err := m.incidents.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	var changes []string

	if update.Status != nil && *update.Status != inc.Status {
		next := *update.Status
		if err := validateTransition(inc.Status, next); err != nil {
			return nil, err
		}
		changes = append(changes, fmt.Sprintf("status %s -> %s", inc.Status, next))
		inc.Status = next
		m.stampTransition(inc, next, now)

		if inc.AssignedTo != "" {
			m.dispatch(ctx, inc, []string{inc.AssignedTo},
				fmt.Sprintf("Incident %s moved to %s", inc.ID, next))
		}
	}

	if update.Severity != nil && *update.Severity != inc.Severity {
		if !update.Severity.Valid() {
			return nil, fmt.Errorf("%w: unknown severity %q", domain.ErrInvalidInput, *update.Severity)
		}
		changes = append(changes, fmt.Sprintf("severity %s -> %s", inc.Severity, *update.Severity))
		inc.Severity = *update.Severity
	}

	if update.Description != nil {
		inc.Description = *update.Description
		changes = append(changes, "description updated")
	}

	if len(changes) == 0 {
		changes = append(changes, "no-op update")
	}
	inc.AuditTrail = append(inc.AuditTrail, m.audit("incident.updated", actor, strings.Join(changes, "; ")))
	inc.UpdatedAt = now

	if err := m.incidents.Save(ctx, inc); err != nil {
		return nil, err
	}
	return inc.Clone(), nil
}

// AssignIncident sets the assignee and notifies them.
func (m *Manager) AssignIncident(ctx context.Context, id, assignee, actor string) (*domain.Incident, error) {
	if assignee == "" {
		return nil, fmt.Errorf("%w: assignee is required", domain.ErrInvalidInput)
	}
	inc, err := m.incidents.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	inc.AssignedTo = assignee
	inc.AuditTrail = append(inc.AuditTrail,
		m.audit("incident.assigned", actor, fmt.Sprintf("assigned to %s", assignee)))
	inc.UpdatedAt = m.now().UTC()

	m.dispatch(ctx, inc, []string{assignee},
		fmt.Sprintf("Incident %s assigned to you: %s", inc.ID, inc.Title))

	if err := m.incidents.Save(ctx, inc); err != nil {
		return nil, err
	}
	return inc.Clone(), nil
}

// EscalateIncident raises the escalation level and notifies the fixed roster
// for that level. Levels only go up; re-requesting the current level is a
// no-op.
func (m *Manager) EscalateIncident(ctx context.Context, id string, level int, actor, reason string) (*domain.Incident, error) {
	inc, err := m.incidents.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if level > maxEscalationLevel {
		level = maxEscalationLevel
	}
	if level == inc.EscalationLevel {
		return inc.Clone(), nil
	}
	if level < inc.EscalationLevel {
		return nil, fmt.Errorf("%w: escalation level must exceed current level %d",
			domain.ErrValidation, inc.EscalationLevel)
	}

	inc.EscalationLevel = level
	inc.AuditTrail = append(inc.AuditTrail,
		m.audit("incident.escalated", actor, fmt.Sprintf("level %d: %s", level, reason)))
	inc.UpdatedAt = m.now().UTC()

	m.dispatch(ctx, inc, escalationRecipients[level],
		fmt.Sprintf("Incident %s escalated to level %d: %s", inc.ID, level, reason))

	if err := m.incidents.Save(ctx, inc); err != nil {
		return nil, err
	}
	m.logger.Warn("incident escalated",
		"incident_id", inc.ID, "level", level, "reason", reason)
	return inc.Clone(), nil
}

// AddEvidence attaches an investigation artifact to the incident.
func (m *Manager) AddEvidence(ctx context.Context, id, description, reference, actor string) (*domain.Incident, error) {
	if description == "" {
		return nil, fmt.Errorf("%w: evidence requires a description", domain.ErrInvalidInput)
	}
	inc, err := m.incidents.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	inc.Evidence = append(inc.Evidence, domain.Evidence{
		ID:          uuid.NewString(),
		Description: description,
		Reference:   reference,
		AddedBy:     actor,
		AddedAt:     now,
	})
	inc.AuditTrail = append(inc.AuditTrail, m.audit("incident.evidence_added", actor, description))
	inc.UpdatedAt = now

	if err := m.incidents.Save(ctx, inc); err != nil {
		return nil, err
	}
	return inc.Clone(), nil
}

// GetIncident returns one incident by id.
func (m *Manager) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	return m.incidents.Get(ctx, id)
}

// ListIncidents returns incidents matching the filter.
func (m *Manager) ListIncidents(ctx context.Context, filter Filter) ([]*domain.Incident, error) {
	all, err := m.incidents.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Incident, 0, len(all))
	for _, inc := range all {
		if filter.Status != "" && inc.Status != filter.Status {
			continue
		}
		if filter.Type != "" && inc.Type != filter.Type {
			continue
		}
		if filter.Severity != "" && inc.Severity != filter.Severity {
			continue
		}
		out = append(out, inc)
	}
	return out, nil
}

// GetStatistics aggregates the current incident population.
func (m *Manager) GetStatistics(ctx context.Context) (Statistics, error) {
	all, err := m.incidents.List(ctx)
	if err != nil {
		return Statistics{}, err
	}

	stats := Statistics{
		Total:      len(all),
		ByStatus:   make(map[domain.IncidentStatus]int),
		ByType:     make(map[domain.IncidentType]int),
		BySeverity: make(map[domain.Severity]int),
	}
	for _, inc := range all {
		stats.ByStatus[inc.Status]++
		stats.ByType[inc.Type]++
		stats.BySeverity[inc.Severity]++
		if inc.Status != domain.IncidentClosed && inc.Status != domain.IncidentFalsePositive {
			stats.Open++
		}
		if inc.DataExposure {
			stats.DataExposure++
		}
	}
	return stats, nil
}

// Remediator exposes the attached auto-remediation engine for rule
// administration.
func (m *Manager) Remediator() *AutoRemediator {
	return m.remediator
}

// validateTransition enforces the forward-only lifecycle: each move targets a
// later state on the chain, except false_positive which is reachable from any
// state but closed.
func validateTransition(from, to domain.IncidentStatus) error {
	if to == domain.IncidentFalsePositive {
		if from == domain.IncidentClosed || from == domain.IncidentFalsePositive {
			return fmt.Errorf("%w: cannot mark %s incident as false positive", domain.ErrValidation, from)
		}
		return nil
	}
	fromIdx, fromOK := statusOrder[from]
	toIdx, toOK := statusOrder[to]
	if !fromOK || !toOK || toIdx <= fromIdx {
		return fmt.Errorf("%w: invalid status transition %s -> %s", domain.ErrValidation, from, to)
	}
	return nil
}

// stampTransition records first-entry timestamps. Each stamp is written at
// most once for the incident's lifetime.
func (m *Manager) stampTransition(inc *domain.Incident, to domain.IncidentStatus, now time.Time) {
	stamp := now
	switch to {
	case domain.IncidentInvestigating:
		if inc.AcknowledgedAt == nil {
			inc.AcknowledgedAt = &stamp
		}
	case domain.IncidentContained:
		if inc.ContainedAt == nil {
			inc.ContainedAt = &stamp
		}
	case domain.IncidentResolved:
		if inc.ResolvedAt == nil {
			inc.ResolvedAt = &stamp
		}
	case domain.IncidentClosed:
		if inc.ClosedAt == nil {
			inc.ClosedAt = &stamp
		}
	}
}

// dispatch sends one notification per recipient and records each on the
// incident. Delivery failures are logged, never fatal.
func (m *Manager) dispatch(ctx context.Context, inc *domain.Incident, recipients []string, subject string) {
	for _, recipient := range recipients {
		msg := notify.Message{
			Channel:   "security",
			Recipient: recipient,
			Subject:   subject,
			Body:      inc.Description,
		}
		status := "sent"
		if err := m.notifier.Send(ctx, msg); err != nil {
			status = "failed"
			m.logger.Error("notification delivery failed",
				"incident_id", inc.ID, "recipient", recipient, "error", err)
		}
		inc.Notifications = append(inc.Notifications, domain.Notification{
			ID:        uuid.NewString(),
			Channel:   msg.Channel,
			Recipient: recipient,
			Subject:   subject,
			Status:    status,
			SentAt:    m.now().UTC(),
		})
	}
}

func (m *Manager) audit(action, actor, details string) domain.AuditEntry {
	return domain.AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: m.now().UTC(),
		Action:    action,
		Actor:     actor,
		Details:   details,
	}
}
