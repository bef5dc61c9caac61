// Package telemetry provides Prometheus metrics and OpenTelemetry tracing
// bootstrap for the compliance engine.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the engine. All record methods
// are nil-receiver safe so components can run without telemetry wired.
type Metrics struct {
	policyEvaluations  *prometheus.CounterVec
	evaluationLatency  *prometheus.HistogramVec
	violationsDetected *prometheus.CounterVec
	validationsTotal   *prometheus.CounterVec
	enforcementActions *prometheus.CounterVec
	incidentsTotal     *prometheus.CounterVec
	autoRemediations   *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance with all engine collectors registered
// on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		policyEvaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_policy_evaluations_total",
				Help: "Policy evaluations by outcome",
			},
			[]string{"outcome"},
		),

		evaluationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aegis_policy_evaluation_duration_seconds",
				Help:    "Policy evaluation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),

		violationsDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_violations_detected_total",
				Help: "Violations detected by severity",
			},
			[]string{"severity"},
		),

		validationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_validations_total",
				Help: "Resource validations by compliance outcome and cache status",
			},
			[]string{"compliant", "cache"},
		),

		enforcementActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_enforcement_actions_total",
				Help: "Enforcement action executions by type and status",
			},
			[]string{"action_type", "status"},
		),

		incidentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_incidents_total",
				Help: "Incidents created by type and severity",
			},
			[]string{"type", "severity"},
		),

		autoRemediations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_auto_remediations_total",
				Help: "Auto-remediation rule trigger attempts by outcome",
			},
			[]string{"outcome"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.policyEvaluations,
		m.evaluationLatency,
		m.violationsDetected,
		m.validationsTotal,
		m.enforcementActions,
		m.incidentsTotal,
		m.autoRemediations,
	)

	return m
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordPolicyEvaluation records one policy evaluation and its latency.
func (m *Metrics) RecordPolicyEvaluation(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.policyEvaluations.WithLabelValues(outcome).Inc()
	m.evaluationLatency.WithLabelValues(outcome).Observe(seconds)
}

// RecordViolation counts one detected violation.
func (m *Metrics) RecordViolation(severity string) {
	if m == nil {
		return
	}
	m.violationsDetected.WithLabelValues(severity).Inc()
}

// RecordValidation counts one resource validation.
func (m *Metrics) RecordValidation(compliant bool, cacheStatus string) {
	if m == nil {
		return
	}
	label := "false"
	if compliant {
		label = "true"
	}
	m.validationsTotal.WithLabelValues(label, cacheStatus).Inc()
}

// RecordEnforcement counts one enforcement action execution.
func (m *Metrics) RecordEnforcement(actionType string, success bool) {
	if m == nil {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	m.enforcementActions.WithLabelValues(actionType, status).Inc()
}

// RecordIncident counts one created incident.
func (m *Metrics) RecordIncident(incidentType, severity string) {
	if m == nil {
		return
	}
	m.incidentsTotal.WithLabelValues(incidentType, severity).Inc()
}

// RecordAutoRemediation counts one rule trigger attempt; outcome is one of
// executed, failed, skipped_cooldown, skipped_limit.
func (m *Metrics) RecordAutoRemediation(outcome string) {
	if m == nil {
		return
	}
	m.autoRemediations.WithLabelValues(outcome).Inc()
}
