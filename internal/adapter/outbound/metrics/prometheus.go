// Package metrics provides the Prometheus implementation of the
// governance kernel's sink.MetricsSink port.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/governed-io/governed/internal/domain/sink"
)

// PrometheusSink implements sink.MetricsSink, grounded on the donor's
// http/metrics.go Metrics struct: one promauto-registered instrument
// per recorded fact, registered under bare family names with no
// namespace prefix.
type PrometheusSink struct {
	RegistrationsTotal *prometheus.CounterVec
	ActivePolicies     *prometheus.GaugeVec
	EvaluationsTotal   *prometheus.CounterVec
	EvaluationDuration *prometheus.HistogramVec
	PoliciesChecked    prometheus.Histogram
	ConflictsTotal     *prometheus.CounterVec
	ViolationsTotal    *prometheus.CounterVec
}

// NewPrometheusSink creates and registers every metric with reg. Names
// are the exact families spec §6 documents as "preserved for
// continuity" — full names, not a namespace+subsystem split, since the
// set mixes a `policy_` prefix with an unprefixed `policies_*` pair.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	return &PrometheusSink{
		RegistrationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "policy_registrations_total",
				Help: "Total policy registrations by precedence and status",
			},
			[]string{"precedence", "status"},
		),
		ActivePolicies: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "policies_active",
				Help: "Number of currently active policies by precedence",
			},
			[]string{"precedence"},
		),
		EvaluationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "policy_evaluations_total",
				Help: "Total policy evaluations by result, orchestra, and winning precedence",
			},
			[]string{"result", "orchestra", "precedence"},
		),
		EvaluationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "policy_evaluation_duration_seconds",
				Help:    "Policy evaluation latency in seconds, by result and winning precedence",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result", "precedence"},
		),
		PoliciesChecked: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "policies_checked_per_evaluation",
				Help:    "Number of policies inspected per evaluation",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
			},
		),
		ConflictsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "policy_conflicts_total",
				Help: "Total same-precedence allow/deny conflicts, by winning precedence",
			},
			[]string{"winning_precedence"},
		),
		ViolationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "policy_violations_total",
				Help: "Total deny decisions by orchestra, action, and precedence",
			},
			[]string{"orchestra", "action", "precedence"},
		),
	}
}

func (p *PrometheusSink) RecordRegistration(precedence, status string) {
	p.RegistrationsTotal.WithLabelValues(precedence, status).Inc()
}

func (p *PrometheusSink) SetActivePolicies(precedence string, n int) {
	p.ActivePolicies.WithLabelValues(precedence).Set(float64(n))
}

func (p *PrometheusSink) RecordEvaluation(result, orchestra, precedence string, durationSeconds float64, policiesChecked int) {
	p.EvaluationsTotal.WithLabelValues(result, orchestra, precedence).Inc()
	p.EvaluationDuration.WithLabelValues(result, precedence).Observe(durationSeconds)
	p.PoliciesChecked.Observe(float64(policiesChecked))
}

func (p *PrometheusSink) RecordConflict(winningPrecedence string) {
	p.ConflictsTotal.WithLabelValues(winningPrecedence).Inc()
}

func (p *PrometheusSink) RecordViolation(orchestra, action, precedence string) {
	p.ViolationsTotal.WithLabelValues(orchestra, action, precedence).Inc()
}

var _ sink.MetricsSink = (*PrometheusSink)(nil)
