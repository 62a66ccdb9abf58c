// Package sink contains the outbound port interfaces the governance
// kernel calls into from its hooks: metrics. Audit
// persistence reuses audit.AuditStore directly (internal/domain/audit)
// rather than a parallel interface here.
package sink

// MetricsSink is the telemetry port the registry and evaluation
// engine emit into. It mirrors the Prometheus-style metric names of
// the external interface: registrations, active gauge, evaluations,
// duration, conflicts, violations.
type MetricsSink interface {
	RecordRegistration(precedence, status string)
	SetActivePolicies(precedence string, n int)
	RecordEvaluation(result, orchestra, precedence string, durationSeconds float64, policiesChecked int)
	RecordConflict(winningPrecedence string)
	RecordViolation(orchestra, action, precedence string)
}

// NoopMetrics is a MetricsSink that discards everything; used as a
// safe default when the host doesn't wire a real sink (e.g. in tests).
type NoopMetrics struct{}

func (NoopMetrics) RecordRegistration(string, string)           {}
func (NoopMetrics) SetActivePolicies(string, int)                {}
func (NoopMetrics) RecordEvaluation(string, string, string, float64, int) {}
func (NoopMetrics) RecordConflict(string)                        {}
func (NoopMetrics) RecordViolation(string, string, string)        {}

var _ MetricsSink = NoopMetrics{}
