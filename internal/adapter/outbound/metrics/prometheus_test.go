package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			switch {
			case m.Counter != nil:
				total += m.Counter.GetValue()
			case m.Histogram != nil:
				total += float64(m.Histogram.GetSampleCount())
			case m.Gauge != nil:
				total += m.Gauge.GetValue()
			}
		}
	}
	return total
}

func TestPrometheusSink_RecordRegistrationIncrementsCounter(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg)

	s.RecordRegistration("internal", "active")
	s.RecordRegistration("internal", "active")

	got := counterValue(t, reg, "policy_registrations_total")
	if got != 2 {
		t.Errorf("policy_registrations_total = %v, want 2", got)
	}
}

func TestPrometheusSink_SetActivePoliciesSetsGauge(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg)

	s.SetActivePolicies("legal", 7)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var found bool
	for _, mf := range families {
		if mf.GetName() != "policies_active" {
			continue
		}
		for _, m := range mf.GetMetric() {
			if m.Gauge.GetValue() == 7 {
				found = true
			}
		}
	}
	if !found {
		t.Error("expected policies_active gauge to report 7")
	}
}

func TestPrometheusSink_RecordEvaluationUpdatesCounterDurationAndHistogram(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg)

	s.RecordEvaluation("allow", "enforce", "internal", 0.01, 3)

	if got := counterValue(t, reg, "policy_evaluations_total"); got != 1 {
		t.Errorf("policy_evaluations_total = %v, want 1", got)
	}
	if got := counterValue(t, reg, "policy_evaluation_duration_seconds"); got != 1 {
		t.Errorf("policy_evaluation_duration_seconds sample count = %v, want 1", got)
	}
	if got := counterValue(t, reg, "policies_checked_per_evaluation"); got != 1 {
		t.Errorf("policies_checked_per_evaluation sample count = %v, want 1", got)
	}
}

func TestPrometheusSink_RecordEvaluationDurationCarriesPrecedenceLabel(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg)

	s.RecordEvaluation("deny", "db", "legal", 0.02, 5)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var sawPrecedence bool
	for _, mf := range families {
		if mf.GetName() != "policy_evaluation_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "precedence" && lp.GetValue() == "legal" {
					sawPrecedence = true
				}
			}
		}
	}
	if !sawPrecedence {
		t.Error("expected policy_evaluation_duration_seconds to carry a precedence=legal label")
	}
}

func TestPrometheusSink_RecordConflictAndViolation(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg)

	s.RecordConflict("legal")
	s.RecordViolation("enforce", "delete", "legal")

	if got := counterValue(t, reg, "policy_conflicts_total"); got != 1 {
		t.Errorf("policy_conflicts_total = %v, want 1", got)
	}
	if got := counterValue(t, reg, "policy_violations_total"); got != 1 {
		t.Errorf("policy_violations_total = %v, want 1", got)
	}
}

func TestPrometheusSink_FamilyNamesMatchTheDocumentedExternalInterface(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	NewPrometheusSink(reg)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	want := map[string]bool{
		"policy_registrations_total":         false,
		"policies_active":                    false,
		"policy_evaluations_total":           false,
		"policy_evaluation_duration_seconds": false,
		"policies_checked_per_evaluation":     false,
		"policy_conflicts_total":              false,
		"policy_violations_total":             false,
	}
	for _, mf := range families {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		} else {
			t.Errorf("unexpected metric family %q", mf.GetName())
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("expected metric family %q to be registered", name)
		}
	}
}
