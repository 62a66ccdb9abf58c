package policy

import (
	"testing"
	"time"
)

func validManifest() Manifest {
	return Manifest{
		ID:              "block-bulk-delete",
		Name:            "Block bulk delete",
		Version:         "1.2.0",
		Precedence:      Internal,
		Status:          StatusActive,
		EnforcementMode: ModeEnforce,
		Rules: []Rule{
			{
				ID:     "r1",
				Effect: EffectDeny,
				Conditions: []Condition{
					{Field: "action", Operator: "eq", Value: "delete"},
				},
			},
		},
	}
}

func TestValidate_ValidManifestHasNoErrors(t *testing.T) {
	t.Parallel()
	if errs := Validate(validManifest()); len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestValidate_RejectsBadID(t *testing.T) {
	t.Parallel()
	m := validManifest()
	m.ID = "Not_Valid!"
	errs := Validate(m)
	if len(errs) == 0 {
		t.Fatal("expected an id validation error")
	}
	if errs[0].Field != "id" {
		t.Errorf("field = %q, want id", errs[0].Field)
	}
}

func TestValidate_RejectsBadSemver(t *testing.T) {
	t.Parallel()
	m := validManifest()
	m.Version = "v1"
	errs := Validate(m)
	found := false
	for _, e := range errs {
		if e.Field == "version" {
			found = true
		}
	}
	if !found {
		t.Error("expected a version validation error")
	}
}

func TestValidate_RejectsEmptyRules(t *testing.T) {
	t.Parallel()
	m := validManifest()
	m.Rules = nil
	errs := Validate(m)
	found := false
	for _, e := range errs {
		if e.Field == "rules" {
			found = true
		}
	}
	if !found {
		t.Error("expected a rules validation error for an empty rule set")
	}
}

func TestValidate_RejectsUnknownOperator(t *testing.T) {
	t.Parallel()
	m := validManifest()
	m.Rules[0].Conditions[0].Operator = "startswith"
	errs := Validate(m)
	if len(errs) == 0 {
		t.Fatal("expected an operator validation error")
	}
}

func TestValidate_RejectsBadDateOrdering(t *testing.T) {
	t.Parallel()
	m := validManifest()
	eff, _ := time.Parse(time.RFC3339, "2026-06-01T00:00:00Z")
	exp, _ := time.Parse(time.RFC3339, "2026-01-01T00:00:00Z")
	m.EffectiveDate = &eff
	m.ExpirationDate = &exp
	errs := Validate(m)
	found := false
	for _, e := range errs {
		if e.Field == "effectiveDate" {
			found = true
		}
	}
	if !found {
		t.Error("expected an effectiveDate/expirationDate ordering error")
	}
}

func TestValidate_AccumulatesAllErrors(t *testing.T) {
	t.Parallel()
	m := Manifest{} // nearly everything wrong
	errs := Validate(m)
	if len(errs) < 4 {
		t.Errorf("expected several accumulated errors, got %d: %v", len(errs), errs)
	}
}
