package template

import (
	"errors"
	"testing"

	"github.com/governed-io/governed/internal/domain/policy"
)

func baseTemplate() *Template {
	return &Template{
		ID:         "data-residency",
		Name:       "Data residency baseline",
		Type:       "data-residency",
		Precedence: policy.Legal,
		BaseScope:  policy.Scope{Tenants: []string{"acme"}},
		BaseRules: []policy.Rule{
			{ID: "base-r1", Effect: policy.EffectDeny, Conditions: []policy.Condition{
				{Field: "action", Operator: "eq", Value: "export"},
			}},
		},
		Metadata: map[string]string{"category": "compliance"},
	}
}

func TestResolve_BaseRulesKeptWhenNoOverride(t *testing.T) {
	t.Parallel()
	tpl := baseTemplate()

	m, err := Resolve(tpl, "derived-1", "Derived policy", "1.0.0", Inheritance{TemplateID: tpl.ID})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(m.Rules) != 1 || m.Rules[0].ID != "base-r1" {
		t.Errorf("expected base rule to be kept, got %+v", m.Rules)
	}
	if m.InheritedFrom != "data-residency" {
		t.Errorf("InheritedFrom = %q, want data-residency", m.InheritedFrom)
	}
}

func TestResolve_OverrideReplacesRulesWholesale(t *testing.T) {
	t.Parallel()
	tpl := baseTemplate()

	override := []policy.Rule{
		{ID: "override-r1", Effect: policy.EffectAllow},
	}
	m, err := Resolve(tpl, "derived-2", "Derived policy", "1.0.0", Inheritance{
		TemplateID: tpl.ID,
		Overrides:  Overrides{Rules: override},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(m.Rules) != 1 || m.Rules[0].ID != "override-r1" {
		t.Errorf("expected override rules to replace base rules wholesale, got %+v", m.Rules)
	}
	if !contains(m.OverriddenProperties, "rules") {
		t.Errorf("expected OverriddenProperties to record rules, got %v", m.OverriddenProperties)
	}
}

func TestResolve_ExtensionAppendsToBaseOrOverride(t *testing.T) {
	t.Parallel()
	tpl := baseTemplate()

	extra := []policy.Rule{{ID: "extra-r1", Effect: policy.EffectAllow}}
	m, err := Resolve(tpl, "derived-3", "Derived policy", "1.0.0", Inheritance{
		TemplateID: tpl.ID,
		Extensions: Extensions{AdditionalRules: extra},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(m.Rules) != 2 {
		t.Fatalf("expected base rule + extension rule, got %d rules: %+v", len(m.Rules), m.Rules)
	}
	if m.Rules[0].ID != "base-r1" || m.Rules[1].ID != "extra-r1" {
		t.Errorf("expected base rule first then extension rule appended, got %+v", m.Rules)
	}
	if !contains(m.ExtendedProperties, "rules") {
		t.Errorf("expected ExtendedProperties to record rules, got %v", m.ExtendedProperties)
	}
}

func TestResolve_ScopeMergeIsFieldWiseOverrideIfPresent(t *testing.T) {
	t.Parallel()
	tpl := baseTemplate() // BaseScope.Tenants = [acme]

	overrideScope := &policy.Scope{Actions: []string{"export"}}
	m, err := Resolve(tpl, "derived-4", "Derived policy", "1.0.0", Inheritance{
		TemplateID: tpl.ID,
		Overrides:  Overrides{Scope: overrideScope},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(m.Scope.Tenants) != 1 || m.Scope.Tenants[0] != "acme" {
		t.Errorf("expected base tenants to be kept when override doesn't touch that axis, got %v", m.Scope.Tenants)
	}
	if len(m.Scope.Actions) != 1 || m.Scope.Actions[0] != "export" {
		t.Errorf("expected override actions to apply, got %v", m.Scope.Actions)
	}
}

func TestResolve_MetadataShallowMerge(t *testing.T) {
	t.Parallel()
	tpl := baseTemplate() // Metadata: category=compliance

	m, err := Resolve(tpl, "derived-5", "Derived policy", "1.0.0", Inheritance{
		TemplateID: tpl.ID,
		Extensions: Extensions{Metadata: map[string]string{"ticket": "DR-1"}},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m.Metadata["category"] != "compliance" {
		t.Errorf("expected base metadata to survive, got %v", m.Metadata)
	}
	if m.Metadata["ticket"] != "DR-1" {
		t.Errorf("expected extension metadata to be added, got %v", m.Metadata)
	}
}

func TestResolve_NilTemplateIsNotFound(t *testing.T) {
	t.Parallel()
	_, err := Resolve(nil, "derived-6", "x", "1.0.0", Inheritance{TemplateID: "missing"})
	if !errors.Is(err, policy.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTemplate_UsageCountAndCanRemove(t *testing.T) {
	t.Parallel()
	tpl := baseTemplate()

	if !tpl.CanRemove() {
		t.Fatal("a freshly created template should be removable")
	}

	if _, err := Resolve(tpl, "derived-7", "x", "1.0.0", Inheritance{TemplateID: tpl.ID}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if tpl.UsageCount() != 1 {
		t.Errorf("UsageCount = %d, want 1", tpl.UsageCount())
	}
	if tpl.CanRemove() {
		t.Error("a template with a derived policy must not be removable")
	}
	if len(tpl.DerivedPolicies()) != 1 || tpl.DerivedPolicies()[0] != "derived-7" {
		t.Errorf("DerivedPolicies = %v, want [derived-7]", tpl.DerivedPolicies())
	}

	// Deriving the same id again must not double-count.
	if _, err := Resolve(tpl, "derived-7", "x", "1.0.0", Inheritance{TemplateID: tpl.ID}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(tpl.DerivedPolicies()) != 1 {
		t.Errorf("expected deriving the same id twice not to duplicate, got %v", tpl.DerivedPolicies())
	}
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
