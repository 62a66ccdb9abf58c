// Package template implements reusable policy skeletons and the
// inheritance resolver that derives concrete manifests from them.
package template

import (
	"errors"
	"fmt"

	"github.com/governed-io/governed/internal/domain/policy"
)

// ErrInUse is returned by RemoveTemplate when derived policies still
// reference the template.
var ErrInUse = errors.New("template has derived policies")

// Template is a reusable manifest skeleton. Type is a free-form
// category label (e.g. "data-residency", "export-control").
type Template struct {
	ID         string
	Name       string
	Type       string
	Precedence policy.PrecedenceClass
	BaseScope  policy.Scope
	BaseRules  []policy.Rule
	Metadata   map[string]string

	// derivedPolicies tracks ids of manifests derived from this
	// template, for RemoveTemplate's in-use guard and usage counting.
	derivedPolicies []string
	usageCount      int
}

// Overrides replaces parts of the base template wholesale.
type Overrides struct {
	Scope   *policy.Scope
	Rules   []policy.Rule
	Enabled *bool
}

// Extensions append to the base/override result; they never replace.
type Extensions struct {
	AdditionalRules []policy.Rule
	Metadata        map[string]string
}

// Inheritance bundles the override/extension directives a derived
// policy specifies against a template.
type Inheritance struct {
	TemplateID string
	Overrides  Overrides
	Extensions Extensions
}

// Validate runs the same structural checks as a manifest, minus
// registry id-uniqueness (templates live in a separate namespace).
func Validate(t Template) policy.ValidationErrors {
	m := asManifest(t)
	return policy.ValidateTemplate(m)
}

func asManifest(t Template) policy.Manifest {
	return policy.Manifest{
		ID:         t.ID,
		Name:       t.Name,
		Version:    "1.0.0",
		Precedence: t.Precedence,
		Status:     policy.StatusActive,
		EnforcementMode: policy.ModeEnforce,
		Scope:      t.BaseScope,
		Rules:      t.BaseRules,
	}
}

// Resolve implements spec §4.3: fetch the template, merge scope
// field-wise ("override if present"), replace-or-keep rules, append
// extension rules, shallow-merge metadata (extension metadata wins over
// base; Overrides carries no metadata), and record the inheritance audit trail
// on the resolved manifest.
func Resolve(t *Template, id, name, version string, inh Inheritance) (policy.Manifest, error) {
	if t == nil {
		return policy.Manifest{}, fmt.Errorf("%w: template %q", policy.ErrNotFound, inh.TemplateID)
	}

	t.usageCount++
	t.derivedPolicies = appendOnce(t.derivedPolicies, id)

	scope := mergeScope(t.BaseScope, inh.Overrides.Scope)

	var rules []policy.Rule
	var overriddenProps []string
	if len(inh.Overrides.Rules) > 0 {
		rules = append(rules, inh.Overrides.Rules...)
		overriddenProps = append(overriddenProps, "rules")
	} else {
		rules = append(rules, t.BaseRules...)
	}

	var extendedProps []string
	if len(inh.Extensions.AdditionalRules) > 0 {
		rules = append(rules, inh.Extensions.AdditionalRules...)
		extendedProps = append(extendedProps, "rules")
	}

	if inh.Overrides.Scope != nil {
		overriddenProps = append(overriddenProps, "scope")
	}

	metadata := mergeMetadata(t.Metadata, nil, inh.Extensions.Metadata)
	if len(inh.Extensions.Metadata) > 0 {
		extendedProps = append(extendedProps, "metadata")
	}

	status := policy.StatusActive
	if inh.Overrides.Enabled != nil && !*inh.Overrides.Enabled {
		status = policy.StatusDisabled
		overriddenProps = append(overriddenProps, "enabled")
	}

	return policy.Manifest{
		ID:                   id,
		Name:                 name,
		Version:              version,
		Precedence:           t.Precedence,
		Status:               status,
		EnforcementMode:      policy.ModeEnforce,
		Scope:                scope,
		Rules:                rules,
		Metadata:             metadata,
		InheritedFrom:        t.ID,
		OverriddenProperties: overriddenProps,
		ExtendedProperties:   extendedProps,
	}, nil
}

// UsageCount returns how many times the template has been derived from.
func (t *Template) UsageCount() int { return t.usageCount }

// DerivedPolicies returns the ids of policies derived from this template.
func (t *Template) DerivedPolicies() []string {
	return append([]string(nil), t.derivedPolicies...)
}

// CanRemove reports whether the template has no remaining derived
// policies (spec §8 invariant 9: removeTemplate fails iff
// derivedPolicies.length > 0).
func (t *Template) CanRemove() bool { return len(t.derivedPolicies) == 0 }

func mergeScope(base policy.Scope, override *policy.Scope) policy.Scope {
	if override == nil {
		return base
	}
	out := base
	if override.Orchestras != nil {
		out.Orchestras = override.Orchestras
	}
	if override.Tenants != nil {
		out.Tenants = override.Tenants
	}
	if override.Roles != nil {
		out.Roles = override.Roles
	}
	if override.Actions != nil {
		out.Actions = override.Actions
	}
	if override.Resources != nil {
		out.Resources = override.Resources
	}
	return out
}

func mergeMetadata(base, override, extension map[string]string) map[string]string {
	out := make(map[string]string)
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	for k, v := range extension {
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func appendOnce(list []string, id string) []string {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}
