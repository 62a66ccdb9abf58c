// Package policy contains the value types and pure functions of the
// governance kernel's decision model: manifests, rules, conditions,
// scopes, and evaluation results.
package policy

import (
	"fmt"
	"time"
)

// PrecedenceClass is a total ordering over policy classes. Higher
// values dominate lower ones.
type PrecedenceClass int

const (
	Internal PrecedenceClass = iota
	Industry
	Legal
)

// String renders the precedence class in its canonical lowercase form.
func (p PrecedenceClass) String() string {
	switch p {
	case Internal:
		return "internal"
	case Industry:
		return "industry"
	case Legal:
		return "legal"
	default:
		return "unknown"
	}
}

// ParsePrecedence parses the canonical lowercase precedence name.
func ParsePrecedence(s string) (PrecedenceClass, error) {
	switch s {
	case "internal":
		return Internal, nil
	case "industry":
		return Industry, nil
	case "legal":
		return Legal, nil
	default:
		return 0, fmt.Errorf("%w: precedence %q", ErrValidation, s)
	}
}

// EnforcementMode governs whether a denying decision actually denies.
type EnforcementMode string

const (
	ModeEnforce EnforcementMode = "enforce"
	ModeWarn    EnforcementMode = "warn"
	ModeMonitor EnforcementMode = "monitor"
)

func (m EnforcementMode) valid() bool {
	switch m {
	case ModeEnforce, ModeWarn, ModeMonitor:
		return true
	default:
		return false
	}
}

// Effect is the outcome a matching rule produces.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

func (e Effect) valid() bool {
	return e == EffectAllow || e == EffectDeny
}

// Status is the lifecycle status of a registered policy.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// Condition is a single (field_path, operator, value) test evaluated
// against an EvaluationRequest. Field is dot-separated and resolves
// against top-level request keys plus nested context.*.
type Condition struct {
	Field    string      `json:"field" yaml:"field"`
	Operator string      `json:"operator" yaml:"operator"`
	Value    interface{} `json:"value" yaml:"value"`
}

var validOperators = map[string]bool{
	"eq": true, "ne": true, "gt": true, "lt": true, "gte": true, "lte": true,
	"in": true, "nin": true, "contains": true, "regex": true,
}

// Rule is an AND-combination of conditions yielding an effect when
// every condition holds.
type Rule struct {
	ID          string      `json:"id" yaml:"id"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Conditions  []Condition `json:"conditions" yaml:"conditions"`
	Effect      Effect      `json:"effect" yaml:"effect"`
}

// Scope is a sparse filter: any subset of the five axes. An empty set
// on an axis means "matches any" on that axis. A Scope with every axis
// empty is global.
type Scope struct {
	Orchestras []string `json:"orchestras,omitempty" yaml:"orchestras,omitempty"`
	Tenants    []string `json:"tenants,omitempty" yaml:"tenants,omitempty"`
	Roles      []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	Actions    []string `json:"actions,omitempty" yaml:"actions,omitempty"`
	Resources  []string `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// IsGlobal reports whether every scope axis is empty.
func (s Scope) IsGlobal() bool {
	return len(s.Orchestras) == 0 && len(s.Tenants) == 0 && len(s.Roles) == 0 &&
		len(s.Actions) == 0 && len(s.Resources) == 0
}

// Manifest is the declarative, hashable representation of a policy.
type Manifest struct {
	ID              string            `json:"id" yaml:"id"`
	Name            string            `json:"name" yaml:"name"`
	Version         string            `json:"version" yaml:"version"`
	Description     string            `json:"description,omitempty" yaml:"description,omitempty"`
	Precedence      PrecedenceClass   `json:"precedence" yaml:"precedence"`
	Status          Status            `json:"status" yaml:"status"`
	EnforcementMode EnforcementMode   `json:"enforcementMode" yaml:"enforcementMode"`
	Scope           Scope             `json:"scope" yaml:"scope"`
	Rules           []Rule            `json:"rules" yaml:"rules"`
	EffectiveDate   *time.Time        `json:"effectiveDate,omitempty" yaml:"effectiveDate,omitempty"`
	ExpirationDate  *time.Time        `json:"expirationDate,omitempty" yaml:"expirationDate,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// Inheritance audit fields, populated by the template resolver.
	InheritedFrom        string   `json:"inheritedFrom,omitempty" yaml:"inheritedFrom,omitempty"`
	OverriddenProperties []string `json:"overriddenProperties,omitempty" yaml:"overriddenProperties,omitempty"`
	ExtendedProperties   []string `json:"extendedProperties,omitempty" yaml:"extendedProperties,omitempty"`
}

// Clone returns a deep copy of the manifest so callers can mutate the
// result without affecting registry state.
func (m Manifest) Clone() Manifest {
	out := m
	out.Scope = Scope{
		Orchestras: append([]string(nil), m.Scope.Orchestras...),
		Tenants:    append([]string(nil), m.Scope.Tenants...),
		Roles:      append([]string(nil), m.Scope.Roles...),
		Actions:    append([]string(nil), m.Scope.Actions...),
		Resources:  append([]string(nil), m.Scope.Resources...),
	}
	out.Rules = make([]Rule, len(m.Rules))
	for i, r := range m.Rules {
		out.Rules[i] = Rule{
			ID:          r.ID,
			Description: r.Description,
			Effect:      r.Effect,
			Conditions:  append([]Condition(nil), r.Conditions...),
		}
	}
	if m.Metadata != nil {
		out.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	if m.EffectiveDate != nil {
		t := *m.EffectiveDate
		out.EffectiveDate = &t
	}
	if m.ExpirationDate != nil {
		t := *m.ExpirationDate
		out.ExpirationDate = &t
	}
	out.OverriddenProperties = append([]string(nil), m.OverriddenProperties...)
	out.ExtendedProperties = append([]string(nil), m.ExtendedProperties...)
	return out
}

// IsEffective reports whether the manifest is active and within its
// effective/expiration window at the given instant.
func (m Manifest) IsEffective(now time.Time) bool {
	if m.Status != StatusActive {
		return false
	}
	if m.EffectiveDate != nil && now.Before(*m.EffectiveDate) {
		return false
	}
	if m.ExpirationDate != nil && now.After(*m.ExpirationDate) {
		return false
	}
	return true
}
