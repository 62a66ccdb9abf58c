package policy

import (
	"regexp"
	"strconv"
)

var (
	idPattern     = regexp.MustCompile(`^[a-z0-9-]+$`)
	semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
)

// Validate performs pure, structural validation of a manifest: enum
// membership, semver/id regex, non-empty rules, and date ordering. It
// never touches the registry, so it has no opinion on id uniqueness.
func Validate(m Manifest) ValidationErrors {
	var errs ValidationErrors

	if !idPattern.MatchString(m.ID) {
		errs = append(errs, &ValidationError{Field: "id", Reason: "must match [a-z0-9-]+"})
	}
	if m.Name == "" {
		errs = append(errs, &ValidationError{Field: "name", Reason: "must not be empty"})
	}
	if !semverPattern.MatchString(m.Version) {
		errs = append(errs, &ValidationError{Field: "version", Reason: "must be SemVer major.minor.patch"})
	}
	if m.Precedence != Internal && m.Precedence != Industry && m.Precedence != Legal {
		errs = append(errs, &ValidationError{Field: "precedence", Reason: "must be internal, industry, or legal"})
	}
	if m.Status != StatusActive && m.Status != StatusDisabled {
		errs = append(errs, &ValidationError{Field: "status", Reason: "must be active or disabled"})
	}
	if !m.EnforcementMode.valid() {
		errs = append(errs, &ValidationError{Field: "enforcementMode", Reason: "must be enforce, warn, or monitor"})
	}
	if len(m.Rules) == 0 {
		errs = append(errs, &ValidationError{Field: "rules", Reason: "must be non-empty"})
	}
	for i, r := range m.Rules {
		errs = append(errs, validateRule(i, r)...)
	}
	if m.EffectiveDate != nil && m.ExpirationDate != nil && !m.EffectiveDate.Before(*m.ExpirationDate) {
		errs = append(errs, &ValidationError{Field: "effectiveDate", Reason: "must precede expirationDate"})
	}

	return errs
}

func validateRule(idx int, r Rule) ValidationErrors {
	var errs ValidationErrors
	if r.ID == "" {
		errs = append(errs, &ValidationError{Field: field("rules", idx, "id"), Reason: "must not be empty"})
	}
	if !r.Effect.valid() {
		errs = append(errs, &ValidationError{Field: field("rules", idx, "effect"), Reason: "must be allow or deny"})
	}
	for j, c := range r.Conditions {
		if c.Field == "" {
			errs = append(errs, &ValidationError{Field: field("rules", idx, "conditions"), Reason: "field must not be empty"})
		}
		if !validOperators[c.Operator] {
			errs = append(errs, &ValidationError{
				Field:  field("rules", idx, "conditions") + "[" + strconv.Itoa(j) + "].operator",
				Reason: "unknown operator " + c.Operator,
			})
		}
	}
	return errs
}

func field(group string, idx int, name string) string {
	return group + "[" + strconv.Itoa(idx) + "]." + name
}

// ValidateTemplate validates a template using the same structural
// rules as a manifest, minus registry id-uniqueness (templates live in
// a separate namespace from policies).
func ValidateTemplate(t Manifest) ValidationErrors {
	return Validate(t)
}
