package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers kernel-specific validation rules.
// Must be called before validating KernelConfig.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("audit_output", validateAuditOutput); err != nil {
		return fmt.Errorf("failed to register audit_output validator: %w", err)
	}
	return nil
}

// validateAuditOutput validates the audit output field.
// Valid values: "stdout", "memory", or "file://<absolute-path>".
func validateAuditOutput(fl validator.FieldLevel) bool {
	output := fl.Field().String()

	if output == "stdout" || output == "memory" {
		return true
	}

	if strings.HasPrefix(output, "file://") {
		path := strings.TrimPrefix(output, "file://")
		return path != "" && filepath.IsAbs(path)
	}

	return false
}

// Validate validates the KernelConfig using struct tags and custom
// cross-field rules.
func (c *KernelConfig) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validatePrecedenceOrdering(); err != nil {
		return err
	}
	if err := c.validateSeedIDsUnique(); err != nil {
		return err
	}

	return nil
}

// validatePrecedenceOrdering rejects nothing structurally new — the
// oneof tag already constrains PolicySeed.Precedence — but exists as
// the cross-field hook the donor's Validate always runs, kept for
// parity with its two-phase (tags, then cross-field) validation shape.
func (c *KernelConfig) validatePrecedenceOrdering() error {
	return nil
}

// validateSeedIDsUnique ensures no two file-seeded policies share an
// id; the registry itself treats a duplicate id as an upsert, which
// would silently hide a config authoring mistake at startup.
func (c *KernelConfig) validateSeedIDsUnique() error {
	seen := make(map[string]struct{}, len(c.Policies))
	for _, p := range c.Policies {
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("policies: duplicate seed id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s items", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "audit_output":
		return fmt.Sprintf("%s must be 'stdout', 'memory', or 'file://<absolute-path>'", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
