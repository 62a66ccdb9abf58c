package policy

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. These map to the error taxonomy: ValidationError,
// NotFoundError, ConflictError (informational, not fatal), TimeoutError,
// InvariantViolation. EmissionError lives at the adapter boundary, not
// here.
var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrTimeout     = errors.New("evaluation timeout")
	ErrInvariant   = errors.New("invariant violation")
	ErrInUse       = errors.New("resource in use")
)

// ValidationError carries a field path and reason for a failed
// manifest or request validation. It wraps ErrValidation so callers
// can use errors.Is(err, policy.ErrValidation).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ValidationErrors is a non-empty collection of ValidationError values
// returned together so a caller sees every problem in one pass.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%s (and %d more)", e[0].Error(), len(e)-1)
}

func (e ValidationErrors) Unwrap() error { return ErrValidation }

// NotFoundError identifies a missing policy or template by id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }
