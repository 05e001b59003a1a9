package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the engines and their adapters.
var (
	ErrInvalidRecord       = errors.New("invalid record")
	ErrInvalidVector       = errors.New("invalid vector")
	ErrInvalidWeights      = errors.New("invalid weights")
	ErrPointNotFound       = errors.New("point not found")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrEmbedderUnavailable = errors.New("embedder unavailable")
	ErrUnknownAction       = errors.New("unknown duplicate action")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
