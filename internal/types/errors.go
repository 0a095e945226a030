package types

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a request rejected before any mutation.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a missing job, segment or object.
	ErrNotFound = errors.New("not found")
)

// ValidationError carries a message meant to be shown to the caller verbatim.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError names what was missing.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError such as "Job not found".
func NotFound(what string) error {
	return &NotFoundError{Message: what + " not found"}
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
