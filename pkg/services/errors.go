package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity is not found
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when attempting to create a duplicate entity
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrTerminalSession is returned for lifecycle operations against a
	// session that already reached a terminal status
	ErrTerminalSession = errors.New("session is terminal")

	// ErrNotSteppable is returned when a step request violates the stage
	// order: backward stepping or stepping past the final stage
	ErrNotSteppable = errors.New("step not allowed")

	// ErrConflict is returned when an operation conflicts with the session's
	// current state, e.g. resuming a session that is not paused
	ErrConflict = errors.New("conflicting operation")
)

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
