package utils

import (
	"errors"
	"fmt"
)

// ValidationError reports caller input that cannot be priced, such as a
// non-positive carat weight or a missing color grade.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError that is not tied to a field.
func NewValidationError(message string) error {
	return &ValidationError{Message: message}
}

// NewFieldError creates a ValidationError for a named input field.
func NewFieldError(field, format string, args ...interface{}) error {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsValidationError reports whether err or anything it wraps is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
