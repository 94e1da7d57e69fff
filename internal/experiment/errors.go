package experiment

import "errors"

// ValidationError reports a rejected input or precondition: a duration
// or angle outside the configured envelope, or an operation attempted
// in the wrong state. Nothing has been mutated when one is returned;
// the caller corrects the input and retries.
type ValidationError struct {
	msg string
}

// NewValidationError creates a ValidationError with the given message.
func NewValidationError(msg string) *ValidationError {
	return &ValidationError{msg}
}

func (e *ValidationError) Error() string {
	return e.msg
}

// IsValidationError reports whether err is, or wraps, a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
