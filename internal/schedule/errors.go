package schedule

import "errors"

var _ error = &ValidationError{}

// ValidationError indicates a schedule update was rejected. The previous
// schedule remains in effect.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.msg
}

func (e *ValidationError) Is(err error) bool {
	var validationError *ValidationError
	return errors.As(err, &validationError)
}
