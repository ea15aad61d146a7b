package loan

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when the access gate rejects a session.
var ErrUnauthorized = errors.New("unauthorized")

// ValidationError reports a missing, malformed or unmapped input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid application: " + e.Reason
	}
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError with a formatted reason.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ModelInvocationError reports that the loaded artifact rejected the input
// shape or produced an unusable output. Retrying with the same input
// reproduces it.
type ModelInvocationError struct {
	Reason string
	Err    error
}

func (e *ModelInvocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model invocation failed: %s: %v", e.Reason, e.Err)
	}
	return "model invocation failed: " + e.Reason
}

func (e *ModelInvocationError) Unwrap() error { return e.Err }

// StorageError reports an append or scan failure on the history backing.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("history %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Kind names the taxonomy bucket of err for logs and responses. Wrapper
// types are matched before ValidationError, which a model may wrap.
func Kind(err error) string {
	var (
		ve *ValidationError
		me *ModelInvocationError
		se *StorageError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.As(err, &me):
		return "model_invocation"
	case errors.As(err, &se):
		return "storage"
	case errors.As(err, &ve):
		return "validation"
	default:
		return "internal"
	}
}
