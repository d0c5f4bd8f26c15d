package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned when the caller's role may not perform the operation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidTransition is returned for status moves the workflow forbids.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrStatusConflict is returned when a post's status changed between
	// read and write, e.g. by another replica.
	ErrStatusConflict = errors.New("status changed concurrently")

	// ErrNotFound is returned for operations on an unknown post id.
	ErrNotFound = errors.New("post not found")

	// ErrTransient marks storage or transport failures that may succeed on retry.
	ErrTransient = errors.New("transient failure")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransientError wraps an infrastructure failure. It matches ErrTransient
// under errors.Is.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// Transient wraps err as a TransientError. A nil err yields nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
