package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is the sentinel for operations targeting a missing todo.
var ErrNotFound = errors.New("todo not found")

// NotFoundError returns an ErrNotFound wrapped with the offending id.
func NotFoundError(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// DatabaseError wraps a storage-engine failure with the operation that
// triggered it. It is surfaced to callers and never retried internally.
type DatabaseError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying engine error for error chain support.
func (e *DatabaseError) Unwrap() error {
	return e.Err
}

// WrapDatabase wraps err as a DatabaseError unless it is nil or already a
// store error that should pass through unchanged.
func WrapDatabase(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) {
		return err
	}
	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return err
	}
	return &DatabaseError{Op: op, Err: err}
}

// ValidationError reports a rejected field on create, update or import.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ErrEmptyTitle returns the validation error for a blank title.
func ErrEmptyTitle() error {
	return &ValidationError{Field: "title", Reason: "must not be empty"}
}
