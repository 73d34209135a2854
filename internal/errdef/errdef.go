// Package errdef defines the error taxonomy shared across upwatch.
package errdef

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArguments marks caller-visible precondition failures:
	// unknown parameters, missing required parameters, unknown object ids.
	// Surfaced to API callers as 4xx responses and never retried.
	ErrInvalidArguments = errors.New("invalid arguments")

	// ErrNotFound marks lookups of object ids that do not exist.
	ErrNotFound = errors.New("not found")

	// ErrInUse marks deletions refused because of live references,
	// e.g. removing a monitor definition that monitors still use.
	ErrInUse = errors.New("in use")
)

// InvalidArgumentsf wraps ErrInvalidArguments with a caller-facing reason.
func InvalidArgumentsf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArguments, fmt.Sprintf(format, args...))
}

// PersistenceError wraps a database failure with the SQL text that caused
// it so the scheduler can log the offending statement.
type PersistenceError struct {
	Query string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error: %v (query: %s)", e.Err, e.Query)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
