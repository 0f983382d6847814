// Package apperr defines the error kinds shared across the support desk.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown sessions, actions or customers.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is returned for malformed input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUpstreamUnavailable marks a failed call to the AI provider.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrActionExecutionFailed marks an executor failure recorded on a support action.
	ErrActionExecutionFailed = errors.New("action execution failed")
	// ErrConflict is returned for illegal state transitions.
	ErrConflict = errors.New("conflict")
)

// NotFound wraps ErrNotFound with a formatted detail.
func NotFound(format string, args ...any) error {
	return wrap(ErrNotFound, format, args...)
}

// InvalidArgument wraps ErrInvalidArgument with a formatted detail.
func InvalidArgument(format string, args ...any) error {
	return wrap(ErrInvalidArgument, format, args...)
}

// Upstream wraps ErrUpstreamUnavailable around the provider error.
func Upstream(err error) error {
	return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
}

// Conflict wraps ErrConflict with a formatted detail.
func Conflict(format string, args ...any) error {
	return wrap(ErrConflict, format, args...)
}

// ActionFailed wraps ErrActionExecutionFailed around cause.
func ActionFailed(cause error) error {
	return fmt.Errorf("%w: %w", ErrActionExecutionFailed, cause)
}

// Recoverable reports whether err belongs to the caller's input or to an
// executor failure already recorded on its support action, as opposed to a
// persistence failure that must abort the surrounding transaction.
func Recoverable(err error) bool {
	return errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrActionExecutionFailed)
}

func wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
