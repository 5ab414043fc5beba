// Package retrackerr classifies errors into the taxonomy from spec.md §7 so
// that a single switch at each component boundary (API handler, Orchestrator,
// Task Queue dispatcher) decides retry/dead-letter/HTTP-status behavior.
package retrackerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one of the error classes in spec.md §7.
type Kind string

const (
	Validation           Kind = "validation"
	NotFound             Kind = "not_found"
	Transient            Kind = "transient"
	Terminal             Kind = "terminal"
	ScriptTimeout        Kind = "script_timeout"
	ScriptForbiddenImport Kind = "script_forbidden_import"
	Fatal                Kind = "fatal"
)

// Error wraps a cause with a classification and a user-facing message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a classified error with a message only.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an existing error, preserving it as the cause via
// github.com/pkg/errors so callers retain a stack trace at the wrap site,
// matching the teacher's database/boltdb.go convention.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: errors.Wrap(cause, message)}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, cause error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{Kind: kind, Message: msg, Cause: errors.Wrap(cause, msg)}
}

// KindOf extracts the Kind of err if it (or something it wraps) is an *Error,
// defaulting to Terminal for unclassified errors — an unclassified failure is
// never silently retried forever.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return Terminal
}

// IsRetryable reports whether the Task Queue / tick retry policy should
// re-attempt on this error.
func IsRetryable(err error) bool {
	return KindOf(err) == Transient
}
