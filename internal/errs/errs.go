// Package errs provides the error taxonomy shared by all collector components.
// Errors are classified by kind so callers can decide between aborting a job
// (auth, http, config), recovering silently (stream transport) or logging and
// dropping data (persistence).
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for handling decisions.
type Kind string

const (
	// KindAuth covers missing or invalid credentials and refresh failures.
	// Fatal to the calling job.
	KindAuth Kind = "auth"

	// KindHTTP covers non-2xx REST responses and the pagination truncation
	// guard. Fatal to the in-progress fetch, never retried here.
	KindHTTP Kind = "http"

	// KindConfig covers invalid configuration such as a malformed start date
	// or a non-positive bucket width. Fatal at startup of the affected job.
	KindConfig Kind = "config"

	// KindStream covers socket close and transport errors. Recovered
	// automatically via the reconnect loop.
	KindStream Kind = "stream"

	// KindPersistence covers file append failures. Logged, the buffer
	// contents are dropped.
	KindPersistence Kind = "persistence"
)

// Error is a classified error with the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates a classified error wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf creates a classified error from a format string.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err, or the empty Kind when err is not
// classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
