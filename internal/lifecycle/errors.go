package lifecycle

import (
	"errors"
	"fmt"
)

// Kind classifies lifecycle failures so callers can render actionable
// messages without string matching.
type Kind string

const (
	// KindValidation marks a malformed manifest or package.
	KindValidation Kind = "validation"
	// KindConflict marks id collisions, unmet dependencies, and illegal
	// state transitions.
	KindConflict Kind = "conflict"
	// KindIO marks extraction and filesystem failures.
	KindIO Kind = "io"
	// KindCompatibility marks a host-version range mismatch under strict
	// compatibility checking.
	KindCompatibility Kind = "compatibility"
	// KindRuntime marks a failure inside an extension's entry module or
	// hook handler.
	KindRuntime Kind = "runtime"
)

// Error is a classified lifecycle failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func wrapError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsKind reports whether err (or anything it wraps) is a lifecycle Error of
// the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
