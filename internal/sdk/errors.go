// ABOUTME: Typed error kinds for the SDK boundary
// ABOUTME: Replaces message-substring matching with an explicit taxonomy

package sdk

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an SDK failure. The session layer's retry and
// notification policy keys off the kind, never off message text.
type ErrorKind int

const (
	// KindInternal is the zero kind: an unclassified failure.
	KindInternal ErrorKind = iota
	// KindCancelled means the user dismissed the platform ceremony. An
	// expected outcome, never shown as an error.
	KindCancelled
	// KindUnauthenticated means the operation needs a session that does
	// not exist. Eligible for exactly one forced login + retry.
	KindUnauthenticated
	// KindUnsupported means the installed SDK build lacks the operation.
	// A configuration error, never retried.
	KindUnsupported
	// KindInvalidInput is a validation failure. Never retried.
	KindInvalidInput
	// KindTimeout means the operation was abandoned after its deadline.
	KindTimeout
	// KindUnavailable means no credential exists on this device, so the
	// ceremony cannot run at all.
	KindUnavailable
)

// String returns the kind's wire-stable name.
func (k ErrorKind) String() string {
	switch k {
	case KindCancelled:
		return "cancelled"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindUnsupported:
		return "unsupported"
	case KindInvalidInput:
		return "invalid_input"
	case KindTimeout:
		return "timeout"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Error is the SDK boundary error type.
type Error struct {
	Kind ErrorKind
	Op   string // operation name, e.g. "login"
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf constructs a kinded SDK error.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap annotates err with a kind and operation. A nil err yields nil.
func Wrap(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Classify returns the kind carried by err, or KindInternal when err is
// not an SDK error.
func Classify(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}
