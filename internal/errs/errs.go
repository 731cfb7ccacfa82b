// Package errs defines the typed error kinds shared by the credential
// store, the handlers, and both transports, so classification never
// falls back to string matching on error messages.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport-level mapping.
type Kind string

const (
	NotFound      Kind = "not_found"
	AlreadyExists Kind = "already_exists"
	InvalidInput  Kind = "invalid_input"
	Conflict      Kind = "conflict"
	CorruptRecord Kind = "corrupt_record"
	Backend       Kind = "backend"
	AuthFailed    Kind = "auth_failed"
)

// Error wraps a cause with a classifiable Kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err, or Backend if err is not a classified Error.
// Backend is the conservative default: an unclassified failure is treated as
// an opaque I/O failure rather than leaking any other shape to callers.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Backend
}
