// Package gwerrors implements a typed error taxonomy, independent of
// transport: InvalidInput, Unauthorized, RateLimited, NotFound, Conflict,
// Precondition, CryptoFailure, ChainFailure, Internal. The API layer maps
// Kind to an HTTP status; nothing below that layer needs to know HTTP
// exists.
package gwerrors

import "github.com/pkg/errors"

// Kind is one of the nine error categories.
type Kind string

const (
	InvalidInput  Kind = "invalid_input"
	Unauthorized  Kind = "unauthorized"
	RateLimited   Kind = "rate_limited"
	NotFound      Kind = "not_found"
	Conflict      Kind = "conflict"
	Precondition  Kind = "precondition"
	CryptoFailure Kind = "crypto_failure"
	ChainFailure  Kind = "chain_failure"
	Internal      Kind = "internal"
)

// Error pairs a Kind with a wrapped cause, preserving pkg/errors' stack
// trace on the cause for Internal-kind logging.
type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a *Error of the given kind wrapping msg as a new error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, cause: errors.New(msg)}
}

// Wrap builds a *Error of the given kind, wrapping an existing error with
// additional context (and a stack trace, via pkg/errors).
func Wrap(kind Kind, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, cause: errors.Wrap(err, msg)}
}

// Is reports whether err is a *Error of the given kind (also true through
// any errors.Wrap/Unwrap chain).
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to Internal for errors that
// never passed through this package — a broken invariant we didn't
// anticipate is exactly what Internal is for.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
