// Package corekit holds the typed error taxonomy shared by every core
// component. Core operations return these as error values (never panic for
// expected conditions); each HTTP surface adapter translates a Kind into its
// own wire shape.
package corekit

import (
	"errors"
	"fmt"
)

// Kind classifies why a core operation failed.
type Kind string

// Error kinds.
const (
	KindNotFound         Kind = "not_found"
	KindUnauthorized     Kind = "unauthorized"
	KindForbidden        Kind = "forbidden"
	KindConflict         Kind = "conflict"
	KindStale            Kind = "stale"
	KindPreempted        Kind = "preempted"
	KindMalformed        Kind = "malformed"
	KindTooManyRequests  Kind = "too_many_requests"
	KindTimeout          Kind = "timeout"
	KindInternal         Kind = "internal"
)

// Error is a typed core error. Field is optional and names the offending
// request field for Malformed errors.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field %q)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// New builds a bare Error of the given kind.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an underlying cause, preserving it for errors.Is/As.
func Wrap(kind Kind, cause error, message string) error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Field builds a Malformed error naming the offending field.
func Field(field, message string) error {
	return &Error{Kind: KindMalformed, Field: field, Message: message}
}

// KindOf extracts the Kind of err, defaulting to KindInternal if err is not
// (or does not wrap) a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Sentinel errors for conditions that don't need a message or field.
var (
	ErrNotFound              = New(KindNotFound, "entity not found")
	ErrConflict              = New(KindConflict, "state precondition violated")
	ErrConcurrentModification = New(KindConflict, "concurrent modification detected")
	ErrStale                 = New(KindStale, "update older than stored state")
	ErrPreempted             = New(KindPreempted, "work preempted by server")
	ErrTooManyRequests       = New(KindTooManyRequests, "rate limit exceeded")
	ErrTimeout               = New(KindTimeout, "operation exceeded deadline")
)
