package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so transports can map it to a status and
// telemetry can count it, independent of the user-facing message.
type Kind string

const (
	InvalidState        Kind = "invalid_state"
	EmptyDelta          Kind = "empty_delta"
	EmptyCart           Kind = "empty_cart"
	NotFound            Kind = "not_found"
	AlreadySettled      Kind = "already_settled"
	ConcurrencyConflict Kind = "concurrency_conflict"
)

type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Msg) }

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf unwraps err looking for an *Error and reports its Kind.
func KindOf(err error) (Kind, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return "", false
}

func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Benign reports whether err is a no-op signal rather than a real failure.
// Callers should not alert on these.
func Benign(err error) bool {
	k, ok := KindOf(err)
	return ok && (k == EmptyDelta || k == EmptyCart)
}

// Retryable reports whether the caller may safely retry the operation.
func Retryable(err error) bool {
	return Is(err, ConcurrencyConflict)
}
