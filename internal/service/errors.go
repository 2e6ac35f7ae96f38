package service

import (
	"errors"
	"fmt"
)

// ErrorKind classifies controller outcomes so callers can decide how to
// present them. Kinds, not exception types: validation outcomes reject the
// send without mutating state, transport outcomes end an in-flight session,
// cancellation is not a user-facing error at all.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindTransport    ErrorKind = "transport"
	KindCancellation ErrorKind = "cancellation"
	KindPersistence  ErrorKind = "persistence"
)

// Error is a controller outcome with a kind.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Sentinel validation outcomes. Each precondition failure is distinct and
// non-fatal.
var (
	ErrEmptyMessage   = &Error{Kind: KindValidation, Message: "message content is empty"}
	ErrNoOwner        = &Error{Kind: KindValidation, Message: "no owning identity"}
	ErrNoThread       = &Error{Kind: KindValidation, Message: "no thread selected"}
	ErrThreadNotFound = &Error{Kind: KindValidation, Message: "thread not found"}
	ErrStreamInFlight = &Error{Kind: KindValidation, Message: "a stream is already in flight"}
)

// KindOf extracts the kind from a controller error, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func transportError(err error) *Error {
	return &Error{Kind: KindTransport, Message: "completion stream failed", Err: err}
}

func persistenceError(err error) *Error {
	return &Error{Kind: KindPersistence, Message: "thread persistence unavailable", Err: err}
}
