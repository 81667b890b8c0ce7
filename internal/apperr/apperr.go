// Package apperr defines the error taxonomy surfaced by the lending engine.
// Every failure carries a machine-readable Kind plus a human message.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound   Kind = "NOT_FOUND"
	KindForbidden  Kind = "FORBIDDEN"
	KindConflict   Kind = "CONFLICT"
	KindBlocked    Kind = "FINE_OUTSTANDING"
	KindValidation Kind = "VALIDATION_ERROR"
	KindInfra      Kind = "INTERNAL_ERROR"
)

// Sentinels for errors.Is matching on kind.
var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
	ErrBlocked    = errors.New("blocked by outstanding fine")
	ErrValidation = errors.New("validation failed")
	ErrInfra      = errors.New("storage unavailable")
)

var sentinels = map[Kind]error{
	KindNotFound:   ErrNotFound,
	KindForbidden:  ErrForbidden,
	KindConflict:   ErrConflict,
	KindBlocked:    ErrBlocked,
	KindValidation: ErrValidation,
	KindInfra:      ErrInfra,
}

// Error is a classified failure. Amount is set for KindBlocked.
type Error struct {
	Kind    Kind
	Message string
	Amount  int64
	Field   string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinel so callers can write errors.Is(err, apperr.ErrNotFound).
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

func NotFound(msg string) error  { return &Error{Kind: KindNotFound, Message: msg} }
func Forbidden(msg string) error { return &Error{Kind: KindForbidden, Message: msg} }
func Conflict(msg string) error  { return &Error{Kind: KindConflict, Message: msg} }

// Blocked reports a return refused while amount is owed.
func Blocked(amount int64) error {
	return &Error{
		Kind:    KindBlocked,
		Message: fmt.Sprintf("please pay your fine of %d before returning the book", amount),
		Amount:  amount,
	}
}

func Validation(field, msg string) error {
	return &Error{Kind: KindValidation, Message: msg, Field: field}
}

// Infra wraps a persistence failure. The message is safe to show; err is kept for logs.
func Infra(op string, err error) error {
	return &Error{Kind: KindInfra, Message: op, Err: err}
}

// KindOf reports the classification of err, KindInfra for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInfra
}

// As extracts the classified error, if any.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
