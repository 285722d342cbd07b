// Package apperr defines the error taxonomy shared by the chat and bot
// services and the transports that sit in front of them.
//
// Every service error is an *Error whose Kind is one of the sentinels below,
// so callers branch with errors.Is(err, apperr.ErrNotFound) regardless of how
// many layers wrapped it.
package apperr

import (
	"errors"
	"net/http"
)

// Error kinds
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInternal     = errors.New("internal error")
)

// Error is a classified error with a caller-facing message.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func NotFound(msg string) error     { return &Error{Kind: ErrNotFound, Message: msg} }
func Conflict(msg string) error     { return &Error{Kind: ErrConflict, Message: msg} }
func BadRequest(msg string) error   { return &Error{Kind: ErrBadRequest, Message: msg} }
func Unauthorized(msg string) error { return &Error{Kind: ErrUnauthorized, Message: msg} }

// Internal wraps an unexpected failure. The cause is kept for logs; Message is
// what callers get to see.
func Internal(msg string, cause error) error {
	return &Error{Kind: ErrInternal, Message: msg, Err: cause}
}

// Message returns the caller-facing text of err. Unclassified errors are
// reported as a generic internal error so causes never leak.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "Internal server error"
}

// HTTPStatus maps an error to its HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
