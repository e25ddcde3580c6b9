// Package common holds the error taxonomy shared by every layer of the
// service. Kinds are sentinels compared with errors.Is; *Error attaches a
// short message that is safe to show to clients.
package common

import (
	"errors"
	"fmt"
)

var (
	// input errors
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")

	// authentication errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account inactive")
	ErrUnauthorized       = errors.New("unauthorized")

	// authorization errors
	ErrForbidden = errors.New("forbidden")

	// infrastructure errors
	ErrUploadFailed = errors.New("upload failed")
	ErrInternal     = errors.New("internal error")
)

// Error is a classified error with a client-facing message. Err, when set,
// is the underlying cause; it is logged but never shown to clients.
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

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// New returns an *Error of the given kind.
func New(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return New(ErrValidation, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(ErrConflict, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(ErrNotFound, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return New(ErrForbidden, format, args...)
}

// Internal classifies err as an internal failure of operation op.
func Internal(op string, err error) *Error {
	return &Error{Kind: ErrInternal, Message: "Server error", Err: fmt.Errorf("%s: %w", op, err)}
}

// UploadFailed classifies err as a failure of the external image store.
func UploadFailed(err error) *Error {
	return &Error{Kind: ErrUploadFailed, Message: "Error uploading image", Err: err}
}

// Message returns the client-facing message carried by err, or fallback
// when err is not a classified *Error.
func Message(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallback
}
