// Package apperr defines the coded error type shared by all pipeline stages.
// Every user-visible failure carries a stable machine code plus a human
// message; the code families are documented on the constants below.
package apperr

import (
	"errors"
	"fmt"
)

// Error is a coded application error. Code is a stable identifier surfaced to
// API clients and written into the task's error slot; Message is free text.
type Error struct {
	Code    string
	Message string

	// wrapped is the underlying cause, if any.
	wrapped error
}

// New creates a coded error.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a coded error that records an underlying cause.
func Wrap(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, wrapped: err}
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.wrapped
}

// CodeOf extracts the application error code from err. Errors that do not
// carry a code map to fallback.
func CodeOf(err error, fallback string) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return fallback
}

// MessageOf extracts the application error message from err, falling back to
// err.Error() for uncoded errors.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// Is reports whether target is an *Error with the same code. Message text is
// deliberately ignored so callers can match on code alone.
func (e *Error) Is(target error) bool {
	var ae *Error
	if !errors.As(target, &ae) {
		return false
	}
	return e.Code == ae.Code
}

// Common codes used across more than one package. Stage-specific codes live
// next to the stage that raises them.
const (
	CodeTaskNotFound   = "TASK_NOT_FOUND"
	CodeInvalidRequest = "INVALID_REQUEST"
)
