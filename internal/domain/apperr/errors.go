// Package apperr defines the error kinds surfaced to callers of the service.
//
// Each kind is a sentinel matched with errors.Is. The message attached to an
// *Error is safe to show to the end user verbatim.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned when caller input is missing or malformed
	ErrValidation = errors.New("validation failed")

	// ErrAuthorization is returned when the caller may not act on a record
	ErrAuthorization = errors.New("access denied")

	// ErrStateConflict is returned when the record's status forbids the action
	ErrStateConflict = errors.New("state conflict")

	// ErrNotFound is returned when a referenced record does not exist
	ErrNotFound = errors.New("not found")

	// ErrBusy is returned when a lock could not be acquired in time
	ErrBusy = errors.New("busy")

	// ErrDependency is returned when storage or another collaborator fails
	ErrDependency = errors.New("dependency failure")
)

// Error carries a user-facing message together with its kind
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As
func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

func newError(kind error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) error {
	return newError(ErrValidation, format, args...)
}

func Authorization(format string, args ...interface{}) error {
	return newError(ErrAuthorization, format, args...)
}

func StateConflict(format string, args ...interface{}) error {
	return newError(ErrStateConflict, format, args...)
}

func NotFound(format string, args ...interface{}) error {
	return newError(ErrNotFound, format, args...)
}

func Busy(format string, args ...interface{}) error {
	return newError(ErrBusy, format, args...)
}

// Dependency wraps a collaborator failure with a short description of the step
func Dependency(cause error, format string, args ...interface{}) error {
	e := newError(ErrDependency, format, args...)
	e.Cause = cause
	return e
}

// Message returns the text that may be shown to the caller.
// Dependency failures keep their cause out of the message.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// Kind reports which sentinel the error belongs to, or nil when unclassified
func Kind(err error) error {
	for _, kind := range []error{ErrValidation, ErrAuthorization, ErrStateConflict, ErrNotFound, ErrBusy, ErrDependency} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// IsBusy is a shorthand used by the transport layer
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}
