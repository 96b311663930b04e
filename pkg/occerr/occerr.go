// Package occerr defines the typed error taxonomy shared across the
// sorter, store, builder, and traversal packages.
package occerr

import (
	"errors"
	"fmt"
)

// Code identifies a member of the error taxonomy.
type Code string

// Input errors.
const (
	CodeCorruptInput      Code = "CORRUPT_INPUT"
	CodeAttributeMismatch Code = "ATTRIBUTE_MISMATCH"
	CodeOverflowMorton    Code = "OVERFLOW_MORTON"
)

// Resource errors.
const (
	CodeQuotaTooSmall Code = "QUOTA_TOO_SMALL"
	CodeOutOfBudget   Code = "OUT_OF_BUDGET"
	CodeNoSpace       Code = "NO_SPACE"
)

// Store errors.
const (
	CodeStoreIO  Code = "STORE_IO"
	CodeNotFound Code = "NOT_FOUND"
)

// Lifecycle errors.
const (
	CodeCancelled Code = "CANCELLED"
)

// Error is a typed application error with a stable code, a message, and
// an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates an *Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an *Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error that wraps an existing error.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Is reports whether err carries the given code, walking the wrap chain.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the taxonomy code from err, or "" if err is not a
// tagged *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
