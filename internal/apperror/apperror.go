// Package apperror defines the error codes reported across the bridge boundary.
// Codes are strings so they serialize naturally into channel responses and events.
package apperror

import (
	"context"
	"errors"
	"fmt"
)

// Code identifies a class of failure.
type Code string

const (
	// CodeUnauthorized indicates no credential is available for the remote store.
	CodeUnauthorized Code = "UNAUTHORIZED"

	// CodeInvalidArgument indicates a required argument is missing or malformed.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// CodeDuplicateID indicates a task ID collides with a live task.
	CodeDuplicateID Code = "DUPLICATE_ID"

	// CodeStore wraps a failure reported by the remote store.
	CodeStore Code = "STORE_ERROR"

	// CodeIO indicates a local file could not be opened, read or written.
	CodeIO Code = "IO_ERROR"

	// CodeInvalidTarget indicates a download was requested for a non-file entry.
	CodeInvalidTarget Code = "INVALID_TARGET"

	// CodeCancelled indicates the task was cancelled before it finished.
	CodeCancelled Code = "CANCELLED"

	// CodeNotImplemented indicates the requested channel method is not supported.
	CodeNotImplemented Code = "NOT_IMPLEMENTED"

	// CodeInternal indicates an unclassified failure.
	CodeInternal Code = "INTERNAL_ERROR"
)

// Error is a coded error. Message is what a caller sees; Err is the cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error with a message and no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to err. A nil err yields nil.
func Wrap(code Code, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf reports the code of the first coded error in err's chain. Context
// cancellation maps to CodeCancelled; anything else uncoded is CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	if errors.Is(err, context.Canceled) {
		return CodeCancelled
	}
	return CodeInternal
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
