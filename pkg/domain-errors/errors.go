package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error so callers can react without string matching.
type Code string

const (
	// CodeInvalidInput marks messages rejected before any mutation attempt:
	// blank identifiers, malformed type codes, missing required timestamps.
	CodeInvalidInput Code = "invalid_input"
	// CodeIgnored marks events that are plausible but require no action.
	CodeIgnored Code = "ignored"
	// CodeContradiction marks events that conflict with recorded state in a
	// way that cannot be resolved automatically.
	CodeContradiction Code = "contradiction"
	// CodeUnsupportedKind marks operation kinds the engine does not model.
	CodeUnsupportedKind Code = "unsupported_kind"
	// CodeUnavailable marks transient infrastructure failures that may be
	// retried with the original message.
	CodeUnavailable Code = "unavailable"
	// CodeInternal marks unexpected failures.
	CodeInternal Code = "internal"
)

// Error is a coded domain error. Construct via New or Wrap.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error without a cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// CodeOf returns the code of err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
