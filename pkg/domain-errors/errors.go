// Package domainerrors provides coded errors shared by services, stores and the CLI.
//
// A coded error carries a stable machine-readable Code alongside a human message
// and an optional wrapped cause. Callers branch on codes with HasCode instead of
// comparing messages.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers and transports.
type Code string

const (
	CodeInvalidInput         Code = "invalid_input"
	CodeBadRequest           Code = "bad_request"
	CodeValidation           Code = "validation_error"
	CodeInvalidConfiguration Code = "invalid_configuration"
	CodeInvariantViolation   Code = "invariant_violation"
	CodeNotFound             Code = "not_found"
	CodeConflict             Code = "conflict"
	CodeInternal             Code = "internal_error"
	CodeTimeout              Code = "timeout"
	CodeMissingConsent       Code = "missing_consent"
	CodeUnavailable          Code = "unavailable"
)

// Error is a coded domain error.
type Error struct {
	Code    Code
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

// New creates a coded error without a cause.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
// Wrapping a nil error returns nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode reports whether any coded error in err's chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// Is reports whether the outermost coded error in err's chain carries code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of the outermost coded error, or CodeInternal when
// err carries no code.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
