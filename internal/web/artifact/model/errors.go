package model

import (
	"fmt"

	"github.com/Laisky/errors/v2"
)

// ErrorCode identifies a machine-stable artifact error code.
type ErrorCode string

const (
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeInvalidArgument    ErrorCode = "INVALID_ARGUMENT"
	ErrCodeMalformed          ErrorCode = "MALFORMED"
	ErrCodeExpired            ErrorCode = "EXPIRED"
	ErrCodeWrongOwner         ErrorCode = "WRONG_OWNER"
	ErrCodeDownloadsExhausted ErrorCode = "DOWNLOADS_EXHAUSTED"
	ErrCodeIPNotAllowed       ErrorCode = "IP_NOT_ALLOWED"
	ErrCodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	ErrCodeTimeout            ErrorCode = "TIMEOUT"
	ErrCodeIntegrityFailed    ErrorCode = "INTEGRITY_FAILED"
	ErrCodePayloadTooLarge    ErrorCode = "PAYLOAD_TOO_LARGE"
)

// Error is a typed artifact error, Hint tells the user what to do next.
type Error struct {
	Code      ErrorCode
	Message   string
	Hint      string
	Retryable bool
	cause     error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e == nil {
		return "artifact error: <nil>"
	}

	msg := e.Message
	if msg == "" {
		msg = fmt.Sprintf("artifact error: %s", e.Code)
	}
	if e.cause != nil {
		return msg + ": " + e.cause.Error()
	}

	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// NewError constructs a typed artifact error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithHint sets the actionable next step shown to the user.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// WithCause attaches the underlying error.
func (e *Error) WithCause(cause error) *Error {
	e.cause = cause
	return e
}

// ErrNotFound is returned when no live artifact exists for the key.
func ErrNotFound(userID, pluginName string) *Error {
	return NewError(ErrCodeNotFound,
		fmt.Sprintf("no compiled artifact for plugin %q of user %q", pluginName, userID)).
		WithHint("compile your plugin first")
}

// ErrStorageUnavailable wraps a storage driver failure.
func ErrStorageUnavailable(cause error) *Error {
	return &Error{
		Code:      ErrCodeStorageUnavailable,
		Message:   "artifact storage unavailable",
		Retryable: true,
		cause:     cause,
	}
}

// ErrBackendUnavailable wraps a build backend transport failure.
func ErrBackendUnavailable(cause error) *Error {
	return &Error{
		Code:      ErrCodeBackendUnavailable,
		Message:   "build backend unavailable",
		Retryable: true,
		cause:     cause,
	}
}

// ErrTimeout wraps a deadline hit while talking to a collaborator.
func ErrTimeout(cause error) *Error {
	return &Error{
		Code:      ErrCodeTimeout,
		Message:   "request to build backend timed out",
		Retryable: true,
		cause:     cause,
	}
}

// AsError extracts a typed artifact error from the error chain.
func AsError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed, true
	}

	return nil, false
}

// IsCode reports whether the error chain contains the given code.
func IsCode(err error, code ErrorCode) bool {
	if typed, ok := AsError(err); ok {
		return typed.Code == code
	}

	return false
}
