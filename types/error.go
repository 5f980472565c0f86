package types

import "fmt"

// ErrorCode represents a unified error code across the library.
type ErrorCode string

const (
	ErrSourceUnavailable ErrorCode = "SOURCE_UNAVAILABLE"
	ErrRetrievalFailed   ErrorCode = "RETRIEVAL_FAILED"
	ErrTimeout           ErrorCode = "TIMEOUT"
	ErrNotFound          ErrorCode = "NOT_FOUND"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrInvalidArgument   ErrorCode = "INVALID_ARGUMENT"
	ErrSnapshotFailed    ErrorCode = "SNAPSHOT_FAILED"
	ErrInternalError     ErrorCode = "INTERNAL_ERROR"
)

// Error is a structured error with code, message, and metadata. Callers can
// distinguish "nothing found" from "backend failed" by code instead of
// relying on logging side channels.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Source    string    `json:"source,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithSource tags the error with the originating retrieval source.
func (e *Error) WithSource(source string) *Error {
	e.Source = source
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}
