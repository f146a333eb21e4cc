package httputil

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error code returned to callers. The set is
// closed: handlers never invent new codes.
type Code string

const (
	CodeUnauthenticated    Code = "unauthenticated"
	CodePermissionDenied   Code = "permission-denied"
	CodeInvalidArgument    Code = "invalid-argument"
	CodeFailedPrecondition Code = "failed-precondition"
	CodeNotFound           Code = "not-found"
	CodeInternal           Code = "internal"
)

// HTTPStatus maps a code to its HTTP status
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeFailedPrecondition:
		return http.StatusPreconditionFailed
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// CallError is a typed error carrying a Code across service boundaries.
// Services return a CallError for expected failures; anything else is
// re-wrapped as internal at the invocation surface with the cause attached
// for diagnostics.
type CallError struct {
	Code    Code
	Message string
	cause   error
}

func (e *CallError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is/As chains
func (e *CallError) Unwrap() error {
	return e.cause
}

// NewCallError creates a typed error with the given code
func NewCallError(code Code, message string) *CallError {
	return &CallError{Code: code, Message: message}
}

// Errorf creates a typed error with a formatted message
func Errorf(code Code, format string, args ...interface{}) *CallError {
	return &CallError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected error as an internal CallError. An error that
// is already a CallError propagates unchanged.
func Internal(message string, cause error) error {
	var ce *CallError
	if errors.As(cause, &ce) {
		return ce
	}
	return &CallError{Code: CodeInternal, Message: message, cause: cause}
}

// AsCallError extracts a CallError from an error chain, or synthesizes an
// internal one
func AsCallError(err error) *CallError {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce
	}
	return &CallError{Code: CodeInternal, Message: "internal error", cause: err}
}

// WriteCallError writes a typed error response. Internal causes are never
// leaked to the caller; they are available to the logging layer via Unwrap.
func WriteCallError(w http.ResponseWriter, err error) {
	ce := AsCallError(err)
	WriteJSON(w, ce.Code.HTTPStatus(), map[string]string{
		"error": ce.Message,
		"code":  string(ce.Code),
	})
}
