// Package dErrors provides coded domain errors. Stores return infrastructure
// sentinels (pkg/platform/sentinel); services translate them into these coded
// errors so transports can map outcomes without string matching.
package dErrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error for callers and transports.
type Code string

const (
	CodeNotFound          Code = "not_found"
	CodeForbidden         Code = "forbidden"
	CodeUnauthorized      Code = "unauthorized"
	CodeIllegalTransition Code = "illegal_transition"
	CodeInvalidState      Code = "invalid_state"
	CodeValidationFailed  Code = "validation_failed"
	CodeExhaustedRetries  Code = "exhausted_retries"
	CodePersistence       Code = "persistence_failure"
	CodeInvalidInput      Code = "invalid_input"
	CodeBadRequest        Code = "bad_request"
	CodeTimeout           Code = "timeout"
	CodeInternal          Code = "internal"
)

// Error is a coded domain error. It wraps an optional cause for errors.Is/As.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
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

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code onto an HTTP status for the transport layer.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeForbidden:
		return http.StatusForbidden
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeIllegalTransition, CodeInvalidState:
		return http.StatusConflict
	case CodeValidationFailed, CodeInvalidInput, CodeBadRequest:
		return http.StatusBadRequest
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeExhaustedRetries, CodePersistence, CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
