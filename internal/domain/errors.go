// Package domain provides the canonical types and error taxonomy for the
// gateway.
package domain

import (
	"fmt"
	"net/http"
)

// ErrorType represents the category of an API error.
type ErrorType string

const (
	// ErrorTypeValidation indicates bad input shape or range.
	ErrorTypeValidation ErrorType = "validation"

	// ErrorTypeUnauthorized indicates a bad or expired session token or
	// API key.
	ErrorTypeUnauthorized ErrorType = "unauthorized"

	// ErrorTypeForbidden indicates an ownership or permission mismatch.
	ErrorTypeForbidden ErrorType = "forbidden"

	// ErrorTypeNotFound indicates an unknown key or user.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeUpstream indicates a failed upstream provider call.
	ErrorTypeUpstream ErrorType = "upstream"

	// ErrorTypeTimeout indicates the upstream call exceeded its deadline.
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeConfiguration indicates a missing provider credential or
	// other deployment misconfiguration.
	ErrorTypeConfiguration ErrorType = "configuration"

	// ErrorTypeServer indicates an internal failure.
	ErrorTypeServer ErrorType = "server"
)

// APIError is the canonical error crossing the HTTP boundary. All failures
// from the credential, routing, and forwarding layers are converted into one
// of these before reaching the caller.
type APIError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`

	// StatusCode overrides the default mapping when set.
	StatusCode int `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HTTPStatusCode returns the HTTP status for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case ErrorTypeForbidden:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeUpstream, ErrorTypeConfiguration, ErrorTypeServer:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// WithStatusCode sets a specific HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// Convenience constructors.

func ErrValidation(format string, args ...any) *APIError {
	return &APIError{Type: ErrorTypeValidation, Message: fmt.Sprintf(format, args...)}
}

func ErrUnauthorized(message string) *APIError {
	return &APIError{Type: ErrorTypeUnauthorized, Message: message}
}

func ErrForbidden(message string) *APIError {
	return &APIError{Type: ErrorTypeForbidden, Message: message}
}

func ErrNotFound(message string) *APIError {
	return &APIError{Type: ErrorTypeNotFound, Message: message}
}

func ErrUpstream(format string, args ...any) *APIError {
	return &APIError{Type: ErrorTypeUpstream, Message: fmt.Sprintf(format, args...)}
}

func ErrTimeout(message string) *APIError {
	return &APIError{Type: ErrorTypeTimeout, Message: message}
}

func ErrConfiguration(format string, args ...any) *APIError {
	return &APIError{Type: ErrorTypeConfiguration, Message: fmt.Sprintf(format, args...)}
}

func ErrServer(message string) *APIError {
	return &APIError{Type: ErrorTypeServer, Message: message}
}
