// Package errors defines the error envelope returned by every HTTP endpoint
package errors

import (
	"fmt"
	"net/http"
)

// AppError is a typed failure surfaced to API callers
type AppError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	Status    int    `json:"status"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (e *AppError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
}

// Common error codes
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeUnavailable  = "SERVICE_UNAVAILABLE"
	CodeBadGateway   = "BAD_GATEWAY"
	CodeInternal     = "INTERNAL_ERROR"
)

// Validation rejects malformed input before any store is touched
func Validation(message string, details string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
		Details: details,
		Status:  http.StatusBadRequest,
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
		Status:  http.StatusUnauthorized,
	}
}

func Forbidden(message string) *AppError {
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
		Status:  http.StatusForbidden,
	}
}

func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
		Status:  http.StatusConflict,
	}
}

// Unavailable signals a dependency outage. Callers may retry.
func Unavailable(dependency string, details string) *AppError {
	return &AppError{
		Code:      CodeUnavailable,
		Message:   fmt.Sprintf("%s unavailable", dependency),
		Details:   details,
		Status:    http.StatusServiceUnavailable,
		Retryable: true,
	}
}

func BadGateway(message string, details string) *AppError {
	return &AppError{
		Code:      CodeBadGateway,
		Message:   message,
		Details:   details,
		Status:    http.StatusBadGateway,
		Retryable: true,
	}
}

func Internal(message string, details string) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
		Details: details,
		Status:  http.StatusInternalServerError,
	}
}
