package errors

import (
	"fmt"
	"net/http"
)

// Error codes for the chat relay error taxonomy. Every failure in the core is
// scoped to a single connection or a single chat turn; none are fatal.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeAuth         = "AUTH_ERROR"
	CodeAuthRequired = "AUTH_REQUIRED"
	CodeTransport    = "TRANSPORT_ERROR"
	CodeProtocol     = "PROTOCOL_ERROR"
	CodeConflict     = "CONFLICT"
	CodeInternal     = "INTERNAL_ERROR"
)

// AppError represents an application error with HTTP status code and error code
type AppError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// NewError creates a new application error
func NewError(statusCode int, code string, message string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
	}
}

// NewValidationError creates an error for malformed or empty input
func NewValidationError(message string) *AppError {
	return NewError(http.StatusBadRequest, CodeValidation, message)
}

// NewAuthError creates an error for missing, invalid or expired credentials
func NewAuthError(message string) *AppError {
	return NewError(http.StatusUnauthorized, CodeAuth, message)
}

// NewAuthRequiredError creates an error for operations attempted before authentication
func NewAuthRequiredError(message string) *AppError {
	return NewError(http.StatusUnauthorized, CodeAuthRequired, message)
}

// NewTransportError creates an error for backend failures (unreachable, non-2xx, aborted stream)
func NewTransportError(message string) *AppError {
	return NewError(http.StatusBadGateway, CodeTransport, message)
}

// NewProtocolError creates an error for unknown frame tags
func NewProtocolError(message string) *AppError {
	return NewError(http.StatusBadRequest, CodeProtocol, message)
}

// NewConflictError creates a 409 Conflict error
func NewConflictError(message string) *AppError {
	return NewError(http.StatusConflict, CodeConflict, message)
}

// NewInternalServerError creates a 500 Internal Server Error
func NewInternalServerError(message string) *AppError {
	return NewError(http.StatusInternalServerError, CodeInternal, message)
}

// FromError converts any error into an AppError, wrapping unknown errors as internal
func FromError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return NewInternalServerError(err.Error())
}

// Is checks if the target error carries the same code
func Is(err error, target *AppError) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Code == target.Code
}
