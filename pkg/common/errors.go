package common

import (
	"errors"
	"net/http"
)

// Common error types
var (
	ErrBadRequest     = errors.New("bad request")
	ErrValidation     = errors.New("validation error")
	ErrInternalServer = errors.New("internal server error")
	ErrUnavailable    = errors.New("service unavailable")
	ErrRateLimited    = errors.New("rate limit exceeded")
)

// Stable machine-readable error codes used in the wire envelope.
const (
	CodeInvalidRequest   = "invalid_request"
	CodeValidationFailed = "validation_failed"
	CodePayloadTooLarge  = "payload_too_large"
	CodeRateLimited      = "rate_limited"
	CodeInternalError    = "internal_error"
	CodeNotFound         = "not_found"
	CodeMethodNotAllowed = "method_not_allowed"
)

// AppError represents an application error with HTTP status code
type AppError struct {
	Code      int    `json:"code"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	Err       error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes the wrapped cause to errors.Is/As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError
func NewAppError(code int, errorCode, message string, err error) *AppError {
	return &AppError{
		Code:      code,
		ErrorCode: errorCode,
		Message:   message,
		Err:       err,
	}
}

// NewBadRequestError marks input the server could not parse at all.
func NewBadRequestError(message string, err error) *AppError {
	return &AppError{
		Code:      http.StatusBadRequest,
		ErrorCode: CodeInvalidRequest,
		Message:   message,
		Err:       err,
	}
}

// NewValidationError marks well-formed input that failed a field rule.
// field may be empty when the failure is not attributable to one field.
func NewValidationError(message, field string) *AppError {
	return &AppError{
		Code:      http.StatusUnprocessableEntity,
		ErrorCode: CodeValidationFailed,
		Message:   message,
		Field:     field,
		Err:       ErrValidation,
	}
}

// NewPayloadTooLargeError marks a request body over the configured cap.
func NewPayloadTooLargeError(message string) *AppError {
	return &AppError{
		Code:      http.StatusRequestEntityTooLarge,
		ErrorCode: CodePayloadTooLarge,
		Message:   message,
		Err:       ErrBadRequest,
	}
}

// NewTooManyRequestsError marks a rate-limited caller.
func NewTooManyRequestsError(message string) *AppError {
	return &AppError{
		Code:      http.StatusTooManyRequests,
		ErrorCode: CodeRateLimited,
		Message:   message,
		Err:       ErrRateLimited,
	}
}

// NewInternalError marks an unexpected fault. Provider outages never take
// this path; they degrade to fallbacks instead.
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:      http.StatusInternalServerError,
		ErrorCode: CodeInternalError,
		Message:   message,
		Err:       err,
	}
}
