package common

import (
	"errors"
	"net/http"
)

// Stable error codes surfaced to API clients. Client apps key UI behaviour
// off these strings, so they must never change.
const (
	CodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
	CodeRideNotFound        = "RIDE_NOT_FOUND"
	CodeInvalidState        = "INVALID_STATE"
	CodeUnauthorizedDriver  = "UNAUTHORIZED_DRIVER"
	CodeRideAlreadyAccepted = "RIDE_ALREADY_ACCEPTED"
	CodeCannotCancel        = "CANNOT_CANCEL"
	CodeValidation          = "VALIDATION_ERROR"
	CodeIdempotencyMismatch = "IDEMPOTENCY_KEY_MISMATCH"
)

// Common error types
var (
	ErrNotFound       = errors.New("resource not found")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")
	ErrConflict       = errors.New("resource conflict")
	ErrValidation     = errors.New("validation error")
	ErrUnavailable    = errors.New("service unavailable")
)

// AppError represents an application error with HTTP status code and a
// stable, machine-readable error code.
type AppError struct {
	Code      int    `json:"code"`
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message"`
	Err       error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As.
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

func NewNotFoundError(errorCode, message string) *AppError {
	return &AppError{
		Code:      http.StatusNotFound,
		ErrorCode: errorCode,
		Message:   message,
		Err:       ErrNotFound,
	}
}

// NewPreconditionError covers wrong-state and wrong-actor rejections
// (INVALID_STATE, UNAUTHORIZED_DRIVER, CANNOT_CANCEL). They surface as 400
// with the stable code so client apps can render a precise message.
func NewPreconditionError(errorCode, message string) *AppError {
	return &AppError{
		Code:      http.StatusBadRequest,
		ErrorCode: errorCode,
		Message:   message,
		Err:       ErrBadRequest,
	}
}

// NewConflictError covers losing an optimistic-lock race or replaying an
// idempotency key with a different body.
func NewConflictError(errorCode, message string) *AppError {
	return &AppError{
		Code:      http.StatusConflict,
		ErrorCode: errorCode,
		Message:   message,
		Err:       ErrConflict,
	}
}

func NewUnavailableError(message string) *AppError {
	return &AppError{
		Code:      http.StatusServiceUnavailable,
		ErrorCode: CodeServiceUnavailable,
		Message:   message,
		Err:       ErrUnavailable,
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:      http.StatusBadRequest,
		ErrorCode: CodeValidation,
		Message:   message,
		Err:       ErrValidation,
	}
}

func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:    http.StatusInternalServerError,
		Message: message,
		Err:     err,
	}
}
