// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies an application error.
type ErrorType string

const (
	ErrorTypeValidation         ErrorType = "validation_error"
	ErrorTypeNotFound           ErrorType = "not_found"
	ErrorTypeError              ErrorType = "processing_error"
	ErrorTypeUnauthorized       ErrorType = "unauthorized"
	ErrorTypeForbidden          ErrorType = "forbidden"
	ErrorTypeConflict           ErrorType = "conflict"
	ErrorTypeTimeout            ErrorType = "timeout"
	ErrorTypeRateLimit          ErrorType = "rate_limit"
	ErrorTypeServiceUnavailable ErrorType = "service_unavailable"
	ErrorTypeMalformedResponse  ErrorType = "malformed_response"
	ErrorTypeEmptyResult        ErrorType = "empty_result"
	ErrorTypeVideoGeneration    ErrorType = "video_generation"
	ErrorTypeStorage            ErrorType = "storage_error"
)

// AppError is the error type shared by services and handlers.
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string // stable code exposed to API clients
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError builds an AppError of the given type.
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

func NewProcessingError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeError, message, originalError)
}

func NewUnauthorizedError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeUnauthorized, message, originalError)
}

func NewForbiddenError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeForbidden, message, originalError)
}

func NewConflictError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConflict, message, originalError)
}

func NewTimeoutError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeTimeout, message, originalError)
}

func NewRateLimitError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeRateLimit, message, originalError)
}

// NewServiceUnavailableError reports a transport or vendor failure.
func NewServiceUnavailableError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeServiceUnavailable, message, originalError)
}

// NewMalformedResponseError reports a vendor reply that violates the expected shape.
func NewMalformedResponseError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeMalformedResponse, message, originalError)
}

// NewEmptyResultError reports a successful vendor call that produced nothing usable.
func NewEmptyResultError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeEmptyResult, message, originalError)
}

func NewVideoGenerationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeVideoGeneration, message, originalError)
}

func NewStorageError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeStorage, message, originalError)
}

// TypeOf returns the ErrorType of err, or "" when err is not an AppError.
func TypeOf(err error) ErrorType {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type
	}
	return ""
}

func IsValidationError(err error) bool   { return TypeOf(err) == ErrorTypeValidation }
func IsNotFoundError(err error) bool     { return TypeOf(err) == ErrorTypeNotFound }
func IsUnauthorizedError(err error) bool { return TypeOf(err) == ErrorTypeUnauthorized }
func IsForbiddenError(err error) bool    { return TypeOf(err) == ErrorTypeForbidden }
func IsConflictError(err error) bool     { return TypeOf(err) == ErrorTypeConflict }
func IsTimeoutError(err error) bool      { return TypeOf(err) == ErrorTypeTimeout }

func IsServiceUnavailableError(err error) bool {
	return TypeOf(err) == ErrorTypeServiceUnavailable
}

func IsMalformedResponseError(err error) bool {
	return TypeOf(err) == ErrorTypeMalformedResponse
}

func IsEmptyResultError(err error) bool {
	return TypeOf(err) == ErrorTypeEmptyResult
}

func IsVideoGenerationError(err error) bool {
	return TypeOf(err) == ErrorTypeVideoGeneration
}

func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeError:
		return "PROCESSING_ERROR"
	case ErrorTypeUnauthorized:
		return "UNAUTHORIZED"
	case ErrorTypeForbidden:
		return "FORBIDDEN"
	case ErrorTypeConflict:
		return "CONFLICT"
	case ErrorTypeTimeout:
		return "TIMEOUT"
	case ErrorTypeRateLimit:
		return "RATE_LIMIT_EXCEEDED"
	case ErrorTypeServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	case ErrorTypeMalformedResponse:
		return "MALFORMED_RESPONSE"
	case ErrorTypeEmptyResult:
		return "EMPTY_RESULT"
	case ErrorTypeVideoGeneration:
		return "VIDEO_GENERATION_FAILED"
	case ErrorTypeStorage:
		return "STORAGE_ERROR"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError prefixes err with message, keeping the type of an existing AppError.
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
		}
	}

	return NewAppError(errType, message, err)
}
