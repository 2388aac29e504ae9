// internal/api/error_codes.go
package api

import (
	"net/http"

	apperrors "github.com/Corphon/ShelfTalk/internal/errors"
)

// API error codes that do not come from an AppError.
const (
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorUnauthorized  = "UNAUTHORIZED"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"

	ErrorFileInvalid      = "FILE_INVALID"
	ErrorFileTooLarge     = "FILE_TOO_LARGE"
	ErrorFileUploadFailed = "FILE_UPLOAD_FAILED"

	ErrorLLMConfigInvalid = "LLM_CONFIG_INVALID"
	ErrorWebSocketFailed  = "WEBSOCKET_FAILED"
)

// statusForType maps AppError types to HTTP statuses.
var statusForType = map[apperrors.ErrorType]int{
	apperrors.ErrorTypeValidation:         http.StatusBadRequest,
	apperrors.ErrorTypeNotFound:           http.StatusNotFound,
	apperrors.ErrorTypeUnauthorized:       http.StatusUnauthorized,
	apperrors.ErrorTypeForbidden:          http.StatusForbidden,
	apperrors.ErrorTypeConflict:           http.StatusConflict,
	apperrors.ErrorTypeTimeout:            http.StatusGatewayTimeout,
	apperrors.ErrorTypeRateLimit:          http.StatusTooManyRequests,
	apperrors.ErrorTypeServiceUnavailable: http.StatusServiceUnavailable,
	apperrors.ErrorTypeMalformedResponse:  http.StatusBadGateway,
	apperrors.ErrorTypeEmptyResult:        http.StatusBadGateway,
	apperrors.ErrorTypeVideoGeneration:    http.StatusBadGateway,
	apperrors.ErrorTypeStorage:            http.StatusInternalServerError,
	apperrors.ErrorTypeError:              http.StatusInternalServerError,
}

// httpStatus returns the status for an AppError type, 500 when unknown.
func httpStatus(t apperrors.ErrorType) int {
	if status, ok := statusForType[t]; ok {
		return status
	}
	return http.StatusInternalServerError
}
