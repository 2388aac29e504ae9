// internal/services/vendor_errors.go
package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	apperrors "github.com/Corphon/ShelfTalk/internal/errors"
	"github.com/Corphon/ShelfTalk/internal/llm"
)

// classifyVendorError turns a text-generation failure into an AppError whose
// message keeps the "(reason)" suffix clients display.
func classifyVendorError(err error, action string) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewTimeoutError(action+" (request timed out)", err)
	case errors.Is(err, context.Canceled):
		return apperrors.NewAppError(apperrors.ErrorTypeError, action+" (request cancelled)", err)
	case errors.Is(err, ErrLLMNotReady):
		return apperrors.NewServiceUnavailableError(action+" (service unavailable)", err)
	}

	var apiErr *llm.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return apperrors.NewRateLimitError(action+" (rate limited)", err)
	}
	return apperrors.NewServiceUnavailableError(action+" (service unavailable)", err)
}

// withStageTimeout bounds ctx by d when d is positive.
func withStageTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
