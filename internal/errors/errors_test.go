// internal/errors/errors_test.go
package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	base := NewVideoGenerationError("No videos were created successfully", nil)
	wrapped := fmt.Errorf("session s1: %w", base)

	assert.True(t, IsVideoGenerationError(wrapped))
	assert.False(t, IsValidationError(wrapped))
	assert.Equal(t, ErrorTypeVideoGeneration, TypeOf(wrapped))
	assert.Equal(t, ErrorType(""), TypeOf(errors.New("plain")))
}

func TestCodes(t *testing.T) {
	assert.Equal(t, "VALIDATION_ERROR", NewValidationError("x", nil).Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", NewRateLimitError("x", nil).Code)
	assert.Equal(t, "EMPTY_RESULT", NewEmptyResultError("x", nil).Code)
	assert.Equal(t, "STORAGE_ERROR", NewStorageError("x", nil).Code)
}

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := NewServiceUnavailableError("Failed to generate summary (service unavailable)", cause)

	assert.Equal(t, "Failed to generate summary (service unavailable): dial tcp: refused", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestWrapErrorKeepsType(t *testing.T) {
	inner := NewNotFoundError("document not found", nil)
	err := WrapError(inner, "render", ErrorTypeError)

	assert.True(t, IsNotFoundError(err))
	assert.Contains(t, err.Error(), "render: document not found")

	err = WrapError(errors.New("disk full"), "save", ErrorTypeStorage)
	assert.Equal(t, ErrorTypeStorage, TypeOf(err))
	assert.Nil(t, WrapError(nil, "noop", ErrorTypeError))
}
