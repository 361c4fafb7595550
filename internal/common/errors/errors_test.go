package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodePreconditionFailed, http.StatusBadRequest},
		{ErrCodeUnauthenticated, http.StatusUnauthorized},
		{ErrCodePermissionDenied, http.StatusForbidden},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeInvalidTransition, http.StatusConflict},
		{ErrCodeDuplicateApplication, http.StatusConflict},
		{ErrCodeFormationFull, http.StatusConflict},
		{ErrCodeRateLimited, http.StatusTooManyRequests},
		{ErrCodeProvider, http.StatusInternalServerError},
		{ErrCodeQueryExecutionFailed, http.StatusInternalServerError},
		{ErrCodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.code))
		})
	}
}

func TestHasCode_WrappedChain(t *testing.T) {
	base := NewInvalidTransitionError("application", "approved", "approved")
	wrapped := fmt.Errorf("approve app-1: %w", base)

	assert.True(t, HasCode(wrapped, ErrCodeInvalidTransition))
	assert.False(t, HasCode(wrapped, ErrCodeNotFound))
	assert.False(t, HasCode(fmt.Errorf("plain"), ErrCodeInternal))
}

func TestNormalize(t *testing.T) {
	stdErr := Normalize(fmt.Errorf("boom"))
	assert.Equal(t, ErrCodeInternal, stdErr.Code)
	assert.Equal(t, "boom", stdErr.Details)

	original := NewNotFoundError("notification", "n-1")
	assert.Same(t, original, Normalize(fmt.Errorf("ctx: %w", original)))
}

func TestStandardError_Message(t *testing.T) {
	err := NewPermissionDeniedError("recruiter does not instruct formation")
	assert.Equal(t, "StandardError[PERMISSION_DENIED]: Permission denied", err.Error())
	assert.False(t, err.Retryable)

	transition := NewInvalidTransitionError("application", "rejected", "approved")
	assert.Equal(t, "rejected", transition.Metadata["from"])
	assert.Equal(t, "approved", transition.Metadata["to"])
}

func TestConvertToBPMNError(t *testing.T) {
	tests := []struct {
		name        string
		err         *StandardError
		wantRetries int
	}{
		{"provider failure retries", NewProviderError("vertexai", fmt.Errorf("quota")), 3},
		{"scoring timeout retries once", NewScoringTimeoutError(), 1},
		{"not found is a business error", NewNotFoundError("application", "a-1"), 0},
		{"precondition is a business error", NewPreconditionFailedError("no cv", "application has no cv"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bpmn := ConvertToBPMNError(tt.err)
			assert.Equal(t, string(tt.err.Code), bpmn.Code)
			assert.Equal(t, tt.wantRetries, bpmn.Retries)

			vars := bpmn.ToErrorVariables()
			assert.Equal(t, string(tt.err.Code), vars["errorCode"])
			assert.Equal(t, string(tt.err.Code), vars["originalErrorCode"])
		})
	}
}

func TestRemainingRetries(t *testing.T) {
	assert.Equal(t, int32(0), RemainingRetries(0, 3))
	assert.Equal(t, int32(2), RemainingRetries(3, 3))
	assert.Equal(t, int32(3), RemainingRetries(10, 3))
}

func TestGetErrorCategory(t *testing.T) {
	require.Equal(t, "AUTH", GetErrorCategory(ErrCodePermissionDenied))
	require.Equal(t, "LIFECYCLE", GetErrorCategory(ErrCodeFormationFull))
	require.Equal(t, "DATABASE", GetErrorCategory(ErrCodeQueryExecutionFailed))
	require.Equal(t, "PROVIDER", GetErrorCategory(ErrCodeProvider))
	require.Equal(t, "NOTIFICATION", GetErrorCategory(ErrCodeNotificationSendFailed))
	require.Equal(t, "VALIDATION", GetErrorCategory(ErrCodeValidation))
	require.Equal(t, "OTHER", GetErrorCategory(ErrCodeRateLimited))
}
