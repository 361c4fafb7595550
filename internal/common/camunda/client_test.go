package camunda

import (
	"context"
	"fmt"
	"testing"
	"time"

	"formation-review/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRetry = &RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func TestWithRetry_RetriesTransientErrors(t *testing.T) {
	calls := 0

	result, err := withRetry(context.Background(), testRetry, "create-instance", func(ctx context.Context) (int64, error) {
		calls++
		if calls < 3 {
			return 0, fmt.Errorf("rpc error: code = Unavailable")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, int64(42), result)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_StopsOnBusinessError(t *testing.T) {
	calls := 0

	_, err := withRetry(context.Background(), testRetry, "create-instance", func(ctx context.Context) (int64, error) {
		calls++
		return 0, fmt.Errorf("process definition with id application-cv-analysis not found")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNotFound))
}

func TestWithRetry_ExhaustedBecomesProviderError(t *testing.T) {
	calls := 0

	_, err := withRetry(context.Background(), testRetry, "create-instance", func(ctx context.Context) (int64, error) {
		calls++
		return 0, fmt.Errorf("context deadline exceeded")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, errors.HasCode(err, errors.ErrCodeProvider))
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := withRetry(ctx, &RetryConfig{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}, "create-instance",
		func(ctx context.Context) (int64, error) {
			return 0, fmt.Errorf("unavailable")
		})

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeProvider))
}

func TestMapZeebeError(t *testing.T) {
	tests := []struct {
		msg  string
		want errors.ErrorCode
	}{
		{"connection refused", errors.ErrCodeProvider},
		{"permission denied", errors.ErrCodeUnauthenticated},
		{"invalid argument: variables", errors.ErrCodeValidation},
		{"process not found", errors.ErrCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := mapZeebeError(fmt.Errorf("%s", tt.msg), "op", 0)
			assert.True(t, errors.HasCode(err, tt.want))
		})
	}
}
