package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithBackoff_SucceedsAfterTransientFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	calls := 0

	err := WithBackoff(func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}, 5, time.Millisecond, zap.New(core), "PostgreSQL connection")

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "PostgreSQL connection failed, retrying...", logs.All()[0].Message)
	assert.Equal(t, int64(2), logs.All()[1].ContextMap()["attempt"])
}

func TestWithBackoff_GivesUp(t *testing.T) {
	cause := errors.New("no route to host")
	calls := 0

	err := WithBackoff(func() error {
		calls++
		return cause
	}, 3, time.Millisecond, zap.NewNop(), "Redis connection")

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "Redis connection failed after 3 attempts")
}
