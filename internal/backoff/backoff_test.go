package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRetryable = errors.New("retryable")

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		return nil
	}, func(error) bool { return true })
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		return errRetryable
	}, func(error) bool { return true })
	assert.ErrorIs(t, err, errRetryable)
	assert.Equal(t, 3, calls)
}

func TestRetryRecoversMidway(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errRetryable
		}
		return nil
	}, func(error) bool { return true })
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		return permanent
	}, func(err error) bool { return errors.Is(err, errRetryable) })
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, Policy{MaxAttempts: 10, BaseDelay: time.Hour, MaxDelay: time.Hour}, func(ctx context.Context) error {
		calls++
		cancel()
		return errRetryable
	}, func(error) bool { return true })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
