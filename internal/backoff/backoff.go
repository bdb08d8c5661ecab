// Package backoff retries an operation with bounded exponential delays.
package backoff

import (
	"context"
	"time"
)

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy bounds transient provider-call retries: 3 attempts, 200ms
// base delay doubling up to 2s.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   200 * time.Millisecond,
	MaxDelay:    2 * time.Second,
}

// Retry runs op until it succeeds, retryable reports false, the attempt
// budget is spent, or the context is cancelled. The last error is returned.
func Retry(ctx context.Context, policy Policy, op func(ctx context.Context) error, retryable func(error) bool) error {
	delay := policy.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == policy.MaxAttempts {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
	return lastErr
}
