package book

import (
	"context"
	"math/rand"
	"time"
)

const (
	defaultRetryBaseDelay = 10 * time.Millisecond
	retryJitterFactor     = 0.3
)

/*
Runs fn up to attempts times, backing off exponentially (10ms, 20ms, 40ms... plus jitter)
between tries. Only storage failures are retried; business rejections such as
ErrResponseLoanLimitExceeded are returned right away.
*/
func RetryOnStorageFailure(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := defaultRetryBaseDelay * time.Duration(1<<(attempt-1))
			jitter := rand.Float64() * float64(delay) * retryJitterFactor //nolint:gosec // jitter only
			select {
			case <-time.After(delay + time.Duration(jitter)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil || !IsRetryable(lastErr) || ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}
