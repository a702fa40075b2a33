package storage

import (
	"context"
	"time"
)

// retryDelays is the fixed exponential backoff schedule: 4 attempts total,
// waiting 100ms, 400ms, then 1.6s between them.
var retryDelays = []time.Duration{100 * time.Millisecond, 400 * time.Millisecond, 1600 * time.Millisecond}

// withRetry runs op up to len(retryDelays)+1 times. Authentication failures
// are fatal and returned immediately without retrying; any other error is
// retried with the fixed backoff schedule until attempts are exhausted.
func withRetry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if IsAuthenticationError(err) {
			return err
		}
		lastErr = err
		if attempt >= len(retryDelays) {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelays[attempt]):
		}
	}
}
