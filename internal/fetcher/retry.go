package fetcher

import (
	"context"
	"math"
	"math/rand"
	"time"

	"crm-google-sync-go/internal/ratelimit"
)

// RetryConfig bounds the retry helper wrapped around every provider call.
type RetryConfig struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// BaseDelay is the delay before the second attempt; later attempts
	// double it, plus jitter.
	BaseDelay time.Duration
	// CallTimeout bounds each individual attempt.
	CallTimeout time.Duration
}

// withRetry runs fn with a per-attempt timeout, retrying transient failures
// a bounded number of times. Non-transient failures and exhausted retries
// return the last error. This handles blips within one logical call; the
// rate limiter handles sustained quota pressure across calls.
func withRetry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx := ctx
		var cancel context.CancelFunc
		if cfg.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, cfg.CallTimeout)
		}
		err := fn(callCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if !ratelimit.IsRetryable(err) || attempt == attempts {
			return lastErr
		}

		delay := time.Duration(float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1)))
		delay += time.Duration(rand.Int63n(int64(cfg.BaseDelay)/2 + 1))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}
