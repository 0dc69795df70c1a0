package storage

import (
	"context"
	"math"
	"time"

	mathrand "math/rand"
)

// DefaultJitterFactor is the default proportion of delay to add as random jitter.
const DefaultJitterFactor = 0.5

// RetryConfig governs the exponential backoff distributed backends
// (storage/redisstore, storage/sqlstore) apply when a transport call fails
// with a connection-level error, grounded on the teacher's
// pkg/lock/redis.RetryConfig/calculateBackoff attempt loop. It is distinct
// from the fixed-interval driver in the root package's
// AcquireWriterBlocking/AcquireReaderBlocking,
// which models waiting out lock contention rather than transport flakiness.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts before giving up.
	MaxAttempts int

	// InitialDelay is the initial delay between retry attempts.
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retry attempts. Exponential
	// backoff will be capped at this value.
	MaxDelay time.Duration

	// Jitter enables random jitter in retry delays to prevent thundering herd.
	Jitter bool

	// JitterFactor is the maximum proportion of delay to add as random
	// jitter. Only used if Jitter is true. Defaults to DefaultJitterFactor
	// if not set.
	JitterFactor float64
}

// GetJitterFactor returns the JitterFactor if it's set and valid (> 0),
// otherwise it returns DefaultJitterFactor.
func (c RetryConfig) GetJitterFactor() float64 {
	if c.JitterFactor <= 0 {
		return DefaultJitterFactor
	}

	return c.JitterFactor
}

// DefaultRetryConfig returns sensible default retry configuration for a
// distributed backend's transport layer.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Jitter:       true,
		JitterFactor: DefaultJitterFactor,
	}
}

// CalculateBackoff calculates the backoff duration based on retry config and
// attempt number. The attempt number is 0-indexed (first attempt is 0, first
// retry is 1).
func CalculateBackoff(cfg RetryConfig, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := cfg.InitialDelay * time.Duration(math.Pow(2, float64(attempt-1)))

	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}

	if cfg.Jitter {
		factor := cfg.GetJitterFactor()

		//nolint:gosec // G404: math/rand is acceptable for jitter, doesn't need crypto-grade randomness
		jitter := mathrand.Float64() * float64(delay) * factor
		delay += time.Duration(jitter)
	}

	return delay
}

// Retry runs fn, retrying up to cfg.MaxAttempts times with exponential
// backoff whenever isRetryable(err) reports true, following the teacher's
// pkg/lock/redis attempt loop. It gives up immediately on ctx cancellation
// or on an error isRetryable rejects, and returns the last error once
// attempts are exhausted.
func Retry(ctx context.Context, cfg RetryConfig, isRetryable func(error) bool, fn func() error) error {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(CalculateBackoff(cfg, attempt)):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !isRetryable(err) {
			return err
		}
	}

	return lastErr
}
