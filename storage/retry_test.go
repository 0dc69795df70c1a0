package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalbasit/sharedlock/storage"
)

func TestCalculateBackoff(t *testing.T) {
	t.Parallel()

	cfg := storage.RetryConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Jitter:       false,
	}

	assert.Equal(t, time.Duration(0), storage.CalculateBackoff(cfg, 0))
	assert.Equal(t, 100*time.Millisecond, storage.CalculateBackoff(cfg, 1))
	assert.Equal(t, 200*time.Millisecond, storage.CalculateBackoff(cfg, 2))
	assert.Equal(t, 400*time.Millisecond, storage.CalculateBackoff(cfg, 3))
	assert.Equal(t, 800*time.Millisecond, storage.CalculateBackoff(cfg, 4))
	assert.Equal(t, 1*time.Second, storage.CalculateBackoff(cfg, 5))
}

func TestCalculateBackoff_Jitter(t *testing.T) {
	t.Parallel()

	cfg := storage.RetryConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Jitter:       true,
		JitterFactor: 0.5,
	}

	for range 100 {
		delay := storage.CalculateBackoff(cfg, 1)
		assert.GreaterOrEqual(t, delay, 100*time.Millisecond)
		assert.LessOrEqual(t, delay, 150*time.Millisecond)
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	t.Parallel()

	cfg := storage.DefaultRetryConfig()
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.True(t, cfg.Jitter)
	assert.Equal(t, storage.DefaultJitterFactor, cfg.GetJitterFactor())
}

func TestRetry_SucceedsWithoutRetryOnNilError(t *testing.T) {
	t.Parallel()

	calls := 0

	err := storage.Retry(context.Background(), storage.DefaultRetryConfig(), func(error) bool { return true }, func() error {
		calls++

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_RetriesRetryableErrorsUntilSuccess(t *testing.T) {
	t.Parallel()

	cfg := storage.RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	errFlaky := errors.New("connection reset")

	calls := 0

	err := storage.Retry(context.Background(), cfg, func(error) bool { return true }, func() error {
		calls++
		if calls < 3 {
			return errFlaky
		}

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsImmediatelyOnNonRetryableError(t *testing.T) {
	t.Parallel()

	errPermanent := errors.New("constraint violation")

	calls := 0

	err := storage.Retry(context.Background(), storage.DefaultRetryConfig(), func(error) bool { return false }, func() error {
		calls++

		return errPermanent
	})
	require.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 1, calls)
}

func TestRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	cfg := storage.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	errFlaky := errors.New("connection refused")

	calls := 0

	err := storage.Retry(context.Background(), cfg, func(error) bool { return true }, func() error {
		calls++

		return errFlaky
	})
	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := storage.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	calls := 0

	err := storage.Retry(ctx, cfg, func(error) bool { return true }, func() error {
		calls++

		return errors.New("connection refused")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
