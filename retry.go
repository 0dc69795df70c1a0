package sharedlock

import (
	"context"
	"time"
)

// AcquireWriterBlocking polls TryAcquireWriter at a fixed interval until it
// succeeds, the context is cancelled, or deadline elapses. This is a
// distinct retry policy from storage.RetryConfig/storage.CalculateBackoff,
// which the distributed backends use to retry flaky transport calls: this
// one models waiting out lock contention with a constant poll interval,
// not transport flakiness with exponential backoff.
func (h *Handle) AcquireWriterBlocking(ctx context.Context, interval time.Duration, deadline time.Time) (bool, error) {
	return acquireBlocking(ctx, interval, deadline, LockTypeWriter, h.TryAcquireWriter)
}

// AcquireReaderBlocking polls TryAcquireReader at a fixed interval until it
// succeeds, the context is cancelled, or deadline elapses.
func (h *Handle) AcquireReaderBlocking(ctx context.Context, interval time.Duration, deadline time.Time) (bool, error) {
	return acquireBlocking(ctx, interval, deadline, LockTypeReader, h.TryAcquireReader)
}

func acquireBlocking(
	ctx context.Context,
	interval time.Duration,
	deadline time.Time,
	lockType string,
	attempt func(context.Context) (bool, error),
) (bool, error) {
	ok, err := attempt(ctx)
	if err != nil || ok {
		return ok, err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	deadlineTimer := time.NewTimer(time.Until(deadline))
	defer deadlineTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadlineTimer.C:
			return false, nil
		case <-ticker.C:
			RecordLockRetryAttempt(ctx, lockType)

			ok, err := attempt(ctx)
			if err != nil || ok {
				return ok, err
			}
		}
	}
}

// AcquireWriterBlockingOrFail behaves like AcquireWriterBlocking but
// returns ErrBlockingDeadlineExceeded instead of (false, nil) when the
// deadline elapses without acquiring.
func (h *Handle) AcquireWriterBlockingOrFail(ctx context.Context, interval time.Duration, deadline time.Time) error {
	ok, err := h.AcquireWriterBlocking(ctx, interval, deadline)
	if err != nil {
		return err
	}

	if !ok {
		return ErrBlockingDeadlineExceeded
	}

	return nil
}

// AcquireReaderBlockingOrFail behaves like AcquireReaderBlocking but
// returns ErrBlockingDeadlineExceeded instead of (false, nil) when the
// deadline elapses without acquiring.
func (h *Handle) AcquireReaderBlockingOrFail(ctx context.Context, interval time.Duration, deadline time.Time) error {
	ok, err := h.AcquireReaderBlocking(ctx, interval, deadline)
	if err != nil {
		return err
	}

	if !ok {
		return ErrBlockingDeadlineExceeded
	}

	return nil
}
