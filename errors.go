package sharedlock

import "errors"

// Domain failures are returned as bare bools from the base API (see
// Handle's TryAcquireWriter/TryAcquireReader/... methods).
// ErrFailedAcquireWriter and ErrLimitReachedReader are returned by
// RunWithWriterOrFail and RunWithReaderOrFail, and
// ErrBlockingDeadlineExceeded by the blocking-retry driver; no function in
// this package returns the release and refresh sentinels.
var (
	// ErrFailedAcquireWriter means a writer acquisition did not succeed
	// because a foreign writer or reader record is live.
	ErrFailedAcquireWriter = errors.New("sharedlock: failed to acquire writer")

	// ErrLimitReachedReader means a reader acquisition did not succeed,
	// either because a live writer blocks it or because the reader record
	// already holds limit live slots.
	ErrLimitReachedReader = errors.New("sharedlock: reader limit reached")

	// ErrFailedReleaseWriter means a writer release did not apply because
	// the caller does not hold a live writer grant.
	ErrFailedReleaseWriter = errors.New("sharedlock: failed to release writer")

	// ErrFailedReleaseReader means a reader release did not apply because
	// the caller does not hold a live reader slot.
	ErrFailedReleaseReader = errors.New("sharedlock: failed to release reader")

	// ErrFailedRefreshWriter means a writer refresh did not apply.
	ErrFailedRefreshWriter = errors.New("sharedlock: failed to refresh writer")

	// ErrFailedRefreshReader means a reader refresh did not apply.
	ErrFailedRefreshReader = errors.New("sharedlock: failed to refresh reader")

	// ErrBlockingDeadlineExceeded is returned by the blocking-retry driver
	// when the deadline elapses before admission succeeds.
	ErrBlockingDeadlineExceeded = errors.New("sharedlock: blocking acquire deadline exceeded")

	// ErrNoStore reports that no Store is configured. NewProvider has no
	// error result, so nothing in this package returns ErrNoStore.
	ErrNoStore = errors.New("sharedlock: no store configured")
)
