package sharedlock

import (
	"context"
	"time"

	"github.com/kalbasit/sharedlock/eventbus"
	"github.com/kalbasit/sharedlock/storage"
)

// Handle is the caller-side value identifying one (key, owner) pair. It
// carries no network connection and no cached record: every method is a
// fresh round trip through the owning Provider's Store. Handles are cheap
// to create and safe to discard after use; the Provider is the only
// long-lived object.
type Handle struct {
	provider *Provider

	Key            string
	OwnerID        string
	RequestedTTL   time.Duration
	RequestedLimit int

	// acquiredAt records when this Handle last admitted a grant, so the
	// matching release can report hold duration. Generalized from the
	// teacher's in-memory keyLock, which tracks the same startTime inside
	// the backend; here it lives on the Handle since callers, not the
	// Store, are the ones reusing one value across an acquire/release pair.
	acquiredAt time.Time
}

func (h *Handle) expiry(now time.Time) storage.Expiry {
	return storage.FromTTL(now, h.RequestedTTL)
}

// TryAcquireWriter attempts to admit an exclusive writer grant for h.Key
// owned by h.OwnerID. Returns true on success, including idempotent
// re-acquire by the same owner. Returns false, nil when a foreign writer
// or any live reader record blocks admission.
func (h *Handle) TryAcquireWriter(ctx context.Context) (bool, error) {
	now := h.provider.clock.Now()

	res, err := h.provider.store.TryPutWriter(ctx, h.Key, h.OwnerID, h.expiry(now))
	if err != nil {
		RecordLockFailure(ctx, LockTypeWriter, LockFailureBackend)

		return false, err
	}

	if res.Acquired {
		RecordLockAcquisition(ctx, LockTypeWriter, LockResultSuccess)
		h.acquiredAt = now
		h.emit(eventbus.Event{Kind: eventbus.WriterAcquired, Key: h.Key, OwnerID: h.OwnerID, At: now})

		return true, nil
	}

	RecordLockAcquisition(ctx, LockTypeWriter, LockResultUnavailable)
	h.emit(eventbus.Event{
		Kind:          eventbus.Unavailable,
		Key:           h.Key,
		OwnerID:       h.OwnerID,
		BlockingOwner: res.ExistingWriterOwner,
		At:            now,
	})

	return false, nil
}

// ReleaseWriter releases the writer grant h.OwnerID holds on h.Key.
// Returns false, nil if the caller does not hold a live writer grant.
func (h *Handle) ReleaseWriter(ctx context.Context) (bool, error) {
	now := h.provider.clock.Now()

	ok, err := h.provider.store.ReleaseWriter(ctx, h.Key, h.OwnerID)
	if err != nil {
		RecordLockFailure(ctx, LockTypeWriter, LockFailureBackend)

		return false, err
	}

	if ok {
		h.recordHoldDuration(ctx, LockTypeWriter, now)
		h.emit(eventbus.Event{Kind: eventbus.WriterReleased, Key: h.Key, OwnerID: h.OwnerID, At: now})

		return true, nil
	}

	RecordLockFailure(ctx, LockTypeWriter, LockFailureForeignOwner)
	h.emit(eventbus.Event{Kind: eventbus.WriterFailedRelease, Key: h.Key, OwnerID: h.OwnerID, At: now})

	return false, nil
}

// RefreshWriter extends the TTL of the writer grant h.OwnerID holds on
// h.Key to now+h.RequestedTTL. Fails if the grant is foreign-owned,
// absent, or was acquired with storage.Never.
func (h *Handle) RefreshWriter(ctx context.Context) (bool, error) {
	now := h.provider.clock.Now()

	ok, err := h.provider.store.RefreshWriter(ctx, h.Key, h.OwnerID, h.expiry(now))
	if err != nil {
		RecordLockFailure(ctx, LockTypeWriter, LockFailureBackend)

		return false, err
	}

	if ok {
		h.emit(eventbus.Event{Kind: eventbus.WriterRefreshed, Key: h.Key, OwnerID: h.OwnerID, At: now})

		return true, nil
	}

	RecordLockFailure(ctx, LockTypeWriter, LockFailureForeignOwner)
	h.emit(eventbus.Event{Kind: eventbus.WriterFailedRefresh, Key: h.Key, OwnerID: h.OwnerID, At: now})

	return false, nil
}

// ForceReleaseWriter deletes the live writer grant on h.Key regardless of
// owner. Intended for operator use, not caller-scoped code.
func (h *Handle) ForceReleaseWriter(ctx context.Context) (bool, error) {
	now := h.provider.clock.Now()

	ok, err := h.provider.store.ForceReleaseWriter(ctx, h.Key)
	if err != nil {
		RecordLockFailure(ctx, LockTypeWriter, LockFailureBackend)

		return false, err
	}

	if ok {
		h.emit(eventbus.Event{Kind: eventbus.WriterForceReleased, Key: h.Key, OwnerID: h.OwnerID, At: now})
	}

	return ok, nil
}

// TryAcquireReader attempts to admit a shared reader slot for h.Key owned
// by h.OwnerID. If the record does not yet exist, h.RequestedLimit becomes
// its limit. Returns true on success, including idempotent re-acquire by
// the same owner. Returns false, nil if a live writer blocks admission or
// the record is already at its limit.
func (h *Handle) TryAcquireReader(ctx context.Context) (bool, error) {
	now := h.provider.clock.Now()

	res, err := h.provider.store.TryAddReaderSlot(ctx, h.Key, h.OwnerID, h.expiry(now), h.RequestedLimit)
	if err != nil {
		RecordLockFailure(ctx, LockTypeReader, LockFailureBackend)

		return false, err
	}

	if res.Added {
		RecordLockAcquisition(ctx, LockTypeReader, LockResultSuccess)
		h.acquiredAt = now
		h.emit(eventbus.Event{
			Kind:    eventbus.ReaderAcquired,
			Key:     h.Key,
			OwnerID: h.OwnerID,
			Limit:   res.EffectiveLimit,
			At:      now,
		})

		return true, nil
	}

	result := LockResultUnavailable
	if res.EffectiveLimit > 0 {
		result = LockResultLimitReached
	}

	RecordLockAcquisition(ctx, LockTypeReader, result)
	h.emit(eventbus.Event{
		Kind:    eventbus.Unavailable,
		Key:     h.Key,
		OwnerID: h.OwnerID,
		Limit:   res.EffectiveLimit,
		At:      now,
	})

	return false, nil
}

// ReleaseReader releases the reader slot h.OwnerID holds on h.Key.
func (h *Handle) ReleaseReader(ctx context.Context) (bool, error) {
	now := h.provider.clock.Now()

	ok, err := h.provider.store.ReleaseReaderSlot(ctx, h.Key, h.OwnerID)
	if err != nil {
		RecordLockFailure(ctx, LockTypeReader, LockFailureBackend)

		return false, err
	}

	if ok {
		h.recordHoldDuration(ctx, LockTypeReader, now)
		h.emit(eventbus.Event{Kind: eventbus.ReaderReleased, Key: h.Key, OwnerID: h.OwnerID, At: now})

		return true, nil
	}

	RecordLockFailure(ctx, LockTypeReader, LockFailureAbsent)
	h.emit(eventbus.Event{Kind: eventbus.ReaderFailedRelease, Key: h.Key, OwnerID: h.OwnerID, At: now})

	return false, nil
}

// RefreshReader extends the TTL of the reader slot h.OwnerID holds on
// h.Key.
func (h *Handle) RefreshReader(ctx context.Context) (bool, error) {
	now := h.provider.clock.Now()

	ok, err := h.provider.store.RefreshReaderSlot(ctx, h.Key, h.OwnerID, h.expiry(now))
	if err != nil {
		RecordLockFailure(ctx, LockTypeReader, LockFailureBackend)

		return false, err
	}

	if ok {
		h.emit(eventbus.Event{Kind: eventbus.ReaderRefreshed, Key: h.Key, OwnerID: h.OwnerID, At: now})

		return true, nil
	}

	RecordLockFailure(ctx, LockTypeReader, LockFailureAbsent)
	h.emit(eventbus.Event{Kind: eventbus.ReaderFailedRefresh, Key: h.Key, OwnerID: h.OwnerID, At: now})

	return false, nil
}

// ForceReleaseAllReaders deletes every live reader slot on h.Key.
// Intended for operator use, not caller-scoped code.
func (h *Handle) ForceReleaseAllReaders(ctx context.Context) (bool, error) {
	now := h.provider.clock.Now()

	ok, err := h.provider.store.ForceReleaseAllReaders(ctx, h.Key)
	if err != nil {
		RecordLockFailure(ctx, LockTypeReader, LockFailureBackend)

		return false, err
	}

	if ok {
		h.emit(eventbus.Event{Kind: eventbus.ReaderAllForceReleased, Key: h.Key, OwnerID: h.OwnerID, At: now})
	}

	return ok, nil
}

// GetState returns the projected, caller-relative view of h.Key's record.
func (h *Handle) GetState(ctx context.Context) (State, error) {
	now := h.provider.clock.Now()

	snap, err := h.provider.store.Read(ctx, h.Key, now)
	if err != nil {
		return State{}, err
	}

	switch snap.Kind {
	case storage.KindAbsent:
		return State{Kind: StateExpired}, nil
	case storage.KindWriter:
		if snap.WriterOwner == h.OwnerID {
			return State{Kind: StateWriterAcquired, RemainingTime: snap.WriterExpiry.Remaining(now)}, nil
		}

		return State{Kind: StateWriterUnavailable, WriterOwner: snap.WriterOwner}, nil
	case storage.KindReader:
		owners := make([]string, 0, len(snap.Slots))
		for owner := range snap.Slots {
			owners = append(owners, owner)
		}

		if exp, ok := snap.Slots[h.OwnerID]; ok {
			return State{
				Kind:          StateReaderAcquired,
				RemainingTime: exp.Remaining(now),
				Limit:         snap.Limit,
				Slots:         owners,
			}, nil
		}

		if len(snap.Slots) >= snap.Limit {
			return State{Kind: StateReaderLimitReached, Limit: snap.Limit, Slots: owners}, nil
		}

		return State{Kind: StateReaderUnacquired, Limit: snap.Limit, Slots: owners}, nil
	default:
		return State{Kind: StateExpired}, nil
	}
}

func (h *Handle) emit(event eventbus.Event) {
	if h.provider.bus != nil {
		h.provider.bus.Publish(event)
	}
}

// recordHoldDuration reports how long this Handle held its grant, if it
// was the one that acquired it. A Handle released without ever observing
// acquisition on this value (e.g. one constructed solely to release a
// grant acquired elsewhere) records nothing.
func (h *Handle) recordHoldDuration(ctx context.Context, lockType string, releasedAt time.Time) {
	if h.acquiredAt.IsZero() {
		return
	}

	RecordLockDuration(ctx, lockType, releasedAt.Sub(h.acquiredAt).Seconds())
	h.acquiredAt = time.Time{}
}
