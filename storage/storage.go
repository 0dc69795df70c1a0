// Package storage defines the Storage Contract: the narrow, CAS-capable
// interface the shared-lock state machine drives. Every method is atomic
// at the granularity of one call — no operation composes internal steps
// that a concurrent peer could observe half-applied. Concrete backends
// (storage/memory, storage/redisstore, storage/sqlstore) implement Store.
package storage

import (
	"context"
	"time"
)

// Never is the sentinel TTL meaning a grant does not expire.
const Never time.Duration = -1

// IsNeverTTL reports whether ttl is the "never expires" sentinel.
func IsNeverTTL(ttl time.Duration) bool { return ttl < 0 }

// Expiry is either a concrete instant or the "never" sentinel. Zero value
// is NOT never; use NeverExpiry or FromTTL to construct one.
type Expiry struct {
	at    time.Time
	never bool
}

// NeverExpiry returns an Expiry that never elapses.
func NeverExpiry() Expiry { return Expiry{never: true} }

// At returns an Expiry for a concrete instant.
func At(t time.Time) Expiry { return Expiry{at: t} }

// FromTTL computes the Expiry reached by adding ttl to now, or NeverExpiry
// if ttl is the Never sentinel.
func FromTTL(now time.Time, ttl time.Duration) Expiry {
	if IsNeverTTL(ttl) {
		return NeverExpiry()
	}

	return At(now.Add(ttl))
}

// IsNever reports whether the expiry never elapses.
func (e Expiry) IsNever() bool { return e.never }

// Live reports whether e has not yet elapsed at now.
func (e Expiry) Live(now time.Time) bool {
	return e.never || e.at.After(now)
}

// Remaining returns the duration until e elapses, Never if e never elapses,
// or zero if it has already elapsed.
func (e Expiry) Remaining(now time.Time) time.Duration {
	if e.never {
		return Never
	}

	if d := e.at.Sub(now); d > 0 {
		return d
	}

	return 0
}

// Time returns the concrete instant and true, or the zero time and false
// if e is the never sentinel.
func (e Expiry) Time() (time.Time, bool) {
	return e.at, !e.never
}

// Clock abstracts the monotonic source of "now" driving admission and
// expiry decisions. SystemClock is the production default; tests inject
// their own to control time deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is a Clock backed by time.Now.
var SystemClock Clock = systemClock{} //nolint:gochecknoglobals

// WriterPutResult is the outcome of Store.TryPutWriter.
type WriterPutResult struct {
	// Acquired is true on success, including idempotent same-owner renewal.
	Acquired bool

	// ExistingWriterOwner is set when a foreign live writer blocked admission.
	ExistingWriterOwner string

	// ExistingReaderSlots is set when a live reader record blocked admission.
	ExistingReaderSlots []string
}

// ReaderAddResult is the outcome of Store.TryAddReaderSlot.
type ReaderAddResult struct {
	// Added is true on success, including idempotent same-owner repeats.
	Added bool

	// EffectiveLimit is the stored limit after the call (unchanged from
	// before the call unless this call created the record).
	EffectiveLimit int

	// CurrentSlots lists the owner ids holding a live slot after the call.
	CurrentSlots []string
}

// RecordKind identifies which variant of the tagged union (spec §3) a
// Snapshot observes.
type RecordKind int

const (
	// KindAbsent means no live record exists for the key.
	KindAbsent RecordKind = iota
	// KindWriter means a live exclusive writer grant exists.
	KindWriter
	// KindReader means a live reader record (possibly with zero slots
	// only transiently, between drain and cleanup) exists.
	KindReader
)

// Snapshot is the live, expiry-filtered projection of a key's record, as
// returned by Store.Read. It never exposes expired entries.
type Snapshot struct {
	Kind RecordKind

	WriterOwner  string
	WriterExpiry Expiry

	Limit int
	Slots map[string]Expiry // ownerID -> expiry, live slots only
}

// Store is the Storage Contract. All mutating operations treat expired
// entries as absent for admission purposes but must clean them up when
// they touch the record; Read never mutates.
type Store interface {
	// TryPutWriter admits an exclusive writer grant. See spec §4.1.
	TryPutWriter(ctx context.Context, key, ownerID string, expiresAt Expiry) (WriterPutResult, error)

	// TryAddReaderSlot admits a shared reader grant. See spec §4.1.
	TryAddReaderSlot(
		ctx context.Context,
		key, ownerID string,
		expiresAt Expiry,
		requestedLimit int,
	) (ReaderAddResult, error)

	// RefreshWriter extends a live writer grant's TTL. Fails (false, nil)
	// if the grant is "never"-expiring, foreign-owned, or absent.
	RefreshWriter(ctx context.Context, key, ownerID string, newExpiresAt Expiry) (bool, error)

	// RefreshReaderSlot extends a live reader slot's TTL, under the same
	// rules as RefreshWriter.
	RefreshReaderSlot(ctx context.Context, key, ownerID string, newExpiresAt Expiry) (bool, error)

	// ReleaseWriter deletes the record iff it is a live writer owned by
	// ownerID.
	ReleaseWriter(ctx context.Context, key, ownerID string) (bool, error)

	// ReleaseReaderSlot removes ownerID's live slot, deleting the record
	// if that was the last slot.
	ReleaseReaderSlot(ctx context.Context, key, ownerID string) (bool, error)

	// ForceReleaseWriter deletes the record iff it is a live writer, any
	// owner.
	ForceReleaseWriter(ctx context.Context, key string) (bool, error)

	// ForceReleaseAllReaders deletes the record iff it is a reader with at
	// least one live slot.
	ForceReleaseAllReaders(ctx context.Context, key string) (bool, error)

	// Read returns the live projection of key's record at now. Pure: never
	// mutates the underlying record.
	Read(ctx context.Context, key string, now time.Time) (Snapshot, error)
}
