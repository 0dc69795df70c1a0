// Package memory provides an in-process implementation of the shared-lock
// Storage Contract. It keeps one mutex-guarded entry per key, following the
// same per-key-mutex shape as the teacher's local lockers (entries carry no
// reference count),
// generalized from a bare mutex/rwmutex into the full writer/reader record
// from the Storage Contract.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/kalbasit/sharedlock/storage"
)

// Store implements storage.Store with a map of per-key entries. It is the
// default backend for single-process use and the degraded-mode fallback
// for the distributed backends.
type Store struct {
	clock storage.Clock

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu sync.Mutex

	kind RecordState

	writerOwner  string
	writerExpiry storage.Expiry

	limit int
	slots map[string]storage.Expiry
}

// RecordState is an alias of storage.RecordKind for the in-memory entry;
// since KindAbsent is the zero value, a zero-value entry reads as Absent.
type RecordState = storage.RecordKind

const (
	stateAbsent = storage.KindAbsent
	stateWriter = storage.KindWriter
	stateReader = storage.KindReader
)

// New creates an in-memory Store using the system clock.
func New() *Store {
	return NewWithClock(storage.SystemClock)
}

// NewWithClock creates an in-memory Store using the given clock, for
// deterministic testing of TTL expiry.
func NewWithClock(clock storage.Clock) *Store {
	return &Store{
		clock:   clock,
		entries: make(map[string]*entry),
	}
}

func (s *Store) getOrCreate(key string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &entry{kind: stateAbsent}
		s.entries[key] = e
	}

	return e
}

func (s *Store) get(key string) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]

	return e, ok
}

// deleteIfAbsent drops the map entry for key if it still points at e and e
// is now Absent. Must be called without e.mu held.
func (s *Store) deleteIfAbsent(key string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.entries[key]; ok && cur == e {
		e.mu.Lock()
		empty := e.kind == stateAbsent
		e.mu.Unlock()

		if empty {
			delete(s.entries, key)
		}
	}
}

// reapLocked drops expired entries from e, leaving e in KindAbsent if
// nothing live remains. Caller must hold e.mu.
func reapLocked(e *entry, now time.Time) {
	switch e.kind {
	case stateWriter:
		if !e.writerExpiry.Live(now) {
			e.kind = stateAbsent
			e.writerOwner = ""
			e.writerExpiry = storage.Expiry{}
		}
	case stateReader:
		for owner, exp := range e.slots {
			if !exp.Live(now) {
				delete(e.slots, owner)
			}
		}

		if len(e.slots) == 0 {
			e.kind = stateAbsent
			e.limit = 0
			e.slots = nil
		}
	case stateAbsent:
	}
}

func liveOwnersLocked(e *entry) []string {
	owners := make([]string, 0, len(e.slots))
	for owner := range e.slots {
		owners = append(owners, owner)
	}

	return owners
}

// TryPutWriter implements storage.Store.
func (s *Store) TryPutWriter(
	_ context.Context,
	key, ownerID string,
	expiresAt storage.Expiry,
) (storage.WriterPutResult, error) {
	e := s.getOrCreate(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	reapLocked(e, s.clock.Now())

	switch e.kind {
	case stateAbsent:
		e.kind = stateWriter
		e.writerOwner = ownerID
		e.writerExpiry = expiresAt

		return storage.WriterPutResult{Acquired: true}, nil
	case stateWriter:
		if e.writerOwner == ownerID {
			return storage.WriterPutResult{Acquired: true}, nil
		}

		return storage.WriterPutResult{ExistingWriterOwner: e.writerOwner}, nil
	case stateReader:
		return storage.WriterPutResult{ExistingReaderSlots: liveOwnersLocked(e)}, nil
	default:
		return storage.WriterPutResult{}, nil
	}
}

// TryAddReaderSlot implements storage.Store.
func (s *Store) TryAddReaderSlot(
	_ context.Context,
	key, ownerID string,
	expiresAt storage.Expiry,
	requestedLimit int,
) (storage.ReaderAddResult, error) {
	e := s.getOrCreate(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	reapLocked(e, s.clock.Now())

	switch e.kind {
	case stateAbsent:
		e.kind = stateReader
		e.limit = requestedLimit
		e.slots = map[string]storage.Expiry{ownerID: expiresAt}

		return storage.ReaderAddResult{
			Added:          true,
			EffectiveLimit: e.limit,
			CurrentSlots:   liveOwnersLocked(e),
		}, nil
	case stateWriter:
		return storage.ReaderAddResult{}, nil
	case stateReader:
		if _, ok := e.slots[ownerID]; ok {
			return storage.ReaderAddResult{
				Added:          true,
				EffectiveLimit: e.limit,
				CurrentSlots:   liveOwnersLocked(e),
			}, nil
		}

		if len(e.slots) < e.limit {
			e.slots[ownerID] = expiresAt

			return storage.ReaderAddResult{
				Added:          true,
				EffectiveLimit: e.limit,
				CurrentSlots:   liveOwnersLocked(e),
			}, nil
		}

		return storage.ReaderAddResult{
			EffectiveLimit: e.limit,
			CurrentSlots:   liveOwnersLocked(e),
		}, nil
	default:
		return storage.ReaderAddResult{}, nil
	}
}

// RefreshWriter implements storage.Store.
func (s *Store) RefreshWriter(
	_ context.Context,
	key, ownerID string,
	newExpiresAt storage.Expiry,
) (bool, error) {
	e, ok := s.get(key)
	if !ok {
		return false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	reapLocked(e, s.clock.Now())

	if e.kind != stateWriter || e.writerOwner != ownerID || e.writerExpiry.IsNever() {
		return false, nil
	}

	e.writerExpiry = newExpiresAt

	return true, nil
}

// RefreshReaderSlot implements storage.Store.
func (s *Store) RefreshReaderSlot(
	_ context.Context,
	key, ownerID string,
	newExpiresAt storage.Expiry,
) (bool, error) {
	e, ok := s.get(key)
	if !ok {
		return false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	reapLocked(e, s.clock.Now())

	if e.kind != stateReader {
		return false, nil
	}

	cur, ok := e.slots[ownerID]
	if !ok || cur.IsNever() {
		return false, nil
	}

	e.slots[ownerID] = newExpiresAt

	return true, nil
}

// ReleaseWriter implements storage.Store.
func (s *Store) ReleaseWriter(_ context.Context, key, ownerID string) (bool, error) {
	e, ok := s.get(key)
	if !ok {
		return false, nil
	}

	e.mu.Lock()
	reapLocked(e, s.clock.Now())

	if e.kind != stateWriter || e.writerOwner != ownerID {
		e.mu.Unlock()

		return false, nil
	}

	e.kind = stateAbsent
	e.writerOwner = ""
	e.writerExpiry = storage.Expiry{}
	e.mu.Unlock()

	s.deleteIfAbsent(key, e)

	return true, nil
}

// ReleaseReaderSlot implements storage.Store.
func (s *Store) ReleaseReaderSlot(_ context.Context, key, ownerID string) (bool, error) {
	e, ok := s.get(key)
	if !ok {
		return false, nil
	}

	e.mu.Lock()
	reapLocked(e, s.clock.Now())

	if e.kind != stateReader {
		e.mu.Unlock()

		return false, nil
	}

	if _, ok := e.slots[ownerID]; !ok {
		e.mu.Unlock()

		return false, nil
	}

	delete(e.slots, ownerID)

	if len(e.slots) == 0 {
		e.kind = stateAbsent
		e.limit = 0
		e.slots = nil
	}

	e.mu.Unlock()

	s.deleteIfAbsent(key, e)

	return true, nil
}

// ForceReleaseWriter implements storage.Store.
func (s *Store) ForceReleaseWriter(_ context.Context, key string) (bool, error) {
	e, ok := s.get(key)
	if !ok {
		return false, nil
	}

	e.mu.Lock()
	reapLocked(e, s.clock.Now())

	if e.kind != stateWriter {
		e.mu.Unlock()

		return false, nil
	}

	e.kind = stateAbsent
	e.writerOwner = ""
	e.writerExpiry = storage.Expiry{}
	e.mu.Unlock()

	s.deleteIfAbsent(key, e)

	return true, nil
}

// ForceReleaseAllReaders implements storage.Store.
func (s *Store) ForceReleaseAllReaders(_ context.Context, key string) (bool, error) {
	e, ok := s.get(key)
	if !ok {
		return false, nil
	}

	e.mu.Lock()
	reapLocked(e, s.clock.Now())

	if e.kind != stateReader || len(e.slots) == 0 {
		e.mu.Unlock()

		return false, nil
	}

	e.kind = stateAbsent
	e.limit = 0
	e.slots = nil
	e.mu.Unlock()

	s.deleteIfAbsent(key, e)

	return true, nil
}

// Read implements storage.Store. It never mutates the stored record: it
// builds a filtered view, leaving expired entries in place for a future
// mutation to reap.
func (s *Store) Read(_ context.Context, key string, now time.Time) (storage.Snapshot, error) {
	e, ok := s.get(key)
	if !ok {
		return storage.Snapshot{Kind: storage.KindAbsent}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.kind {
	case stateWriter:
		if !e.writerExpiry.Live(now) {
			return storage.Snapshot{Kind: storage.KindAbsent}, nil
		}

		return storage.Snapshot{
			Kind:         storage.KindWriter,
			WriterOwner:  e.writerOwner,
			WriterExpiry: e.writerExpiry,
		}, nil
	case stateReader:
		slots := make(map[string]storage.Expiry, len(e.slots))

		for owner, exp := range e.slots {
			if exp.Live(now) {
				slots[owner] = exp
			}
		}

		if len(slots) == 0 {
			return storage.Snapshot{Kind: storage.KindAbsent}, nil
		}

		return storage.Snapshot{
			Kind:  storage.KindReader,
			Limit: e.limit,
			Slots: slots,
		}, nil
	default:
		return storage.Snapshot{Kind: storage.KindAbsent}, nil
	}
}

var _ storage.Store = (*Store)(nil)
