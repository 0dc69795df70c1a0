package sharedlock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalbasit/sharedlock"
	"github.com/kalbasit/sharedlock/pkg/circuitbreaker"
	"github.com/kalbasit/sharedlock/storage"
	"github.com/kalbasit/sharedlock/storage/memory"
)

var errBackendDown = errors.New("backend unreachable")

// failingStore always fails every Storage Contract method, simulating a
// distributed backend that has gone unreachable.
type failingStore struct{}

func (failingStore) TryPutWriter(context.Context, string, string, storage.Expiry) (storage.WriterPutResult, error) {
	return storage.WriterPutResult{}, errBackendDown
}

func (failingStore) TryAddReaderSlot(
	context.Context, string, string, storage.Expiry, int,
) (storage.ReaderAddResult, error) {
	return storage.ReaderAddResult{}, errBackendDown
}

func (failingStore) RefreshWriter(context.Context, string, string, storage.Expiry) (bool, error) {
	return false, errBackendDown
}

func (failingStore) RefreshReaderSlot(context.Context, string, string, storage.Expiry) (bool, error) {
	return false, errBackendDown
}

func (failingStore) ReleaseWriter(context.Context, string, string) (bool, error) {
	return false, errBackendDown
}

func (failingStore) ReleaseReaderSlot(context.Context, string, string) (bool, error) {
	return false, errBackendDown
}

func (failingStore) ForceReleaseWriter(context.Context, string) (bool, error) {
	return false, errBackendDown
}

func (failingStore) ForceReleaseAllReaders(context.Context, string) (bool, error) {
	return false, errBackendDown
}

func (failingStore) Read(context.Context, string, time.Time) (storage.Snapshot, error) {
	return storage.Snapshot{}, errBackendDown
}

var _ storage.Store = failingStore{}

func TestResilientStore_WithoutFallbackPropagatesErrors(t *testing.T) {
	t.Parallel()

	rs := sharedlock.NewResilientStore("test-backend", failingStore{}, nil, nil)

	_, err := rs.TryPutWriter(t.Context(), "k1", "owner-a", storage.NeverExpiry())
	assert.ErrorIs(t, err, errBackendDown)
}

func TestResilientStore_OpensCircuitAndRoutesToFallback(t *testing.T) {
	t.Parallel()

	breaker := circuitbreaker.New("test-backend", 1, time.Minute)
	fallback := memory.New()
	rs := sharedlock.NewResilientStore("test-backend", failingStore{}, fallback, breaker)

	// First call hits the primary, fails, and trips the breaker (threshold 1).
	_, err := rs.TryPutWriter(t.Context(), "k1", "owner-a", storage.NeverExpiry())
	require.ErrorIs(t, err, errBackendDown)

	// Second call should be routed to the fallback store instead of the
	// still-failing primary, and therefore succeed.
	res, err := rs.TryPutWriter(t.Context(), "k1", "owner-a", storage.NeverExpiry())
	require.NoError(t, err)
	assert.True(t, res.Acquired)
}

func TestResilientStore_SuccessfulPrimaryNeverTouchesFallback(t *testing.T) {
	t.Parallel()

	primary := memory.New()
	fallback := memory.New()
	rs := sharedlock.NewResilientStore("test-backend", primary, fallback, nil)

	res, err := rs.TryPutWriter(t.Context(), "k1", "owner-a", storage.NeverExpiry())
	require.NoError(t, err)
	assert.True(t, res.Acquired)

	snap, err := fallback.Read(t.Context(), "k1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, storage.KindAbsent, snap.Kind, "fallback must remain untouched while the primary is healthy")
}

func TestResilientStore_CloseClosesUnderlyingStores(t *testing.T) {
	t.Parallel()

	// memory.Store has no Close method, so this only checks that Close
	// skips stores without one and reports no error.
	rs := sharedlock.NewResilientStore("test-backend", memory.New(), memory.New(), nil)

	assert.NoError(t, rs.Close())
}
