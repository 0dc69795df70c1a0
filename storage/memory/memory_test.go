package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalbasit/sharedlock/storage"
	"github.com/kalbasit/sharedlock/storage/memory"
)

// fakeClock lets tests advance time deterministically instead of sleeping.
type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestStore_WriterExclusivity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()

	res, err := store.TryPutWriter(ctx, "k", "owner-a", storage.NeverExpiry())
	require.NoError(t, err)
	assert.True(t, res.Acquired)

	res2, err := store.TryPutWriter(ctx, "k", "owner-b", storage.NeverExpiry())
	require.NoError(t, err)
	assert.False(t, res2.Acquired)
	assert.Equal(t, "owner-a", res2.ExistingWriterOwner)
}

func TestStore_WriterIdempotentReacquire(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()

	_, err := store.TryPutWriter(ctx, "k", "owner-a", storage.NeverExpiry())
	require.NoError(t, err)

	res, err := store.TryPutWriter(ctx, "k", "owner-a", storage.NeverExpiry())
	require.NoError(t, err)
	assert.True(t, res.Acquired)
}

func TestStore_WriterBlocksReader(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()

	_, err := store.TryPutWriter(ctx, "k", "owner-a", storage.NeverExpiry())
	require.NoError(t, err)

	res, err := store.TryAddReaderSlot(ctx, "k", "owner-b", storage.NeverExpiry(), 3)
	require.NoError(t, err)
	assert.False(t, res.Added)
}

func TestStore_ReaderBlocksWriter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()

	_, err := store.TryAddReaderSlot(ctx, "k", "owner-a", storage.NeverExpiry(), 3)
	require.NoError(t, err)

	res, err := store.TryPutWriter(ctx, "k", "owner-b", storage.NeverExpiry())
	require.NoError(t, err)
	assert.False(t, res.Acquired)
	assert.Equal(t, []string{"owner-a"}, res.ExistingReaderSlots)
}

func TestStore_ReaderFanInUpToLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()

	for _, owner := range []string{"a", "b", "c"} {
		res, err := store.TryAddReaderSlot(ctx, "k", owner, storage.NeverExpiry(), 3)
		require.NoError(t, err)
		assert.True(t, res.Added)
	}

	res, err := store.TryAddReaderSlot(ctx, "k", "d", storage.NeverExpiry(), 3)
	require.NoError(t, err)
	assert.False(t, res.Added)
	assert.Equal(t, 3, res.EffectiveLimit)
}

func TestStore_ReaderIdempotentReacquire(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()

	_, err := store.TryAddReaderSlot(ctx, "k", "a", storage.NeverExpiry(), 1)
	require.NoError(t, err)

	res, err := store.TryAddReaderSlot(ctx, "k", "a", storage.NeverExpiry(), 1)
	require.NoError(t, err)
	assert.True(t, res.Added)
}

func TestStore_LimitChangesOnlyAfterFullDrain(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()

	res, err := store.TryAddReaderSlot(ctx, "k", "a", storage.NeverExpiry(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.EffectiveLimit)

	// Attempting to join with a different requested limit while the
	// record is live does not change the stored limit.
	res2, err := store.TryAddReaderSlot(ctx, "k", "b", storage.NeverExpiry(), 5)
	require.NoError(t, err)
	assert.Equal(t, 2, res2.EffectiveLimit)

	ok, err := store.ReleaseReaderSlot(ctx, "k", "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ReleaseReaderSlot(ctx, "k", "b")
	require.NoError(t, err)
	assert.True(t, ok)

	// Record fully drained; a fresh limit now applies.
	res3, err := store.TryAddReaderSlot(ctx, "k", "c", storage.NeverExpiry(), 5)
	require.NoError(t, err)
	assert.Equal(t, 5, res3.EffectiveLimit)
}

func TestStore_TTLExpiryReclaimsWriter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(0, 0)}
	store := memory.NewWithClock(clock)

	_, err := store.TryPutWriter(ctx, "k", "owner-a", storage.At(clock.now.Add(time.Second)))
	require.NoError(t, err)

	clock.now = clock.now.Add(2 * time.Second)

	res, err := store.TryPutWriter(ctx, "k", "owner-b", storage.NeverExpiry())
	require.NoError(t, err)
	assert.True(t, res.Acquired)
}

func TestStore_TTLExpiryReclaimsReaderSlot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(0, 0)}
	store := memory.NewWithClock(clock)

	_, err := store.TryAddReaderSlot(ctx, "k", "a", storage.At(clock.now.Add(time.Second)), 1)
	require.NoError(t, err)

	clock.now = clock.now.Add(2 * time.Second)

	snap, err := store.Read(ctx, "k", clock.now)
	require.NoError(t, err)
	assert.Equal(t, storage.KindAbsent, snap.Kind)

	res, err := store.TryPutWriter(ctx, "k", "owner-z", storage.NeverExpiry())
	require.NoError(t, err)
	assert.True(t, res.Acquired)
}

func TestStore_RefreshRejectsForeignOwner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()

	_, err := store.TryPutWriter(ctx, "k", "owner-a", storage.NeverExpiry())
	require.NoError(t, err)

	ok, err := store.RefreshWriter(ctx, "k", "owner-b", storage.NeverExpiry())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ReleaseWriterRejectsForeignOwner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()

	_, err := store.TryPutWriter(ctx, "k", "owner-a", storage.NeverExpiry())
	require.NoError(t, err)

	ok, err := store.ReleaseWriter(ctx, "k", "owner-b")
	require.NoError(t, err)
	assert.False(t, ok)

	snap, err := store.Read(ctx, "k", time.Now())
	require.NoError(t, err)
	assert.Equal(t, storage.KindWriter, snap.Kind)
}

func TestStore_ForceReleaseWriter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()

	_, err := store.TryPutWriter(ctx, "k", "owner-a", storage.NeverExpiry())
	require.NoError(t, err)

	ok, err := store.ForceReleaseWriter(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	snap, err := store.Read(ctx, "k", time.Now())
	require.NoError(t, err)
	assert.Equal(t, storage.KindAbsent, snap.Kind)
}

func TestStore_ForceReleaseAllReaders(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()

	for _, owner := range []string{"a", "b"} {
		_, err := store.TryAddReaderSlot(ctx, "k", owner, storage.NeverExpiry(), 2)
		require.NoError(t, err)
	}

	ok, err := store.ForceReleaseAllReaders(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	snap, err := store.Read(ctx, "k", time.Now())
	require.NoError(t, err)
	assert.Equal(t, storage.KindAbsent, snap.Kind)
}

func TestStore_ReadNeverMutates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(0, 0)}
	store := memory.NewWithClock(clock)

	_, err := store.TryPutWriter(ctx, "k", "owner-a", storage.At(clock.now.Add(time.Second)))
	require.NoError(t, err)

	clock.now = clock.now.Add(2 * time.Second)

	// Reading an expired record repeatedly must not panic or mutate state in a
	// way that affects a subsequent admission decision.
	for range 3 {
		snap, err := store.Read(ctx, "k", clock.now)
		require.NoError(t, err)
		assert.Equal(t, storage.KindAbsent, snap.Kind)
	}
}
