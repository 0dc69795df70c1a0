package sqlstore_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/kalbasit/sharedlock/storage"
	"github.com/kalbasit/sharedlock/storage/sqlstore"
)

func newSQLiteStore(t *testing.T) *sqlstore.Store {
	t.Helper()

	ctx := context.Background()

	sqlDB, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db := bun.NewDB(sqlDB, sqlitedialect.New())

	store, err := sqlstore.NewFromDB(ctx, db, sqlstore.TypeSQLite)
	require.NoError(t, err)

	return store
}

func getUniqueKey(t *testing.T, prefix string) string {
	t.Helper()

	return prefix + "-" + t.Name()
}

func TestStore_WriterExclusivity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newSQLiteStore(t)
	key := getUniqueKey(t, "writer")

	res, err := store.TryPutWriter(ctx, key, "owner-a", storage.NeverExpiry())
	require.NoError(t, err)
	assert.True(t, res.Acquired)

	res2, err := store.TryPutWriter(ctx, key, "owner-b", storage.NeverExpiry())
	require.NoError(t, err)
	assert.False(t, res2.Acquired)
	assert.Equal(t, "owner-a", res2.ExistingWriterOwner)

	ok, err := store.ReleaseWriter(ctx, key, "owner-a")
	require.NoError(t, err)
	assert.True(t, ok)

	res3, err := store.TryPutWriter(ctx, key, "owner-b", storage.NeverExpiry())
	require.NoError(t, err)
	assert.True(t, res3.Acquired)
}

func TestStore_WriterIdempotentReacquire(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newSQLiteStore(t)
	key := getUniqueKey(t, "writer-idem")

	_, err := store.TryPutWriter(ctx, key, "owner-a", storage.NeverExpiry())
	require.NoError(t, err)

	res, err := store.TryPutWriter(ctx, key, "owner-a", storage.NeverExpiry())
	require.NoError(t, err)
	assert.True(t, res.Acquired)
}

func TestStore_ReaderFanInWithLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newSQLiteStore(t)
	key := getUniqueKey(t, "reader")

	for _, owner := range []string{"a", "b"} {
		res, err := store.TryAddReaderSlot(ctx, key, owner, storage.NeverExpiry(), 2)
		require.NoError(t, err)
		assert.True(t, res.Added)
	}

	res, err := store.TryAddReaderSlot(ctx, key, "c", storage.NeverExpiry(), 2)
	require.NoError(t, err)
	assert.False(t, res.Added)
	assert.Equal(t, 2, res.EffectiveLimit)

	ok, err := store.ReleaseReaderSlot(ctx, key, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	res2, err := store.TryAddReaderSlot(ctx, key, "c", storage.NeverExpiry(), 2)
	require.NoError(t, err)
	assert.True(t, res2.Added)
}

func TestStore_WriterBlocksReader(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newSQLiteStore(t)
	key := getUniqueKey(t, "writer-blocks-reader")

	_, err := store.TryPutWriter(ctx, key, "owner-a", storage.NeverExpiry())
	require.NoError(t, err)

	res, err := store.TryAddReaderSlot(ctx, key, "owner-b", storage.NeverExpiry(), 5)
	require.NoError(t, err)
	assert.False(t, res.Added)
}

func TestStore_TTLExpiryReclaimsWriter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newSQLiteStore(t)
	key := getUniqueKey(t, "ttl")

	_, err := store.TryPutWriter(ctx, key, "owner-a", storage.At(time.Now().Add(50*time.Millisecond)))
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)

	res, err := store.TryPutWriter(ctx, key, "owner-b", storage.NeverExpiry())
	require.NoError(t, err)
	assert.True(t, res.Acquired)
}

func TestStore_ReleaseWriterAfterExpiryFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newSQLiteStore(t)
	key := getUniqueKey(t, "release-writer-expired")

	_, err := store.TryPutWriter(ctx, key, "owner-a", storage.At(time.Now().Add(50*time.Millisecond)))
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)

	ok, err := store.ReleaseWriter(ctx, key, "owner-a")
	require.NoError(t, err)
	assert.False(t, ok, "releasing an already-expired writer grant must be a no-op")
}

func TestStore_ReleaseReaderSlotAfterExpiryFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newSQLiteStore(t)
	key := getUniqueKey(t, "release-reader-expired")

	_, err := store.TryAddReaderSlot(ctx, key, "owner-a", storage.At(time.Now().Add(50*time.Millisecond)), 2)
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)

	ok, err := store.ReleaseReaderSlot(ctx, key, "owner-a")
	require.NoError(t, err)
	assert.False(t, ok, "releasing an already-expired reader slot must be a no-op")
}

func TestStore_ForceReleaseWriterAfterExpiryFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newSQLiteStore(t)
	key := getUniqueKey(t, "force-release-writer-expired")

	_, err := store.TryPutWriter(ctx, key, "owner-a", storage.At(time.Now().Add(50*time.Millisecond)))
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)

	ok, err := store.ForceReleaseWriter(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "force-releasing an already-expired writer grant must be a no-op")
}

func TestStore_ForceReleaseAllReadersAfterExpiryFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newSQLiteStore(t)
	key := getUniqueKey(t, "force-release-readers-expired")

	_, err := store.TryAddReaderSlot(ctx, key, "owner-a", storage.At(time.Now().Add(50*time.Millisecond)), 2)
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)

	ok, err := store.ForceReleaseAllReaders(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "force-releasing already-expired reader slots must be a no-op")
}

func TestStore_RefreshWriterDeniedForForeignOwner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newSQLiteStore(t)
	key := getUniqueKey(t, "refresh")

	_, err := store.TryPutWriter(ctx, key, "owner-a", storage.At(time.Now().Add(time.Minute)))
	require.NoError(t, err)

	ok, err := store.RefreshWriter(ctx, key, "owner-b", storage.NeverExpiry())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.RefreshWriter(ctx, key, "owner-a", storage.At(time.Now().Add(2*time.Minute)))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_ForceReleaseWriter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newSQLiteStore(t)
	key := getUniqueKey(t, "force-writer")

	_, err := store.TryPutWriter(ctx, key, "owner-a", storage.NeverExpiry())
	require.NoError(t, err)

	ok, err := store.ForceReleaseWriter(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	res, err := store.TryPutWriter(ctx, key, "owner-b", storage.NeverExpiry())
	require.NoError(t, err)
	assert.True(t, res.Acquired)
}

func TestStore_ForceReleaseAllReaders(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newSQLiteStore(t)
	key := getUniqueKey(t, "force-readers")

	for _, owner := range []string{"a", "b"} {
		_, err := store.TryAddReaderSlot(ctx, key, owner, storage.NeverExpiry(), 5)
		require.NoError(t, err)
	}

	ok, err := store.ForceReleaseAllReaders(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	snap, err := store.Read(ctx, key, time.Now())
	require.NoError(t, err)
	assert.Equal(t, storage.KindAbsent, snap.Kind)
}

func TestStore_Read(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newSQLiteStore(t)
	key := getUniqueKey(t, "read")

	snap, err := store.Read(ctx, key, time.Now())
	require.NoError(t, err)
	assert.Equal(t, storage.KindAbsent, snap.Kind)

	_, err = store.TryAddReaderSlot(ctx, key, "a", storage.NeverExpiry(), 3)
	require.NoError(t, err)

	snap, err = store.Read(ctx, key, time.Now())
	require.NoError(t, err)
	assert.Equal(t, storage.KindReader, snap.Kind)
	assert.Equal(t, 3, snap.Limit)
	assert.Contains(t, snap.Slots, "a")
}

// skipIfPostgresNotAvailable and skipIfMySQLNotAvailable gate the
// cross-dialect integration tests below on real servers, following the same
// opt-in convention as storage/redisstore's Redis tests.

func skipIfPostgresNotAvailable(t *testing.T) string {
	t.Helper()

	dsn := os.Getenv("SHAREDLOCK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("Postgres tests disabled (set SHAREDLOCK_TEST_POSTGRES_DSN to enable)")
	}

	return dsn
}

func skipIfMySQLNotAvailable(t *testing.T) string {
	t.Helper()

	dsn := os.Getenv("SHAREDLOCK_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("MySQL tests disabled (set SHAREDLOCK_TEST_MYSQL_DSN to enable)")
	}

	return dsn
}

func TestStore_PostgresWriterExclusivity(t *testing.T) {
	t.Parallel()

	dsn := skipIfPostgresNotAvailable(t)

	ctx := context.Background()

	store, err := sqlstore.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	key := getUniqueKey(t, "pg-writer")

	res, err := store.TryPutWriter(ctx, key, "owner-a", storage.NeverExpiry())
	require.NoError(t, err)
	assert.True(t, res.Acquired)

	res2, err := store.TryPutWriter(ctx, key, "owner-b", storage.NeverExpiry())
	require.NoError(t, err)
	assert.False(t, res2.Acquired)
}

func TestStore_MySQLWriterExclusivity(t *testing.T) {
	t.Parallel()

	dsn := skipIfMySQLNotAvailable(t)

	ctx := context.Background()

	store, err := sqlstore.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	key := getUniqueKey(t, "mysql-writer")

	res, err := store.TryPutWriter(ctx, key, "owner-a", storage.NeverExpiry())
	require.NoError(t, err)
	assert.True(t, res.Acquired)

	res2, err := store.TryPutWriter(ctx, key, "owner-b", storage.NeverExpiry())
	require.NoError(t, err)
	assert.False(t, res2.Acquired)
}
