// Package sqlstore implements the shared-lock Storage Contract over a SQL
// database using uptrace/bun, grounded on the teacher's
// pkg/database dialect-detection idiom (see type.go) and its declared
// pgdialect/mysqldialect/sqlitedialect stack. One row per key holds the
// whole record; every mutating operation runs inside a transaction that locks the
// row (SELECT ... FOR UPDATE on Postgres/MySQL, serializable isolation on
// SQLite) so the read-reap-mutate sequence is atomic.
package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/kalbasit/sharedlock/storage"
)

// ErrCreateSchema is returned when the shared_locks table cannot be created.
var ErrCreateSchema = errors.New("sqlstore: failed to create schema")

// Store implements storage.Store against a SQL database.
type Store struct {
	db                *bun.DB
	dbType            Type
	supportsForUpdate bool
	retryConfig       storage.RetryConfig
}

// WithRetryConfig overrides the backoff applied when a transaction fails
// with a connection-level error.
func (s *Store) WithRetryConfig(cfg storage.RetryConfig) *Store {
	s.retryConfig = cfg

	return s
}

// isConnectionError reports whether err looks like database transport
// flakiness rather than a terminal failure, following the teacher's
// pkg/lock/redis.isConnectionError classification adapted to
// database/sql's connection-lifecycle sentinels.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}

	errStr := err.Error()

	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "broken pipe")
}

// Open opens a database at dbURL (mysql://, postgres://, or sqlite://),
// instruments it with XSAM/otelsql, and ensures the shared_locks table
// exists.
func Open(ctx context.Context, dbURL string) (*Store, error) {
	dbType, err := DetectFromDatabaseURL(dbURL)
	if err != nil {
		return nil, err
	}

	driverName, dsn, dialect, supportsForUpdate := driverFor(dbType, dbURL)

	sqlDB, err := otelsql.Open(driverName, dsn, otelsql.WithAttributes())
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", dbType, err)
	}

	db := bun.NewDB(sqlDB, dialect)

	store := &Store{
		db:                db,
		dbType:            dbType,
		supportsForUpdate: supportsForUpdate,
		retryConfig:       storage.DefaultRetryConfig(),
	}

	if err := store.createSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// NewFromDB wraps an already-opened *bun.DB, useful for tests (e.g. an
// in-memory SQLite handle) or shared connection pools.
func NewFromDB(ctx context.Context, db *bun.DB, dbType Type) (*Store, error) {
	store := &Store{
		db:                db,
		dbType:            dbType,
		supportsForUpdate: dbType != TypeSQLite,
		retryConfig:       storage.DefaultRetryConfig(),
	}

	if err := store.createSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

func driverFor(dbType Type, dbURL string) (driverName, dsn string, dialect bun.Dialect, supportsForUpdate bool) {
	switch dbType {
	case TypeMySQL:
		return "mysql", stripScheme(dbURL), mysqldialect.New(), true
	case TypePostgreSQL:
		return "pgx", dbURL, pgdialect.New(), true
	case TypeSQLite:
		return "sqlite3", stripScheme(dbURL), sqlitedialect.New(), false
	default:
		return "sqlite3", dbURL, sqlitedialect.New(), false
	}
}

func stripScheme(dbURL string) string {
	for i := 0; i < len(dbURL)-2; i++ {
		if dbURL[i] == ':' && dbURL[i+1] == '/' && dbURL[i+2] == '/' {
			return dbURL[i+3:]
		}
	}

	return dbURL
}

func (s *Store) createSchema(ctx context.Context) error {
	_, err := s.db.NewCreateTable().Model((*lockRow)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreateSchema, err)
	}

	return nil
}

// withRowLock runs fn inside a transaction that holds an exclusive lock on
// key's row (creating it first if absent so there is something to lock),
// serializable on SQLite since it lacks SELECT ... FOR UPDATE.
func (s *Store) withRowLock(ctx context.Context, key string, fn func(ctx context.Context, tx bun.Tx, row *lockRow, exists bool) error) error {
	opts := &sql.TxOptions{}
	if !s.supportsForUpdate {
		opts.Isolation = sql.LevelSerializable
	}

	return storage.Retry(ctx, s.retryConfig, isConnectionError, func() error {
		return s.db.RunInTx(ctx, opts, func(ctx context.Context, tx bun.Tx) error {
			row := &lockRow{Key: key}

			q := tx.NewSelect().Model(row).Where("key = ?", key)
			if s.supportsForUpdate {
				q = q.For("UPDATE")
			}

			err := q.Scan(ctx)

			switch {
			case err == nil:
				return fn(ctx, tx, row, true)
			case errors.Is(err, sql.ErrNoRows):
				return fn(ctx, tx, row, false)
			default:
				return fmt.Errorf("sqlstore: select row: %w", err)
			}
		})
	})
}

func upsertRow(ctx context.Context, tx bun.Tx, row *lockRow, exists bool) error {
	if exists {
		_, err := tx.NewUpdate().Model(row).WherePK().Exec(ctx)

		return err
	}

	_, err := tx.NewInsert().Model(row).Exec(ctx)

	return err
}

func deleteRow(ctx context.Context, tx bun.Tx, key string) error {
	_, err := tx.NewDelete().Model((*lockRow)(nil)).Where("key = ?", key).Exec(ctx)

	return err
}

func encodeExpiry(e storage.Expiry) int64 {
	if e.IsNever() {
		return 0
	}

	t, _ := e.Time()

	return t.UnixNano()
}

func decodeExpiry(nanos int64) storage.Expiry {
	if isNeverNanos(nanos) {
		return storage.NeverExpiry()
	}

	return storage.At(time.Unix(0, nanos))
}

func liveAt(nanos int64, now time.Time) bool {
	return isNeverNanos(nanos) || time.Unix(0, nanos).After(now)
}

// reap clears row in place if its record has expired. Returns true if row
// is live (non-empty) after reaping.
func reap(row *lockRow, now time.Time) bool {
	switch row.Kind {
	case "writer":
		if liveAt(row.WriterExpiresAt, now) {
			return true
		}

		*row = lockRow{Key: row.Key}

		return false
	case "reader":
		for owner, exp := range row.Slots {
			if !liveAt(exp, now) {
				delete(row.Slots, owner)
			}
		}

		if len(row.Slots) > 0 {
			return true
		}

		*row = lockRow{Key: row.Key}

		return false
	default:
		return false
	}
}

func owners(row *lockRow) []string {
	out := make([]string, 0, len(row.Slots))
	for owner := range row.Slots {
		out = append(out, owner)
	}

	return out
}

// TryPutWriter implements storage.Store.
func (s *Store) TryPutWriter(
	ctx context.Context,
	key, ownerID string,
	expiresAt storage.Expiry,
) (storage.WriterPutResult, error) {
	var result storage.WriterPutResult

	err := s.withRowLock(ctx, key, func(ctx context.Context, tx bun.Tx, row *lockRow, exists bool) error {
		now := time.Now()
		live := exists && reap(row, now)

		switch {
		case !live:
			row.Kind = "writer"
			row.WriterOwner = ownerID
			row.WriterExpiresAt = encodeExpiry(expiresAt)
			result = storage.WriterPutResult{Acquired: true}

			return upsertRow(ctx, tx, row, exists)
		case row.Kind == "writer" && row.WriterOwner == ownerID:
			result = storage.WriterPutResult{Acquired: true}

			return nil
		case row.Kind == "writer":
			result = storage.WriterPutResult{ExistingWriterOwner: row.WriterOwner}

			return nil
		default:
			result = storage.WriterPutResult{ExistingReaderSlots: owners(row)}

			return nil
		}
	})

	return result, err
}

// TryAddReaderSlot implements storage.Store.
func (s *Store) TryAddReaderSlot(
	ctx context.Context,
	key, ownerID string,
	expiresAt storage.Expiry,
	requestedLimit int,
) (storage.ReaderAddResult, error) {
	var result storage.ReaderAddResult

	err := s.withRowLock(ctx, key, func(ctx context.Context, tx bun.Tx, row *lockRow, exists bool) error {
		now := time.Now()
		live := exists && reap(row, now)

		switch {
		case !live:
			row.Kind = "reader"
			row.Limit = requestedLimit
			row.Slots = map[string]int64{ownerID: encodeExpiry(expiresAt)}
			result = storage.ReaderAddResult{Added: true, EffectiveLimit: requestedLimit, CurrentSlots: owners(row)}

			return upsertRow(ctx, tx, row, exists)
		case row.Kind == "writer":
			result = storage.ReaderAddResult{}

			return nil
		default:
			if _, ok := row.Slots[ownerID]; ok {
				result = storage.ReaderAddResult{Added: true, EffectiveLimit: row.Limit, CurrentSlots: owners(row)}

				return upsertRow(ctx, tx, row, true)
			}

			if len(row.Slots) < row.Limit {
				row.Slots[ownerID] = encodeExpiry(expiresAt)
				result = storage.ReaderAddResult{Added: true, EffectiveLimit: row.Limit, CurrentSlots: owners(row)}

				return upsertRow(ctx, tx, row, true)
			}

			result = storage.ReaderAddResult{EffectiveLimit: row.Limit, CurrentSlots: owners(row)}

			// reap may have shrunk row.Slots even though admission failed;
			// persist that cleanup so it isn't re-evaluated every call.
			return upsertRow(ctx, tx, row, true)
		}
	})

	return result, err
}

// RefreshWriter implements storage.Store.
func (s *Store) RefreshWriter(ctx context.Context, key, ownerID string, newExpiresAt storage.Expiry) (bool, error) {
	var ok bool

	err := s.withRowLock(ctx, key, func(ctx context.Context, tx bun.Tx, row *lockRow, exists bool) error {
		now := time.Now()
		if !exists || !reap(row, now) {
			return nil
		}

		if row.Kind != "writer" || row.WriterOwner != ownerID || isNeverNanos(row.WriterExpiresAt) {
			return nil
		}

		row.WriterExpiresAt = encodeExpiry(newExpiresAt)
		ok = true

		return upsertRow(ctx, tx, row, true)
	})

	return ok, err
}

// RefreshReaderSlot implements storage.Store.
func (s *Store) RefreshReaderSlot(ctx context.Context, key, ownerID string, newExpiresAt storage.Expiry) (bool, error) {
	var ok bool

	err := s.withRowLock(ctx, key, func(ctx context.Context, tx bun.Tx, row *lockRow, exists bool) error {
		now := time.Now()
		if !exists || !reap(row, now) || row.Kind != "reader" {
			return nil
		}

		cur, found := row.Slots[ownerID]
		if !found || isNeverNanos(cur) {
			return nil
		}

		row.Slots[ownerID] = encodeExpiry(newExpiresAt)
		ok = true

		return upsertRow(ctx, tx, row, true)
	})

	return ok, err
}

// ReleaseWriter implements storage.Store.
func (s *Store) ReleaseWriter(ctx context.Context, key, ownerID string) (bool, error) {
	var ok bool

	err := s.withRowLock(ctx, key, func(ctx context.Context, tx bun.Tx, row *lockRow, exists bool) error {
		now := time.Now()
		if !exists || !reap(row, now) {
			return nil
		}

		if row.Kind != "writer" || row.WriterOwner != ownerID {
			return nil
		}

		ok = true

		return deleteRow(ctx, tx, key)
	})

	return ok, err
}

// ReleaseReaderSlot implements storage.Store.
func (s *Store) ReleaseReaderSlot(ctx context.Context, key, ownerID string) (bool, error) {
	var ok bool

	err := s.withRowLock(ctx, key, func(ctx context.Context, tx bun.Tx, row *lockRow, exists bool) error {
		now := time.Now()
		if !exists || !reap(row, now) || row.Kind != "reader" {
			return nil
		}

		if _, found := row.Slots[ownerID]; !found {
			return nil
		}

		delete(row.Slots, ownerID)
		ok = true

		if len(row.Slots) == 0 {
			return deleteRow(ctx, tx, key)
		}

		return upsertRow(ctx, tx, row, true)
	})

	return ok, err
}

// ForceReleaseWriter implements storage.Store.
func (s *Store) ForceReleaseWriter(ctx context.Context, key string) (bool, error) {
	var ok bool

	err := s.withRowLock(ctx, key, func(ctx context.Context, tx bun.Tx, row *lockRow, exists bool) error {
		now := time.Now()
		if !exists || !reap(row, now) || row.Kind != "writer" {
			return nil
		}

		ok = true

		return deleteRow(ctx, tx, key)
	})

	return ok, err
}

// ForceReleaseAllReaders implements storage.Store.
func (s *Store) ForceReleaseAllReaders(ctx context.Context, key string) (bool, error) {
	var ok bool

	err := s.withRowLock(ctx, key, func(ctx context.Context, tx bun.Tx, row *lockRow, exists bool) error {
		now := time.Now()
		if !exists || !reap(row, now) || row.Kind != "reader" || len(row.Slots) == 0 {
			return nil
		}

		ok = true

		return deleteRow(ctx, tx, key)
	})

	return ok, err
}

// Read implements storage.Store. It runs outside a row lock: a plain
// SELECT is enough since Read never mutates.
func (s *Store) Read(ctx context.Context, key string, now time.Time) (storage.Snapshot, error) {
	row := &lockRow{Key: key}

	err := s.db.NewSelect().Model(row).Where("key = ?", key).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Snapshot{Kind: storage.KindAbsent}, nil
	}

	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("sqlstore: read: %w", err)
	}

	switch row.Kind {
	case "writer":
		if !liveAt(row.WriterExpiresAt, now) {
			return storage.Snapshot{Kind: storage.KindAbsent}, nil
		}

		return storage.Snapshot{
			Kind:         storage.KindWriter,
			WriterOwner:  row.WriterOwner,
			WriterExpiry: decodeExpiry(row.WriterExpiresAt),
		}, nil
	case "reader":
		slots := make(map[string]storage.Expiry)

		for owner, exp := range row.Slots {
			if liveAt(exp, now) {
				slots[owner] = decodeExpiry(exp)
			}
		}

		if len(slots) == 0 {
			return storage.Snapshot{Kind: storage.KindAbsent}, nil
		}

		return storage.Snapshot{Kind: storage.KindReader, Limit: row.Limit, Slots: slots}, nil
	default:
		return storage.Snapshot{Kind: storage.KindAbsent}, nil
	}
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

var _ storage.Store = (*Store)(nil)
