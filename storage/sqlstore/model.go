package sqlstore

import (
	"github.com/uptrace/bun"
)

// lockRow is the bun model for the shared_locks table: one row per key.
// Readers and their per-owner expiries live in the Slots JSON column
// rather than a child table, since the whole record is always read,
// locked, and rewritten atomically as a unit.
type lockRow struct {
	bun.BaseModel `bun:"table:shared_locks,alias:sl"`

	Key string `bun:"key,pk"`

	Kind string `bun:"kind,notnull"` // "writer" | "reader"

	WriterOwner     string `bun:"writer_owner"`
	WriterExpiresAt int64  `bun:"writer_expires_at"` // unix nanos; 0 means "never"

	Limit int            `bun:"reader_limit"`
	Slots map[string]int64 `bun:"slots,type:text"` // ownerID -> expiry unix nanos (0 = never), JSON-encoded by bun
}

func isNeverNanos(n int64) bool { return n == 0 }
