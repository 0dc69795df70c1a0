package main

import (
	"context"
	"errors"
	"fmt"

	sharedlock "github.com/kalbasit/sharedlock"
	"github.com/kalbasit/sharedlock/storage"
	"github.com/kalbasit/sharedlock/storage/memory"
	"github.com/kalbasit/sharedlock/storage/redisstore"
	"github.com/kalbasit/sharedlock/storage/sqlstore"
)

// ErrUnknownBackend is returned for an unrecognized --backend value.
var ErrUnknownBackend = errors.New("sharedlockctl: unknown backend")

// openBackend constructs the storage.Store named by kind. "redis" and
// "sql" are wrapped in a sharedlock.ResilientStore with degraded-mode
// fallback to an in-memory store when degraded is set, matching the
// teacher's allowDegradedMode convention.
func openBackend(ctx context.Context, kind, dsn string, degraded bool) (storage.Store, error) {
	switch kind {
	case "memory", "":
		return memory.New(), nil
	case "redis":
		redisStore, err := redisstore.New(redisstore.Config{
			Addrs:     []string{dsn},
			KeyPrefix: "sharedlock:",
		})
		if err != nil {
			return nil, fmt.Errorf("sharedlockctl: opening redis backend: %w", err)
		}

		return wrapResilient("redisstore", redisStore, degraded), nil
	case "sql":
		sqlStore, err := sqlstore.Open(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("sharedlockctl: opening sql backend: %w", err)
		}

		return wrapResilient("sqlstore", sqlStore, degraded), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, kind)
	}
}

func wrapResilient(name string, primary storage.Store, degraded bool) storage.Store {
	var fallback storage.Store
	if degraded {
		fallback = memory.New()
	}

	return sharedlock.NewResilientStore(name, primary, fallback, nil)
}
