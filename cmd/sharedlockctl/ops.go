package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	sharedlock "github.com/kalbasit/sharedlock"
)

// ErrOperationDenied is returned when a lock operation reports false with
// no underlying error, e.g. a foreign writer already holds the key.
var ErrOperationDenied = fmt.Errorf("sharedlockctl: operation denied")

func newHandle(ctx context.Context, cmd *cli.Command) (*sharedlock.Handle, func() error, error) {
	store, err := openBackend(ctx, cmd.String("backend"), cmd.String("dsn"), cmd.Bool("degraded-fallback"))
	if err != nil {
		return nil, nil, err
	}

	provider := sharedlock.NewProvider(store)

	opts := []sharedlock.HandleOption{
		sharedlock.WithTTL(requestedTTL(cmd)),
	}

	if owner := cmd.String("owner"); owner != "" {
		opts = append(opts, sharedlock.WithOwnerID(owner))
	}

	if limit := cmd.Int("limit"); limit > 0 {
		opts = append(opts, sharedlock.WithLimit(int(limit)))
	}

	h := provider.NewHandle(cmd.String("key"), opts...)

	closeFn := func() error {
		if closer, ok := store.(interface{ Close() error }); ok {
			return closer.Close()
		}

		return nil
	}

	return h, closeFn, nil
}

func acquireWriterCommand() *cli.Command {
	return &cli.Command{
		Name:  "acquire-writer",
		Usage: "acquire an exclusive writer grant",
		Flags: []cli.Flag{keyFlag(), ownerFlag(), ttlFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			h, closeFn, err := newHandle(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			ok, err := h.TryAcquireWriter(ctx)
			if err != nil {
				return err
			}

			if !ok {
				return fmt.Errorf("%w: writer grant on %q unavailable", ErrOperationDenied, h.Key)
			}

			printf("acquired writer grant on %q as %q", h.Key, h.OwnerID)

			return nil
		},
	}
}

func releaseWriterCommand() *cli.Command {
	return &cli.Command{
		Name:  "release-writer",
		Usage: "release a writer grant held by --owner",
		Flags: []cli.Flag{keyFlag(), &cli.StringFlag{Name: "owner", Usage: "owner id", Required: true}},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			h, closeFn, err := newHandle(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			ok, err := h.ReleaseWriter(ctx)
			if err != nil {
				return err
			}

			if !ok {
				return fmt.Errorf("%w: %q does not hold a writer grant on %q", ErrOperationDenied, h.OwnerID, h.Key)
			}

			printf("released writer grant on %q held by %q", h.Key, h.OwnerID)

			return nil
		},
	}
}

func refreshWriterCommand() *cli.Command {
	return &cli.Command{
		Name:  "refresh-writer",
		Usage: "extend the TTL of a writer grant held by --owner",
		Flags: []cli.Flag{keyFlag(), &cli.StringFlag{Name: "owner", Usage: "owner id", Required: true}, ttlFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			h, closeFn, err := newHandle(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			ok, err := h.RefreshWriter(ctx)
			if err != nil {
				return err
			}

			if !ok {
				return fmt.Errorf("%w: could not refresh writer grant on %q for %q", ErrOperationDenied, h.Key, h.OwnerID)
			}

			printf("refreshed writer grant on %q for %q", h.Key, h.OwnerID)

			return nil
		},
	}
}

func forceReleaseWriterCommand() *cli.Command {
	return &cli.Command{
		Name:  "force-release-writer",
		Usage: "forcibly release the writer grant on --key regardless of owner (operator use)",
		Flags: []cli.Flag{keyFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			h, closeFn, err := newHandle(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			ok, err := h.ForceReleaseWriter(ctx)
			if err != nil {
				return err
			}

			printf("force-released writer grant on %q: %v", h.Key, ok)

			return nil
		},
	}
}

func acquireReaderCommand() *cli.Command {
	return &cli.Command{
		Name:  "acquire-reader",
		Usage: "acquire a shared reader slot",
		Flags: []cli.Flag{
			keyFlag(), ownerFlag(), ttlFlag(),
			&cli.IntFlag{Name: "limit", Usage: "reader limit, consulted only when creating a new record", Value: 1},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			h, closeFn, err := newHandle(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			ok, err := h.TryAcquireReader(ctx)
			if err != nil {
				return err
			}

			if !ok {
				return fmt.Errorf("%w: reader slot on %q unavailable", ErrOperationDenied, h.Key)
			}

			printf("acquired reader slot on %q as %q", h.Key, h.OwnerID)

			return nil
		},
	}
}

func releaseReaderCommand() *cli.Command {
	return &cli.Command{
		Name:  "release-reader",
		Usage: "release a reader slot held by --owner",
		Flags: []cli.Flag{keyFlag(), &cli.StringFlag{Name: "owner", Usage: "owner id", Required: true}},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			h, closeFn, err := newHandle(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			ok, err := h.ReleaseReader(ctx)
			if err != nil {
				return err
			}

			if !ok {
				return fmt.Errorf("%w: %q does not hold a reader slot on %q", ErrOperationDenied, h.OwnerID, h.Key)
			}

			printf("released reader slot on %q held by %q", h.Key, h.OwnerID)

			return nil
		},
	}
}

func refreshReaderCommand() *cli.Command {
	return &cli.Command{
		Name:  "refresh-reader",
		Usage: "extend the TTL of a reader slot held by --owner",
		Flags: []cli.Flag{keyFlag(), &cli.StringFlag{Name: "owner", Usage: "owner id", Required: true}, ttlFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			h, closeFn, err := newHandle(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			ok, err := h.RefreshReader(ctx)
			if err != nil {
				return err
			}

			if !ok {
				return fmt.Errorf("%w: could not refresh reader slot on %q for %q", ErrOperationDenied, h.Key, h.OwnerID)
			}

			printf("refreshed reader slot on %q for %q", h.Key, h.OwnerID)

			return nil
		},
	}
}

func forceReleaseReadersCommand() *cli.Command {
	return &cli.Command{
		Name:  "force-release-readers",
		Usage: "forcibly release every reader slot on --key (operator use)",
		Flags: []cli.Flag{keyFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			h, closeFn, err := newHandle(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			ok, err := h.ForceReleaseAllReaders(ctx)
			if err != nil {
				return err
			}

			printf("force-released all reader slots on %q: %v", h.Key, ok)

			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "print the current state of --key as seen by --owner",
		Flags: []cli.Flag{keyFlag(), ownerFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			h, closeFn, err := newHandle(ctx, cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			state, err := h.GetState(ctx)
			if err != nil {
				return err
			}

			printf("key=%q owner=%q kind=%v remaining=%s writer_owner=%q limit=%d slots=%v",
				h.Key, h.OwnerID, state.Kind, state.RemainingTime, state.WriterOwner, state.Limit, state.Slots)

			return nil
		},
	}
}
