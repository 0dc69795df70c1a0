package sharedlock

import "context"

// ScopedResult is the outcome of a Run* helper: whether the grant was
// acquired, and the wrapped function's return value when it was.
type ScopedResult[T any] struct {
	Acquired bool
	Value    T
}

// RunWithWriter acquires a writer grant, runs fn, and releases the grant
// before returning, regardless of whether fn returns an error. If the
// grant cannot be acquired, fn is not run and the returned result has
// Acquired=false.
func RunWithWriter[T any](ctx context.Context, h *Handle, fn func(ctx context.Context) (T, error)) (ScopedResult[T], error) {
	acquired, err := h.TryAcquireWriter(ctx)
	if err != nil {
		return ScopedResult[T]{}, err
	}

	if !acquired {
		return ScopedResult[T]{Acquired: false}, nil
	}

	defer func() { _, _ = h.ReleaseWriter(ctx) }()

	value, err := fn(ctx)

	return ScopedResult[T]{Acquired: true, Value: value}, err
}

// RunWithWriterOrFail behaves like RunWithWriter but returns
// ErrFailedAcquireWriter instead of a false ScopedResult when the grant
// cannot be acquired.
func RunWithWriterOrFail[T any](ctx context.Context, h *Handle, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := RunWithWriter(ctx, h, fn)
	if err != nil {
		var zero T

		return zero, err
	}

	if !result.Acquired {
		var zero T

		return zero, ErrFailedAcquireWriter
	}

	return result.Value, nil
}

// RunWithReader acquires a reader slot, runs fn, and releases the slot
// before returning, regardless of whether fn returns an error. If the
// slot cannot be acquired, fn is not run and the returned result has
// Acquired=false.
func RunWithReader[T any](ctx context.Context, h *Handle, fn func(ctx context.Context) (T, error)) (ScopedResult[T], error) {
	acquired, err := h.TryAcquireReader(ctx)
	if err != nil {
		return ScopedResult[T]{}, err
	}

	if !acquired {
		return ScopedResult[T]{Acquired: false}, nil
	}

	defer func() { _, _ = h.ReleaseReader(ctx) }()

	value, err := fn(ctx)

	return ScopedResult[T]{Acquired: true, Value: value}, err
}

// RunWithReaderOrFail behaves like RunWithReader but returns
// ErrLimitReachedReader instead of a false ScopedResult when the slot
// cannot be acquired, whether the blocker was a live writer or a full
// reader record.
func RunWithReaderOrFail[T any](ctx context.Context, h *Handle, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := RunWithReader(ctx, h, fn)
	if err != nil {
		var zero T

		return zero, err
	}

	if !result.Acquired {
		var zero T

		return zero, ErrLimitReachedReader
	}

	return result.Value, nil
}
