package sharedlock

import "time"

// StateKind identifies which projected read-model variant a GetState call
// returns.
type StateKind int

const (
	// StateExpired means no live record exists for the key.
	StateExpired StateKind = iota
	// StateWriterAcquired means the caller holds the live writer grant.
	StateWriterAcquired
	// StateWriterUnavailable means a foreign owner holds the live writer
	// grant.
	StateWriterUnavailable
	// StateReaderAcquired means the caller holds a live reader slot.
	StateReaderAcquired
	// StateReaderUnacquired means a reader record is live, the caller does
	// not hold a slot in it, and it has fewer live slots than its limit.
	StateReaderUnacquired
	// StateReaderLimitReached means a reader record is live, the caller
	// does not hold a slot in it, and its live slots already fill its limit.
	StateReaderLimitReached
)

// String renders the wire-style name of k, used in logs and CLI output.
func (k StateKind) String() string {
	switch k {
	case StateExpired:
		return "EXPIRED"
	case StateWriterAcquired:
		return "WRITER_ACQUIRED"
	case StateWriterUnavailable:
		return "WRITER_UNAVAILABLE"
	case StateReaderAcquired:
		return "READER_ACQUIRED"
	case StateReaderUnacquired:
		return "READER_UNACQUIRED"
	case StateReaderLimitReached:
		return "READER_LIMIT_REACHED"
	default:
		return "UNKNOWN"
	}
}

// State is the projected, read-only view of a key's record from one
// caller's point of view, returned by Handle.GetState.
type State struct {
	Kind StateKind

	// RemainingTime is set for StateWriterAcquired and StateReaderAcquired;
	// it is the Never sentinel duration for a non-expiring grant.
	RemainingTime time.Duration

	// WriterOwner is set for StateWriterUnavailable.
	WriterOwner string

	// Limit and Slots are set for the reader-family states.
	Limit int
	Slots []string
}
