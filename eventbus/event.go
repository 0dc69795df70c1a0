// Package eventbus defines the event-delivery fabric for the shared-lock
// state machine and provides two concrete implementations: InProcess, a
// synchronous in-memory fan-out, and Redis, a cross-process pub/sub
// fan-out.
package eventbus

import "time"

// Kind identifies which transition produced an Event.
type Kind int

const (
	// WriterAcquired fires when a writer grant is newly admitted or
	// idempotently re-acquired by its owner.
	WriterAcquired Kind = iota
	// Unavailable fires when a writer or reader admission attempt is
	// blocked by a foreign live record.
	Unavailable
	// WriterReleased fires when a live writer grant is released by its
	// owner.
	WriterReleased
	// WriterFailedRelease fires when a release attempt does not apply.
	WriterFailedRelease
	// WriterRefreshed fires when a live writer grant's TTL is extended.
	WriterRefreshed
	// WriterFailedRefresh fires when a refresh attempt does not apply.
	WriterFailedRefresh
	// WriterForceReleased fires when an operator force-releases a writer.
	WriterForceReleased
	// ReaderAcquired fires when a reader slot is newly admitted or
	// idempotently re-acquired by its owner.
	ReaderAcquired
	// ReaderReleased fires when a live reader slot is released by its
	// owner.
	ReaderReleased
	// ReaderFailedRelease fires when a reader release attempt does not
	// apply.
	ReaderFailedRelease
	// ReaderRefreshed fires when a live reader slot's TTL is extended.
	ReaderRefreshed
	// ReaderFailedRefresh fires when a reader refresh attempt does not
	// apply.
	ReaderFailedRefresh
	// ReaderAllForceReleased fires when an operator force-releases every
	// reader slot on a key.
	ReaderAllForceReleased
)

// String renders the event kind using the wire taxonomy names.
func (k Kind) String() string {
	switch k {
	case WriterAcquired:
		return "WRITER_ACQUIRED"
	case Unavailable:
		return "UNAVAILABLE"
	case WriterReleased:
		return "WRITER_RELEASED"
	case WriterFailedRelease:
		return "WRITER_FAILED_RELEASE"
	case WriterRefreshed:
		return "WRITER_REFRESHED"
	case WriterFailedRefresh:
		return "WRITER_FAILED_REFRESH"
	case WriterForceReleased:
		return "WRITER_FORCE_RELEASED"
	case ReaderAcquired:
		return "READER_ACQUIRED"
	case ReaderReleased:
		return "READER_RELEASED"
	case ReaderFailedRelease:
		return "READER_FAILED_RELEASE"
	case ReaderRefreshed:
		return "READER_REFRESHED"
	case ReaderFailedRefresh:
		return "READER_FAILED_REFRESH"
	case ReaderAllForceReleased:
		return "READER_ALL_FORCE_RELEASED"
	default:
		return "UNKNOWN"
	}
}

// Event describes one committed (or rejected) transition. Each acquire,
// release and refresh call on a Handle that returns without error
// dispatches exactly one Event, after the Storage Contract call that
// decided its outcome returns. The force-release calls dispatch an Event
// only when they removed a live record, and GetState dispatches none.
type Event struct {
	Kind Kind
	Key  string

	// OwnerID is the caller's owner id for the operation that produced
	// this event. For Unavailable, it is the blocked caller, not the
	// blocking owner.
	OwnerID string

	// BlockingOwner is set on Unavailable when a foreign writer blocked a
	// writer attempt; it is empty when a reader record blocked a writer
	// attempt and on every blocked reader attempt.
	BlockingOwner string

	Limit int
	At    time.Time
}

// Handler receives dispatched events. Handlers registered on InProcess run
// synchronously and must not block for long.
type Handler func(Event)

// Bus delivers events to registered handlers.
type Bus interface {
	Subscribe(handler Handler) (unsubscribe func())
	Publish(event Event)
}
