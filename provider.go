package sharedlock

import (
	"time"

	"github.com/google/uuid"

	"github.com/kalbasit/sharedlock/eventbus"
	"github.com/kalbasit/sharedlock/storage"
)

// Provider is the factory and event dispatcher for Handles. It is a thin,
// stateless façade over a Store and a Bus: it never retains per-handle
// state between calls, so any number of Handles sharing a Provider observe
// the same underlying records.
type Provider struct {
	store storage.Store
	bus   eventbus.Bus
	clock storage.Clock
}

// ProviderOption configures a Provider at construction time.
type ProviderOption func(*Provider)

// WithBus attaches an event Bus. Without one, NewProvider installs an
// InProcess bus.
func WithBus(bus eventbus.Bus) ProviderOption {
	return func(p *Provider) { p.bus = bus }
}

// WithClock overrides the Clock driving admission and expiry decisions.
// Intended for deterministic tests.
func WithClock(clock storage.Clock) ProviderOption {
	return func(p *Provider) { p.clock = clock }
}

// NewProvider builds a Provider over store. Pass storage/memory.New() for a
// single-process deployment, or a ResilientStore wrapping a distributed
// backend for production use.
func NewProvider(store storage.Store, opts ...ProviderOption) *Provider {
	p := &Provider{
		store: store,
		bus:   eventbus.NewInProcess(),
		clock: storage.SystemClock,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// AddListener registers handler on the Provider's Bus and returns a func to
// unsubscribe it.
func (p *Provider) AddListener(handler eventbus.Handler) (unsubscribe func()) {
	return p.bus.Subscribe(handler)
}

// HandleOption configures a Handle at construction time.
type HandleOption func(*Handle)

// WithTTL sets the Handle's requested TTL. storage.Never requests a grant
// that does not expire. Default is storage.Never.
func WithTTL(ttl time.Duration) HandleOption {
	return func(h *Handle) { h.RequestedTTL = ttl }
}

// WithLimit sets the Handle's requested reader limit. Only consulted when
// TryAcquireReader creates a new record; ignored by writer operations.
// Default is 1.
func WithLimit(limit int) HandleOption {
	return func(h *Handle) { h.RequestedLimit = limit }
}

// WithOwnerID overrides the generated owner id for a Handle.
func WithOwnerID(ownerID string) HandleOption {
	return func(h *Handle) { h.OwnerID = ownerID }
}

// NewHandle creates a Handle bound to key. If no WithOwnerID option is
// given, a random owner id is generated with google/uuid.
func (p *Provider) NewHandle(key string, opts ...HandleOption) *Handle {
	h := &Handle{
		provider:       p,
		Key:            key,
		OwnerID:        uuid.NewString(),
		RequestedTTL:   storage.Never,
		RequestedLimit: 1,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}
