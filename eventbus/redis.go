package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrNoRedisClient is returned by NewRedis when client is nil.
var ErrNoRedisClient = errors.New("eventbus: a redis client is required")

// Redis fans events out across processes over a Redis pub/sub channel.
// Delivery is best-effort: a Publish that fails is logged and dropped
// without a retry, and Redis pub/sub does not redeliver a message, so a
// handler can miss an event. Handlers registered after Publish has already
// sent a message do not see it, matching ordinary pub/sub semantics.
type Redis struct {
	client  *redis.Client
	channel string

	mu       sync.RWMutex
	handlers map[int]Handler
	nextID   int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedis creates a Redis bus publishing on channel and starts a
// background subscription loop. Call Close to stop it.
func NewRedis(client *redis.Client, channel string) (*Redis, error) {
	if client == nil {
		return nil, ErrNoRedisClient
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Redis{
		client:   client,
		channel:  channel,
		handlers: make(map[int]Handler),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go b.listen(ctx)

	return b, nil
}

func (b *Redis) listen(ctx context.Context) {
	defer close(b.done)

	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	ch := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event

			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Msg("eventbus: dropping malformed redis event payload")

				continue
			}

			b.dispatch(event)
		}
	}
}

func (b *Redis) dispatch(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// Subscribe registers handler and returns a func that removes it.
func (b *Redis) Subscribe(handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Publish serializes event and publishes it on the configured channel.
// Errors are logged rather than returned, since the triggering state
// transition has already committed by the time an Event is built.
func (b *Redis) Publish(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		zerolog.Ctx(context.Background()).Warn().Err(err).Msg("eventbus: failed to marshal event")

		return
	}

	if err := b.client.Publish(context.Background(), b.channel, payload).Err(); err != nil {
		zerolog.Ctx(context.Background()).Warn().Err(err).Msg("eventbus: failed to publish event")
	}
}

// Close stops the background subscription loop and waits for it to exit.
func (b *Redis) Close() {
	b.cancel()
	<-b.done
}

var _ Bus = (*Redis)(nil)
