package bus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/facecontrol/face-remote/internal/pkg/errors"
	"github.com/facecontrol/face-remote/internal/pkg/logger"
)

const redisConnectTimeout = 5 * time.Second

// RedisBus mirrors events over Redis pub/sub. Delivery is at-most-once:
// subscribers only see events published while they are listening.
type RedisBus struct {
	client *redis.Client
	prefix string
	log    *logger.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
	subs     map[string]*redis.PubSub
	closed   bool
	wg       sync.WaitGroup
}

// NewRedisBus connects to url and verifies the connection.
func NewRedisBus(url, prefix string, log *logger.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(errors.CodeValidation, "invalid redis URL", err)
	}
	if log == nil {
		log = logger.Default()
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(errors.CodeUnavailable, "connecting to redis", err)
	}

	return &RedisBus{
		client:   client,
		prefix:   prefix,
		log:      log.WithComponent("bus.redis"),
		handlers: make(map[string][]Handler),
		subs:     make(map[string]*redis.PubSub),
	}, nil
}

// Publish publishes an event to the topic's Redis channel.
func (b *RedisBus) Publish(ctx context.Context, topic string, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errors.New(errors.CodeUnavailable, "bus is closed")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, "failed to marshal event", err)
	}
	if err := b.client.Publish(ctx, b.prefix+topic, data).Err(); err != nil {
		return errors.Wrap(errors.CodeUnavailable, "failed to publish to redis", err)
	}
	return nil
}

// Subscribe registers a handler; the first handler for a topic opens the
// Redis subscription.
func (b *RedisBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New(errors.CodeUnavailable, "bus is closed")
	}

	if _, ok := b.subs[topic]; !ok {
		ps := b.client.Subscribe(ctx, b.prefix+topic)
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return errors.Wrap(errors.CodeUnavailable, "failed to subscribe", err)
		}
		b.subs[topic] = ps
		b.wg.Add(1)
		go b.listen(topic, ps)
	}

	b.handlers[topic] = append(b.handlers[topic], handler)
	return nil
}

func (b *RedisBus) listen(topic string, ps *redis.PubSub) {
	defer b.wg.Done()

	for msg := range ps.Channel() {
		event, err := decodeRedisPayload(msg.Payload)
		if err != nil {
			b.log.WithError(err).Warn("dropping undecodable redis message", "topic", topic)
			continue
		}

		b.mu.RLock()
		handlers := b.handlers[topic]
		b.mu.RUnlock()

		for _, h := range handlers {
			if err := h(context.Background(), event); err != nil {
				b.log.WithError(err).Warn("handler failed", "topic", topic, "event_id", event.ID)
			}
		}
	}
}

func decodeRedisPayload(payload string) (Event, error) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// Close unsubscribes everything and closes the client.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, ps := range subs {
		_ = ps.Close()
	}
	b.wg.Wait()

	if b.client == nil {
		return nil
	}
	if err := b.client.Close(); err != nil {
		return errors.Wrap(errors.CodeInternal, "closing redis client", err)
	}
	return nil
}
