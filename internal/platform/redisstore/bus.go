package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/darshlukkad/colink-presence-gateway/pkg/presence"
)

// Bus implements presence.Bus on a Redis pub/sub channel. Every gateway
// instance publishes to and subscribes from the same channel; Redis
// preserves per-publisher ordering, which is all the fan-out contract
// requires. Envelopes are not persisted: if no instance is subscribed,
// the event is lost by design.
type Bus struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger

	mu  sync.Mutex
	sub *redis.PubSub
}

// NewBus is the constructor for the Redis broadcast bus.
func NewBus(client *redis.Client, channel string, logger zerolog.Logger) (*Bus, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if channel == "" {
		return nil, fmt.Errorf("bus channel cannot be empty")
	}
	return &Bus{
		client:  client,
		channel: channel,
		logger:  logger.With().Str("component", "redis_bus").Logger(),
	}, nil
}

// Publish sends an envelope to every subscribed instance.
func (b *Bus) Publish(ctx context.Context, env *presence.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish envelope: %w", err)
	}
	return nil
}

// Subscribe drains the channel, invoking handler per envelope, until ctx
// is cancelled or the bus is closed. Unreadable payloads are logged and
// skipped; one poison message must not stall fan-out.
func (b *Bus) Subscribe(ctx context.Context, handler func(context.Context, *presence.Envelope)) error {
	sub := b.client.Subscribe(ctx, b.channel)

	// Wait for the subscription confirmation so publishes that follow a
	// successful Subscribe are not silently missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("failed to confirm bus subscription: %w", err)
	}

	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()

	b.logger.Info().Str("channel", b.channel).Msg("Broadcast bus subscriber started")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env presence.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn().Err(err).Msg("Skipping unreadable bus envelope")
				continue
			}
			handler(ctx, &env)
		}
	}
}

// Close tears down the subscription, unblocking Subscribe.
func (b *Bus) Close() error {
	b.mu.Lock()
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()

	if sub != nil {
		return sub.Close()
	}
	return nil
}
