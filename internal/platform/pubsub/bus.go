// Package pubsub contains the Google Cloud Pub/Sub implementation of the
// broadcast bus, for deployments that already run on GCP instead of a
// shared Redis.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/darshlukkad/colink-presence-gateway/pkg/presence"
)

// publisherClient is the slice of pubsub.Publisher this bus needs. This
// allows a mock for testing.
type publisherClient interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// Bus implements presence.Bus on a Pub/Sub topic. Every gateway instance
// needs its own subscription on the topic so each one sees every
// envelope; the subscription id is therefore per-instance configuration.
type Bus struct {
	publisher  publisherClient
	subscriber *pubsub.Subscriber
	logger     zerolog.Logger
}

// NewBus is the constructor for the Pub/Sub broadcast bus.
func NewBus(client *pubsub.Client, topicID, subscriptionID string, logger zerolog.Logger) (*Bus, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	if topicID == "" || subscriptionID == "" {
		return nil, fmt.Errorf("bus topic and subscription ids cannot be empty")
	}
	return &Bus{
		publisher:  client.Publisher(topicID),
		subscriber: client.Subscriber(subscriptionID),
		logger:     logger.With().Str("component", "pubsub_bus").Logger(),
	}, nil
}

// Publish sends an envelope to the topic and waits for the server ack.
func (b *Bus) Publish(ctx context.Context, env *presence.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	result := b.publisher.Publish(ctx, &pubsub.Message{Data: payload})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("failed to publish envelope: %w", err)
	}
	return nil
}

// Subscribe drains the instance's subscription until ctx is cancelled.
// Envelopes are acked unconditionally: this bus carries ephemeral
// real-time state, so redelivering stale presence or typing events would
// be worse than dropping them.
func (b *Bus) Subscribe(ctx context.Context, handler func(context.Context, *presence.Envelope)) error {
	b.logger.Info().Msg("Broadcast bus subscriber started")

	return b.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		msg.Ack()

		var env presence.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			b.logger.Warn().Err(err).Msg("Skipping unreadable bus envelope")
			return
		}
		handler(ctx, &env)
	})
}

// Close flushes any outstanding publishes.
func (b *Bus) Close() error {
	if p, ok := b.publisher.(*pubsub.Publisher); ok {
		p.Stop()
	}
	return nil
}
