// The production entry point for the presence gateway. It wires the
// configured backends (Redis or Firestore presence, Redis or Pub/Sub
// broadcast) into the API and WebSocket services and runs them.
package main

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/darshlukkad/colink-presence-gateway/cmd"
	"github.com/darshlukkad/colink-presence-gateway/internal/app"
	"github.com/darshlukkad/colink-presence-gateway/internal/auth"
	"github.com/darshlukkad/colink-presence-gateway/internal/platform/persistence"
	psub "github.com/darshlukkad/colink-presence-gateway/internal/platform/pubsub"
	"github.com/darshlukkad/colink-presence-gateway/internal/platform/redisstore"
	"github.com/darshlukkad/colink-presence-gateway/internal/realtime"
	"github.com/darshlukkad/colink-presence-gateway/pkg/presence"
	"github.com/darshlukkad/colink-presence-gateway/presencegateway"
	"github.com/darshlukkad/colink-presence-gateway/presencegateway/config"
)

func main() {
	// 1. Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := log.With().Str("service", "presence-gateway").Logger()

	// 2. Load config.yaml and finalize it with env overrides
	cfg, err := cmd.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	cfg, err = config.UpdateConfigWithEnvOverrides(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to finalize configuration")
	}

	// 3. Create dependencies
	ctx := context.Background()
	deps, err := newDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize dependencies")
	}

	// 4. Create the handshake token verifier
	verifier, err := newVerifier(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize token verifier")
	}

	// 5. Create the two main services
	connManager, err := realtime.NewConnectionManager(
		realtime.Config{
			Port:              cfg.WebSocketPort,
			HeartbeatInterval: cfg.HeartbeatInterval(),
			MaxConnections:    cfg.MaxConnections,
		},
		verifier,
		*deps,
		logger,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Connection Manager")
	}

	apiService, err := presencegateway.New(cfg, deps, connManager, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create API service")
	}

	// 6. Run the application
	app.Run(ctx, logger, apiService, connManager)
}

// newVerifier builds the JWKS-backed verifier, or the permissive fake for
// local runs.
func newVerifier(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (realtime.TokenVerifier, error) {
	if cfg.RunMode == config.RunModeLocal {
		logger.Warn().Msg("Running in 'local' mode. Token verification is faked.")
		return cmd.FakeVerifier{}, nil
	}
	return auth.NewVerifier(ctx, cfg.JwksURL, logger)
}

// newDependencies builds the service dependency container.
func newDependencies(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (*presence.ServiceDependencies, error) {
	if cfg.RunMode == config.RunModeLocal {
		logger.Warn().Msg("Running in 'local' mode. All external dependencies will be faked.")
		return cmd.NewFakeDependencies(ctx, cfg, logger), nil
	}
	return newProdDependencies(ctx, cfg, logger)
}

// newProdDependencies creates real, production-ready dependencies.
func newProdDependencies(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (*presence.ServiceDependencies, error) {
	store, err := newPresenceStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create presence store: %w", err)
	}

	typingClient, err := newRedisClient(ctx, cfg.TypingRedis.Addr, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to typing redis: %w", err)
	}
	typing, err := redisstore.NewTypingStore(typingClient, cfg.TypingTTL(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create typing store: %w", err)
	}

	bus, err := newBroadcastBus(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create broadcast bus: %w", err)
	}

	return &presence.ServiceDependencies{Presence: store, Typing: typing, Bus: bus}, nil
}

// newPresenceStore creates the pluggable presence store based on config.
func newPresenceStore(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (presence.Store, error) {
	storeType := cfg.PresenceStore.Type
	logger.Info().Str("type", storeType).Msg("Initializing presence store...")

	switch storeType {
	case config.StoreTypeRedis:
		client, err := newRedisClient(ctx, cfg.PresenceStore.Redis.Addr, logger)
		if err != nil {
			return nil, err
		}
		return redisstore.NewPresenceStore(client, cfg.PresenceTTL(), logger)

	case config.StoreTypeFirestore:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to firestore: %w", err)
		}
		return persistence.NewFirestorePresenceStore(
			fsClient,
			cfg.PresenceStore.Firestore.CollectionName,
			cfg.PresenceTTL(),
			logger,
		)

	default:
		return nil, fmt.Errorf("invalid presence_store type: %s (must be 'redis' or 'firestore')", storeType)
	}
}

// newBroadcastBus creates the pluggable cross-instance bus based on config.
func newBroadcastBus(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (presence.Bus, error) {
	busType := cfg.BroadcastBus.Type
	logger.Info().Str("type", busType).Msg("Initializing broadcast bus...")

	switch busType {
	case config.BusTypeRedis:
		client, err := newRedisClient(ctx, cfg.BroadcastBus.Redis.Addr, logger)
		if err != nil {
			return nil, err
		}
		return redisstore.NewBus(client, cfg.BroadcastBus.Redis.Channel, logger)

	case config.BusTypePubSub:
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to pubsub: %w", err)
		}
		// Every instance gets its own subscription so each one sees
		// every envelope.
		subscriptionID := fmt.Sprintf("%s-%s", cfg.BroadcastBus.PubSub.SubscriptionIDPrefix, uuid.NewString())
		if err := ensureSubscription(ctx, cfg, psClient, subscriptionID, logger); err != nil {
			return nil, err
		}
		return psub.NewBus(psClient, cfg.BroadcastBus.PubSub.TopicID, subscriptionID, logger)

	default:
		return nil, fmt.Errorf("invalid broadcast_bus type: %s (must be 'redis' or 'pubsub')", busType)
	}
}

// ensureSubscription creates this instance's subscription on the
// broadcast topic. Expired subscriptions of dead instances are garbage
// collected by the expiration policy.
func ensureSubscription(ctx context.Context, cfg *config.AppConfig, psClient *pubsub.Client, subscriptionID string, logger zerolog.Logger) error {
	topicPath := fmt.Sprintf("projects/%s/topics/%s", cfg.ProjectID, cfg.BroadcastBus.PubSub.TopicID)
	subPath := fmt.Sprintf("projects/%s/subscriptions/%s", cfg.ProjectID, subscriptionID)

	logger.Info().Str("subscription", subPath).Msg("Creating instance subscription...")
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, &pubsubpb.Subscription{
		Name:               subPath,
		Topic:              topicPath,
		AckDeadlineSeconds: 10,
		ExpirationPolicy: &pubsubpb.ExpirationPolicy{
			Ttl: durationpb.New(24 * time.Hour),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create subscription %s: %w", subPath, err)
	}
	return nil
}

func newRedisClient(ctx context.Context, addr string, logger zerolog.Logger) (*redis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address is not configured")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	logger.Info().Str("addr", addr).Msg("Connected to Redis")
	return client, nil
}
