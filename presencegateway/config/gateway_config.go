// Package config holds the two-stage configuration for the presence
// gateway: raw YAML structs unmarshaled from the embedded file, and the
// canonical AppConfig finalized with environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Run modes. Local runs swap the external dependencies for in-memory fakes.
const (
	RunModeLocal      = "local"
	RunModeProduction = "production"
)

// Backend selectors.
const (
	StoreTypeRedis     = "redis"
	StoreTypeFirestore = "firestore"
	BusTypeRedis       = "redis"
	BusTypePubSub      = "pubsub"
)

const (
	defaultPresenceTTLSeconds       = 300
	defaultTypingTTLSeconds         = 5
	defaultHeartbeatIntervalSeconds = 30
	defaultMaxConnections           = 10000
)

// AppConfig is the canonical, validated configuration object used
// throughout the application. It is created by NewConfigFromYaml (stage 1)
// and finalized by UpdateConfigWithEnvOverrides (stage 2).
type AppConfig struct {
	ProjectID     string
	RunMode       string
	APIPort       string
	WebSocketPort string
	JwksURL       string
	Cors          YamlCorsConfig
	PresenceStore YamlPresenceStoreConfig
	TypingRedis   YamlRedisConfig
	BroadcastBus  YamlBroadcastBusConfig

	PresenceTTLSeconds       int
	TypingTTLSeconds         int
	HeartbeatIntervalSeconds int
	MaxConnections           int
}

// PresenceTTL is how long a presence record survives without a refresh.
func (c *AppConfig) PresenceTTL() time.Duration {
	return time.Duration(c.PresenceTTLSeconds) * time.Second
}

// TypingTTL is how long a typing marker survives without an explicit stop.
func (c *AppConfig) TypingTTL() time.Duration {
	return time.Duration(c.TypingTTLSeconds) * time.Second
}

// HeartbeatInterval is the expected client ping cadence. A connection is
// closed after two silent intervals.
func (c *AppConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

// UpdateConfigWithEnvOverrides takes the base configuration and completes
// it by applying environment variables, defaults, and final validation.
func UpdateConfigWithEnvOverrides(cfg *AppConfig, logger zerolog.Logger) (*AppConfig, error) {
	logger.Debug().Msg("Applying environment variable overrides...")

	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		logger.Debug().Str("key", "GCP_PROJECT_ID").Msg("Overriding config value from env")
		cfg.ProjectID = projectID
	}
	if jwksURL := os.Getenv("JWKS_URL"); jwksURL != "" {
		logger.Debug().Str("key", "JWKS_URL").Msg("Overriding config value from env")
		cfg.JwksURL = jwksURL
	}
	if port := os.Getenv("API_PORT"); port != "" {
		logger.Debug().Str("key", "API_PORT").Msg("Overriding config value from env")
		cfg.APIPort = port
	}
	if port := os.Getenv("WEBSOCKET_PORT"); port != "" {
		logger.Debug().Str("key", "WEBSOCKET_PORT").Msg("Overriding config value from env")
		cfg.WebSocketPort = port
	}
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug().Str("key", "CORS_ALLOWED_ORIGINS").Msg("Overriding config value from env")
		var origins []string
		for _, o := range strings.Split(corsOrigins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
		cfg.Cors.AllowedOrigins = origins
	}
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		logger.Debug().Str("key", "REDIS_ADDR").Msg("Overriding config value from env")
		cfg.PresenceStore.Redis.Addr = redisAddr
		cfg.TypingRedis.Addr = redisAddr
		cfg.BroadcastBus.Redis.Addr = redisAddr
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		logger.Error().Err(err).Msg("Final config validation failed")
		return nil, err
	}

	logger.Debug().Msg("Configuration finalized and validated successfully")
	return cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.PresenceTTLSeconds <= 0 {
		cfg.PresenceTTLSeconds = defaultPresenceTTLSeconds
	}
	if cfg.TypingTTLSeconds <= 0 {
		cfg.TypingTTLSeconds = defaultTypingTTLSeconds
	}
	if cfg.HeartbeatIntervalSeconds <= 0 {
		cfg.HeartbeatIntervalSeconds = defaultHeartbeatIntervalSeconds
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = defaultMaxConnections
	}
	if cfg.BroadcastBus.Redis.Channel == "" {
		cfg.BroadcastBus.Redis.Channel = "colink:broadcast"
	}
}

func validate(cfg *AppConfig) error {
	if cfg.APIPort == "" {
		return fmt.Errorf("api_port is not set in config or env var")
	}
	if cfg.WebSocketPort == "" {
		return fmt.Errorf("websocket_port is not set in config or env var")
	}

	if cfg.RunMode == RunModeLocal {
		// Local runs use in-memory fakes; no external config to check.
		return nil
	}

	if cfg.JwksURL == "" {
		return fmt.Errorf("jwks_url is not set in config or env var")
	}

	switch cfg.PresenceStore.Type {
	case StoreTypeRedis:
		if cfg.PresenceStore.Redis.Addr == "" {
			return fmt.Errorf("presence_store.redis.addr is not set")
		}
	case StoreTypeFirestore:
		if cfg.ProjectID == "" {
			return fmt.Errorf("GCP_PROJECT_ID is required for the firestore presence store")
		}
		if cfg.PresenceStore.Firestore.CollectionName == "" {
			return fmt.Errorf("presence_store.firestore.collection_name is not set")
		}
	default:
		return fmt.Errorf("unknown presence_store.type: %q", cfg.PresenceStore.Type)
	}

	if cfg.TypingRedis.Addr == "" {
		return fmt.Errorf("typing_redis.addr is not set")
	}

	switch cfg.BroadcastBus.Type {
	case BusTypeRedis:
		if cfg.BroadcastBus.Redis.Addr == "" {
			return fmt.Errorf("broadcast_bus.redis.addr is not set")
		}
	case BusTypePubSub:
		if cfg.ProjectID == "" {
			return fmt.Errorf("GCP_PROJECT_ID is required for the pubsub broadcast bus")
		}
		if cfg.BroadcastBus.PubSub.TopicID == "" || cfg.BroadcastBus.PubSub.SubscriptionIDPrefix == "" {
			return fmt.Errorf("broadcast_bus.pubsub topic_id and subscription_id_prefix are required")
		}
	default:
		return fmt.Errorf("unknown broadcast_bus.type: %q", cfg.BroadcastBus.Type)
	}

	return nil
}
