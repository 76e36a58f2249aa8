package config_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darshlukkad/colink-presence-gateway/presencegateway/config"
)

func baseConfig() *config.AppConfig {
	return &config.AppConfig{
		ProjectID:     "test-project",
		RunMode:       config.RunModeProduction,
		APIPort:       "8080",
		WebSocketPort: "8081",
		JwksURL:       "https://idp.example.com/certs",
		PresenceStore: config.YamlPresenceStoreConfig{
			Type:  config.StoreTypeRedis,
			Redis: config.YamlRedisConfig{Addr: "redis:6379"},
		},
		TypingRedis: config.YamlRedisConfig{Addr: "redis:6379"},
		BroadcastBus: config.YamlBroadcastBusConfig{
			Type:  config.BusTypeRedis,
			Redis: config.YamlRedisBusConfig{Addr: "redis:6379", Channel: "test:broadcast"},
		},
		PresenceTTLSeconds:       300,
		TypingTTLSeconds:         5,
		HeartbeatIntervalSeconds: 30,
		MaxConnections:           100,
	}
}

func TestNewConfigFromYaml(t *testing.T) {
	yamlCfg := &config.YamlConfig{
		ProjectID:     "yaml-project",
		RunMode:       "production",
		APIPort:       "8080",
		WebSocketPort: "8081",
		JwksURL:       "https://yaml-idp.example.com/certs",
		PresenceStore: config.YamlPresenceStoreConfig{
			Type:      "firestore",
			Firestore: config.YamlFirestoreConfig{CollectionName: "yaml-presence"},
		},
		TypingRedis: config.YamlRedisConfig{Addr: "yaml-redis:6379"},
		BroadcastBus: config.YamlBroadcastBusConfig{
			Type:   "pubsub",
			PubSub: config.YamlPubSubConfig{TopicID: "yaml-topic", SubscriptionIDPrefix: "yaml-gateway"},
		},
		PresenceTTLSeconds:       600,
		TypingTTLSeconds:         10,
		HeartbeatIntervalSeconds: 15,
		MaxConnections:           5000,
	}

	cfg, err := config.NewConfigFromYaml(yamlCfg)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "yaml-project", cfg.ProjectID)
	assert.Equal(t, "production", cfg.RunMode)
	assert.Equal(t, "8080", cfg.APIPort)
	assert.Equal(t, "8081", cfg.WebSocketPort)
	assert.Equal(t, "https://yaml-idp.example.com/certs", cfg.JwksURL)
	assert.Equal(t, "firestore", cfg.PresenceStore.Type)
	assert.Equal(t, "yaml-presence", cfg.PresenceStore.Firestore.CollectionName)
	assert.Equal(t, "yaml-redis:6379", cfg.TypingRedis.Addr)
	assert.Equal(t, "pubsub", cfg.BroadcastBus.Type)
	assert.Equal(t, "yaml-topic", cfg.BroadcastBus.PubSub.TopicID)
	assert.Equal(t, 600, cfg.PresenceTTLSeconds)
	assert.Equal(t, 10, cfg.TypingTTLSeconds)
	assert.Equal(t, 15, cfg.HeartbeatIntervalSeconds)
	assert.Equal(t, 5000, cfg.MaxConnections)
}

func TestDurationHelpers(t *testing.T) {
	cfg := baseConfig()

	assert.Equal(t, 5*time.Minute, cfg.PresenceTTL())
	assert.Equal(t, 5*time.Second, cfg.TypingTTL())
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval())
}

func TestUpdateConfigWithEnvOverrides(t *testing.T) {
	t.Run("Success - valid production config passes through", func(t *testing.T) {
		cfg, err := config.UpdateConfigWithEnvOverrides(baseConfig(), zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, "redis:6379", cfg.PresenceStore.Redis.Addr)
	})

	t.Run("Env - REDIS_ADDR overrides every redis address", func(t *testing.T) {
		t.Setenv("REDIS_ADDR", "env-redis:6379")

		cfg, err := config.UpdateConfigWithEnvOverrides(baseConfig(), zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, "env-redis:6379", cfg.PresenceStore.Redis.Addr)
		assert.Equal(t, "env-redis:6379", cfg.TypingRedis.Addr)
		assert.Equal(t, "env-redis:6379", cfg.BroadcastBus.Redis.Addr)
	})

	t.Run("Env - ports and jwks url", func(t *testing.T) {
		t.Setenv("API_PORT", "9090")
		t.Setenv("WEBSOCKET_PORT", "9091")
		t.Setenv("JWKS_URL", "https://env-idp.example.com/certs")

		cfg, err := config.UpdateConfigWithEnvOverrides(baseConfig(), zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, "9090", cfg.APIPort)
		assert.Equal(t, "9091", cfg.WebSocketPort)
		assert.Equal(t, "https://env-idp.example.com/certs", cfg.JwksURL)
	})

	t.Run("Env - CORS_ALLOWED_ORIGINS splits and trims", func(t *testing.T) {
		t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com ,")

		cfg, err := config.UpdateConfigWithEnvOverrides(baseConfig(), zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t,
			[]string{"https://app.example.com", "https://admin.example.com"},
			cfg.Cors.AllowedOrigins)
	})

	t.Run("Defaults - zero durations fall back", func(t *testing.T) {
		cfg := baseConfig()
		cfg.PresenceTTLSeconds = 0
		cfg.TypingTTLSeconds = 0
		cfg.HeartbeatIntervalSeconds = 0
		cfg.MaxConnections = 0

		cfg, err := config.UpdateConfigWithEnvOverrides(cfg, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, 5*time.Minute, cfg.PresenceTTL())
		assert.Equal(t, 5*time.Second, cfg.TypingTTL())
		assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval())
		assert.Equal(t, 10000, cfg.MaxConnections)
	})

	t.Run("Failure - missing jwks url in production", func(t *testing.T) {
		cfg := baseConfig()
		cfg.JwksURL = ""

		_, err := config.UpdateConfigWithEnvOverrides(cfg, zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "jwks_url")
	})

	t.Run("Failure - firestore store without project id", func(t *testing.T) {
		cfg := baseConfig()
		cfg.ProjectID = ""
		cfg.PresenceStore = config.YamlPresenceStoreConfig{
			Type:      config.StoreTypeFirestore,
			Firestore: config.YamlFirestoreConfig{CollectionName: "presence"},
		}

		_, err := config.UpdateConfigWithEnvOverrides(cfg, zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "GCP_PROJECT_ID")
	})

	t.Run("Failure - unknown bus type", func(t *testing.T) {
		cfg := baseConfig()
		cfg.BroadcastBus.Type = "carrier-pigeon"

		_, err := config.UpdateConfigWithEnvOverrides(cfg, zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broadcast_bus.type")
	})

	t.Run("Local mode skips external validation", func(t *testing.T) {
		cfg := &config.AppConfig{
			RunMode:       config.RunModeLocal,
			APIPort:       "8080",
			WebSocketPort: "8081",
		}

		_, err := config.UpdateConfigWithEnvOverrides(cfg, zerolog.Nop())
		assert.NoError(t, err)
	})
}
