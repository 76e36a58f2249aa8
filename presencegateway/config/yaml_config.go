package config

// --- YAML-Specific Structs ---

type YamlRedisConfig struct {
	Addr string `yaml:"addr"`
}

type YamlFirestoreConfig struct {
	CollectionName string `yaml:"collection_name"`
}

// YamlPresenceStoreConfig selects the shared presence record backend.
type YamlPresenceStoreConfig struct {
	Type      string              `yaml:"type"` // "redis" or "firestore"
	Redis     YamlRedisConfig     `yaml:"redis"`
	Firestore YamlFirestoreConfig `yaml:"firestore"`
}

type YamlPubSubConfig struct {
	TopicID string `yaml:"topic_id"`
	// SubscriptionIDPrefix is suffixed with the instance id so every
	// gateway gets its own subscription on the shared topic.
	SubscriptionIDPrefix string `yaml:"subscription_id_prefix"`
}

type YamlRedisBusConfig struct {
	Addr    string `yaml:"addr"`
	Channel string `yaml:"channel"`
}

// YamlCorsConfig lists the web client origins allowed to call the
// presence query API.
type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// YamlBroadcastBusConfig selects the cross-instance fan-out medium.
type YamlBroadcastBusConfig struct {
	Type   string             `yaml:"type"` // "redis" or "pubsub"
	Redis  YamlRedisBusConfig `yaml:"redis"`
	PubSub YamlPubSubConfig   `yaml:"pubsub"`
}

// YamlConfig defines the structure for unmarshaling the embedded config.yaml file.
type YamlConfig struct {
	ProjectID     string                  `yaml:"project_id"`
	RunMode       string                  `yaml:"run_mode"`
	APIPort       string                  `yaml:"api_port"`
	WebSocketPort string                  `yaml:"websocket_port"`
	JwksURL       string                  `yaml:"jwks_url"`
	Cors          YamlCorsConfig          `yaml:"cors"`
	PresenceStore YamlPresenceStoreConfig `yaml:"presence_store"`
	TypingRedis   YamlRedisConfig         `yaml:"typing_redis"`
	BroadcastBus  YamlBroadcastBusConfig  `yaml:"broadcast_bus"`

	PresenceTTLSeconds       int `yaml:"presence_ttl_seconds"`
	TypingTTLSeconds         int `yaml:"typing_ttl_seconds"`
	HeartbeatIntervalSeconds int `yaml:"heartbeat_interval_seconds"`
	MaxConnections           int `yaml:"max_connections"`
}

// NewConfigFromYaml converts the raw unmarshaled data into a base
// AppConfig, without environment overrides.
func NewConfigFromYaml(yamlCfg *YamlConfig) (*AppConfig, error) {
	appCfg := &AppConfig{
		ProjectID:                yamlCfg.ProjectID,
		RunMode:                  yamlCfg.RunMode,
		APIPort:                  yamlCfg.APIPort,
		WebSocketPort:            yamlCfg.WebSocketPort,
		JwksURL:                  yamlCfg.JwksURL,
		Cors:                     yamlCfg.Cors,
		PresenceStore:            yamlCfg.PresenceStore,
		TypingRedis:              yamlCfg.TypingRedis,
		BroadcastBus:             yamlCfg.BroadcastBus,
		PresenceTTLSeconds:       yamlCfg.PresenceTTLSeconds,
		TypingTTLSeconds:         yamlCfg.TypingTTLSeconds,
		HeartbeatIntervalSeconds: yamlCfg.HeartbeatIntervalSeconds,
		MaxConnections:           yamlCfg.MaxConnections,
	}

	return appCfg, nil
}
