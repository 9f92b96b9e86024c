package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultLockTTL        = 120 * time.Second
	DefaultMaxAttachments = 4
)

// Load reads the YAML file at path (optional), applies FIELDGATE_* environment
// overrides and fills defaults.
func Load(path string) (*AppConfig, error) {
	cfg := &AppConfig{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.Getenv)
	cfg.Norm()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) applyEnv(getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("FIELDGATE_NODE_ID", &c.NodeID)
	str("GATEWAY_ID", &c.NodeID)
	num("FIELDGATE_PORT", &c.Server.Port)
	num("FIELDGATE_GRPC_PORT", &c.Server.GrpcPort)
	str("FIELDGATE_LOG_LEVEL", &c.Log.Level)
	str("FIELDGATE_REDIS_ADDR", &c.Redis.Addr)
	str("FIELDGATE_REDIS_PASSWORD", &c.Redis.Password)
	num("FIELDGATE_REDIS_DB", &c.Redis.DB)
	str("DATABASE_URL", &c.Postgres.URL)
	str("FIELDGATE_MONGO_URI", &c.Mongo.URI)
	str("FIELDGATE_JWT_SECRET", &c.Auth.Secret)
	str("FIELDGATE_CHAT_STORE", &c.Chat.Store)
	str("FIELDGATE_BRIDGE_TRANSPORT", &c.Bridge.Transport)
	str("FIELDGATE_OBJECT_BASE_URL", &c.ObjectStore.BaseURL)
	str("FIELDGATE_OBJECT_SECRET", &c.ObjectStore.Secret)
	if v := strings.TrimSpace(getenv("FIELDGATE_NATS_SERVERS")); v != "" {
		c.Nats.Servers = strings.Split(v, ",")
	}
	if v := strings.TrimSpace(getenv("FIELDGATE_KAFKA_BROKERS")); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
}

// Norm fills zero values with defaults.
func (c *AppConfig) Norm() {
	if c.NodeID == "" {
		host, _ := os.Hostname()
		c.NodeID = "gw-" + host
	}
	if c.Server.Port <= 0 {
		c.Server.Port = 8080
	}
	if c.Server.SendQueue <= 0 {
		c.Server.SendQueue = 256
	}
	if c.Server.PingInterval <= 0 {
		c.Server.PingInterval = 25 * time.Second
	}
	if c.Server.PongWait <= 0 {
		c.Server.PongWait = 60 * time.Second
	}
	if c.Server.WriteWait <= 0 {
		c.Server.WriteWait = 10 * time.Second
	}
	if c.Server.ReadLimit <= 0 {
		c.Server.ReadLimit = 1 << 20
	}
	if c.Server.PresenceTTL <= 0 {
		c.Server.PresenceTTL = 60 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Redis.PoolSize <= 0 {
		c.Redis.PoolSize = 50
	}
	if c.Postgres.MaxConns <= 0 {
		c.Postgres.MaxConns = 20
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "fieldgate"
	}
	if c.Mongo.MaxPoolSize <= 0 {
		c.Mongo.MaxPoolSize = 20
	}
	if c.Mongo.MaxRetry <= 0 {
		c.Mongo.MaxRetry = 3
	}
	if c.Nats.Name == "" {
		c.Nats.Name = c.NodeID
	}
	if c.Auth.Alg == "" {
		c.Auth.Alg = "HS256"
	}
	if c.Auth.Leeway <= 0 {
		c.Auth.Leeway = 5 * time.Second
	}
	if c.Auth.VersionTTL <= 0 {
		c.Auth.VersionTTL = 60 * time.Second
	}
	if c.Auth.DefaultClient == "" {
		c.Auth.DefaultClient = "web"
	}
	if c.Chat.Store == "" {
		c.Chat.Store = ChatStorePostgres
	}
	if c.Chat.LockTTL <= 0 {
		c.Chat.LockTTL = DefaultLockTTL
	}
	if c.Chat.MaxAttachments <= 0 {
		c.Chat.MaxAttachments = DefaultMaxAttachments
	}
	if c.Chat.HistoryLimit <= 0 {
		c.Chat.HistoryLimit = 50
	}
	if c.Bridge.Transport == "" {
		c.Bridge.Transport = BridgeRedis
	}
	if c.ObjectStore.URLTTL <= 0 {
		c.ObjectStore.URLTTL = 15 * time.Minute
	}
	if c.ObjectStore.CacheTTL <= 0 || c.ObjectStore.CacheTTL >= c.ObjectStore.URLTTL {
		// a cached URL must never outlive its signature
		c.ObjectStore.CacheTTL = c.ObjectStore.URLTTL / 3
	}
	if c.Poller.Block <= 0 {
		c.Poller.Block = 5 * time.Second
	}
	if c.Poller.Backoff <= 0 {
		c.Poller.Backoff = time.Second
	}
	if c.Poller.LookBack <= 0 {
		c.Poller.LookBack = time.Minute
	}
}

func (c *AppConfig) Validate() error {
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required")
	}
	switch c.Chat.Store {
	case ChatStorePostgres, ChatStoreMongo:
	default:
		return fmt.Errorf("chat.store must be %q or %q, got %q", ChatStorePostgres, ChatStoreMongo, c.Chat.Store)
	}
	switch c.Bridge.Transport {
	case BridgeRedis:
	case BridgeNats:
		if len(c.Nats.Servers) == 0 {
			return fmt.Errorf("bridge.transport=nats requires nats.servers")
		}
	case BridgeKafka:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("bridge.transport=kafka requires kafka.brokers")
		}
	default:
		return fmt.Errorf("bridge.transport must be %q, %q or %q, got %q", BridgeRedis, BridgeNats, BridgeKafka, c.Bridge.Transport)
	}
	if c.Chat.Store == ChatStoreMongo && c.Mongo.URI == "" {
		return fmt.Errorf("chat.store=mongo requires mongo.uri")
	}
	return nil
}
