package config

import "time"

type AppConfig struct {
	NodeID string       `yaml:"node_id"` // 节点ID, also the origin tag on relayed room events
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`

	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Nats     NatsConfig     `yaml:"nats"`
	Kafka    KafkaConfig    `yaml:"kafka"`

	Auth        AuthConfig        `yaml:"auth"`
	Chat        ChatConfig        `yaml:"chat"`
	Bridge      BridgeConfig      `yaml:"bridge"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Poller      PollerConfig      `yaml:"poller"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`      // http + websocket
	GrpcPort     int           `yaml:"grpc_port"` // grpc health; 0 disables
	SnowflakeID  int64         `yaml:"snowflake_node"`
	SendQueue    int           `yaml:"send_queue"`
	PingInterval time.Duration `yaml:"ping_interval"`
	PongWait     time.Duration `yaml:"pong_wait"`
	WriteWait    time.Duration `yaml:"write_wait"`
	ReadLimit    int64         `yaml:"read_limit"`
	AllowOrigins []string      `yaml:"allow_origins"` // empty = any

	MaxConnsPerUser int  `yaml:"max_conns_per_user"` // <=0 不限制
	EvictOldest     bool `yaml:"evict_oldest"`

	PresenceTTL time.Duration `yaml:"presence_ttl"` // 连接心跳续期，崩溃实例的连接在一个 TTL 后消失
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type PostgresConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type MongoConfig struct {
	URI         string `yaml:"uri"`
	Database    string `yaml:"database"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	MaxPoolSize int    `yaml:"max_pool_size"`
	MaxRetry    int    `yaml:"max_retry"`
}

type NatsConfig struct {
	Servers []string `yaml:"servers"`
	Name    string   `yaml:"name"`
	User    string   `yaml:"user"`
	Pass    string   `yaml:"pass"`
}

type KafkaConfig struct {
	Brokers           []string `yaml:"brokers"`
	Topic             string   `yaml:"topic"`
	Version           string   `yaml:"version"`
	Compression       string   `yaml:"compression"` // none/snappy/lz4/zstd
	Partitions        int32    `yaml:"partitions"`
	ReplicationFactor int16    `yaml:"replication_factor"`
	AutoCreateTopic   bool     `yaml:"auto_create_topic"`
}

type AuthConfig struct {
	Secret        string        `yaml:"secret"`
	Alg           string        `yaml:"alg"`
	Leeway        time.Duration `yaml:"leeway"`
	VersionTTL    time.Duration `yaml:"version_cache_ttl"`
	DefaultClient string        `yaml:"default_client_class"`
}

// ChatStore selects where chat messages live.
const (
	ChatStorePostgres = "postgres"
	ChatStoreMongo    = "mongo"
)

type ChatConfig struct {
	Store          string        `yaml:"store"`
	LockTTL        time.Duration `yaml:"lock_ttl"`
	MaxAttachments int           `yaml:"max_attachments"`
	HistoryLimit   int           `yaml:"history_limit"`
}

// Bridge transports for alert/dashboard channels.
const (
	BridgeRedis = "redis"
	BridgeNats  = "nats"
	BridgeKafka = "kafka"
)

type BridgeConfig struct {
	Transport string `yaml:"transport"`
	Relay     bool   `yaml:"relay"` // cross-instance room relay
}

type ObjectStoreConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Secret   string        `yaml:"secret"`
	URLTTL   time.Duration `yaml:"url_ttl"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type PollerConfig struct {
	Block    time.Duration `yaml:"block"`
	Backoff  time.Duration `yaml:"backoff"`
	LookBack time.Duration `yaml:"look_back"`
}
