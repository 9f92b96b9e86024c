// Package kafka carries fanout channels over one Kafka topic. The channel
// name is the record key, so per-channel order holds within a partition and
// every gateway instance reads the whole topic under its own group.
package kafka

import (
	"strings"
	"time"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
)

const (
	DefaultTopic       = "fieldgate.fanout"
	DefaultGroupPrefix = "fieldgate-"
)

type Config struct {
	Brokers             []string
	Topic               string // 所有 channel 共用一个 topic
	NodeID              string // group = GroupPrefix + NodeID
	GroupPrefix         string
	Version             string // e.g. "2.8.0"; empty => 2.8.0
	ProducerRetries     int
	ProducerCompression string // none/snappy/lz4/zstd
	PartitionsPerTopic  int32
	ReplicationFactor   int16
	AutoCreateTopic     bool
}

func (c *Config) norm() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka: brokers is empty")
	}
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.GroupPrefix == "" {
		c.GroupPrefix = DefaultGroupPrefix
	}
	if c.NodeID == "" {
		return errors.New("kafka: node id required for the consumer group")
	}
	if c.ProducerRetries <= 0 {
		c.ProducerRetries = 3
	}
	if c.PartitionsPerTopic <= 0 {
		c.PartitionsPerTopic = 8
	}
	if c.ReplicationFactor <= 0 {
		c.ReplicationFactor = 1
	}
	return nil
}

// GroupID is per instance: fanout needs every instance to see every record.
func (c *Config) GroupID() string { return c.GroupPrefix + c.NodeID }

// BuildBaseConfig maps Config onto a sarama config shared by the client,
// producer and consumer group.
func BuildBaseConfig(c *Config) (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = "fieldgate"

	cfg.Version = sarama.V2_8_0_0
	if c.Version != "" {
		v, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, errors.Wrapf(err, "kafka version %q", c.Version)
		}
		cfg.Version = v
	}

	// Producer
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = c.ProducerRetries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // ★ 关键：Key(channel) 控制分区
	switch strings.ToLower(c.ProducerCompression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	// Consumer: live fanout only, a restarted instance does not replay
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = true

	// Net
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "sarama config validate")
	}
	return cfg, nil
}
