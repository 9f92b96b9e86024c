package kafka

import (
	"context"
	"time"

	"fieldgate/logger"
	"fieldgate/tools/safe"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Transport implements the fanout source and sink on Kafka.
type Transport struct {
	conf     Config
	client   sarama.Client
	producer sarama.SyncProducer
	channels []string
	retry    time.Duration
}

// NewTransport connects, ensures the topic when AutoCreateTopic is set and
// opens the producer. channels may be empty for a producer-only transport.
func NewTransport(conf Config, channels []string) (*Transport, error) {
	if err := conf.norm(); err != nil {
		return nil, err
	}
	base, err := BuildBaseConfig(&conf)
	if err != nil {
		return nil, err
	}
	client, err := sarama.NewClient(conf.Brokers, base)
	if err != nil {
		return nil, errors.Wrap(err, "kafka client")
	}
	if conf.AutoCreateTopic {
		admin, err := sarama.NewClusterAdminFromClient(client)
		if err != nil {
			_ = client.Close()
			return nil, errors.Wrap(err, "kafka admin")
		}
		// admin from client shares the connection; do not Close it here
		if err := EnsureTopic(admin, conf.Topic, conf.PartitionsPerTopic, conf.ReplicationFactor); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "kafka producer")
	}
	return &Transport{
		conf:     conf,
		client:   client,
		producer: producer,
		channels: channels,
		retry:    time.Second,
	}, nil
}

// Run consumes the fanout topic until ctx is done. A failed session is
// retried after a pause; rebalances end Consume and start a new one.
func (t *Transport) Run(ctx context.Context, deliver func(channel string, payload []byte)) error {
	if len(t.channels) == 0 {
		return errors.New("kafka transport: no channels")
	}
	group, err := sarama.NewConsumerGroupFromClient(t.conf.GroupID(), t.client)
	if err != nil {
		return errors.Wrap(err, "kafka consumer group")
	}
	defer group.Close()

	safe.Go("kafka-group-errors", func() {
		for err := range group.Errors() {
			logger.Warn("[kafka] consumer group error", zap.Error(err))
		}
	})

	h := &fanoutHandler{subs: t.channels, deliver: deliver}
	logger.Info("[kafka] transport consuming",
		zap.String("topic", t.conf.Topic), zap.String("group", t.conf.GroupID()), zap.Strings("channels", t.channels))
	for {
		if err := group.Consume(ctx, []string{t.conf.Topic}, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			logger.Warn("[kafka] consume failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(t.retry):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Publish writes payload keyed by channel.
func (t *Transport) Publish(_ context.Context, channel string, payload []byte) error {
	_, _, err := t.producer.SendMessage(&sarama.ProducerMessage{
		Topic: t.conf.Topic,
		Key:   sarama.StringEncoder(channel),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return errors.Wrapf(err, "kafka publish %s", channel)
	}
	return nil
}

// Connected is true while at least one broker is known.
func (t *Transport) Connected() bool {
	return t.client != nil && !t.client.Closed() && len(t.client.Brokers()) > 0
}

func (t *Transport) Close() error {
	var first error
	if t.producer != nil {
		first = t.producer.Close()
	}
	if t.client != nil && !t.client.Closed() {
		if err := t.client.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
