package natsx

import (
	"context"
	"errors"
	"strings"
	"time"

	"fieldgate/logger"

	"go.uber.org/zap"
)

var (
	subjectEscaper   = strings.NewReplacer("%", "%25", ".", "%2E", ":", ".")
	subjectUnescaper = strings.NewReplacer(".", ":", "%2E", ".", "%25", "%")
)

// ChannelToSubject maps a colon separated channel name ("alerts:site:*") to a
// NATS subject ("alerts.site.*"). Dots inside a token are escaped so the
// mapping is reversible.
func ChannelToSubject(channel string) string {
	return subjectEscaper.Replace(channel)
}

// SubjectToChannel reverses ChannelToSubject.
func SubjectToChannel(subject string) string {
	return subjectUnescaper.Replace(subject)
}

// Transport carries fanout channels over core NATS. Every instance subscribes
// without a queue group: each one needs every message.
type Transport struct {
	client   *NatsxClient
	consumer *NatsxConsumer
	producer *NatsxProducer
	channels []string
}

// NewTransport connects and prepares subscriptions for channels (patterns
// allowed, "*" matches one token).
func NewTransport(cfg NatsxConfig, channels []string, middlewares ...NatsxMiddleware) (*Transport, error) {
	c, err := NewNatsxClient(cfg)
	if err != nil {
		return nil, err
	}
	mws := append([]NatsxMiddleware{
		NatsxRecover(),
		NatsxLogger(100 * time.Millisecond),
		NatsxIdemMiddleware(NewMemIdem(time.Minute), 0),
	}, middlewares...)
	return &Transport{
		client:   c,
		consumer: NewNatsxConsumer(c, mws...),
		producer: NewNatsxProducer(c),
		channels: channels,
	}, nil
}

// Run subscribes every channel and delivers until ctx is done. The nats
// client reconnects on its own, so Run only fails on the initial subscribe.
func (t *Transport) Run(ctx context.Context, deliver func(channel string, payload []byte)) error {
	if len(t.channels) == 0 {
		return errors.New("natsx transport: no channels")
	}
	for _, ch := range t.channels {
		if err := t.client.RegisterRoute(NatsxRoute{Biz: ch, Subject: ChannelToSubject(ch)}); err != nil {
			return err
		}
		err := t.consumer.Subscribe(ctx, ch, func(_ context.Context, msg NatsxMessage) error {
			deliver(SubjectToChannel(msg.Subject), msg.Data)
			return nil
		})
		if err != nil {
			t.unsubscribeAll()
			return err
		}
	}
	logger.Info("[natsx] transport subscribed", zap.Strings("channels", t.channels))
	<-ctx.Done()
	t.unsubscribeAll()
	return nil
}

func (t *Transport) unsubscribeAll() {
	for _, ch := range t.channels {
		t.client.unsubscribe(ch)
	}
}

// Publish sends payload on channel with a fresh message id.
func (t *Transport) Publish(ctx context.Context, channel string, payload []byte) error {
	return t.producer.PublishOnce(ctx, ChannelToSubject(channel), payload, nil, "")
}

func (t *Transport) Connected() bool { return t.client.Connected() }

func (t *Transport) Close() error { return t.client.Close() }
