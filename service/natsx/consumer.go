package natsx

import (
	"bytes"
	"context"
	"fmt"

	"fieldgate/logger"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// fanout subjects are low volume but bursty (alert storms)
const (
	pendingMsgs  = 1_000_000
	pendingBytes = 64 << 20
)

// NatsxConsumer 消费端：core 订阅，至多一次，不重投。
type NatsxConsumer struct {
	c   *NatsxClient
	mws []NatsxMiddleware
}

func NewNatsxConsumer(c *NatsxClient, mws ...NatsxMiddleware) *NatsxConsumer {
	return &NatsxConsumer{c: c, mws: mws}
}

// Subscribe binds the route registered under biz. ctx is handed to every
// handler call; a handler error is logged and the message is gone.
func (cs *NatsxConsumer) Subscribe(ctx context.Context, biz string, h NatsxHandler) error {
	r, ok := cs.c.route(biz)
	if !ok {
		return fmt.Errorf("natsx: no route for %q", biz)
	}
	h = NatsxChain(h, cs.mws...)

	sub, err := cs.subscribe(r, func(m *nats.Msg) {
		msg := NatsxMessage{
			Subject: m.Subject,
			Data:    bytes.Clone(m.Data),
			Header:  firstValues(m.Header),
		}
		if err := h(ctx, msg); err != nil {
			logger.Debug("[natsx] handler error", zap.String("subject", m.Subject), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("natsx: subscribe %s: %w", r.Subject, err)
	}
	if err := sub.SetPendingLimits(pendingMsgs, pendingBytes); err != nil {
		logger.Warn("[natsx] pending limits", zap.String("subject", r.Subject), zap.Error(err))
	}

	cs.c.mu.Lock()
	cs.c.subs[biz] = sub
	cs.c.mu.Unlock()
	return nil
}

func (cs *NatsxConsumer) subscribe(r NatsxRoute, cb nats.MsgHandler) (*nats.Subscription, error) {
	if r.Queue != "" {
		return cs.c.nc.QueueSubscribe(r.Subject, r.Queue, cb)
	}
	return cs.c.nc.Subscribe(r.Subject, cb)
}

// firstValues flattens a header to its first value per key.
func firstValues(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) == 0 {
			continue
		}
		out[k] = v[0]
	}
	return out
}
