package fanout

import (
	"context"
	"strings"
	"time"

	"fieldgate/logger"
	"fieldgate/service/storage"

	"go.uber.org/zap"
)

// RedisTransport carries the bridge channels over coordination-store pub/sub.
type RedisTransport struct {
	coord      *storage.Coord
	channels   []string
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewRedisTransport(coord *storage.Coord, channels []string) *RedisTransport {
	return &RedisTransport{
		coord:      coord,
		channels:   channels,
		minBackoff: 200 * time.Millisecond,
		maxBackoff: 5 * time.Second,
	}
}

func (t *RedisTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	return t.coord.Publish(ctx, channel, payload)
}

// Run keeps one subscription open, resubscribing with backoff when the
// subscription cannot be established.
func (t *RedisTransport) Run(ctx context.Context, deliver func(channel string, payload []byte)) error {
	var patterns, plain []string
	for _, ch := range t.channels {
		if strings.ContainsAny(ch, "*?[") {
			patterns = append(patterns, ch)
		} else {
			plain = append(plain, ch)
		}
	}

	backoff := t.minBackoff
	for {
		ps, err := t.coord.Subscribe(ctx, patterns, plain)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("[bridge] subscribe failed, retrying", zap.Duration("backoff", backoff), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > t.maxBackoff {
				backoff = t.maxBackoff
			}
			continue
		}
		backoff = t.minBackoff
		logger.Info("[bridge] subscribed", zap.Strings("patterns", patterns), zap.Strings("channels", plain))

		// go-redis reconnects the PubSub underneath; the channel only closes on Close
		msgs := ps.Channel()
		for open := true; open; {
			select {
			case <-ctx.Done():
				_ = ps.Close()
				return nil
			case m, ok := <-msgs:
				if !ok {
					open = false
					break
				}
				deliver(m.Channel, []byte(m.Payload))
			}
		}
		_ = ps.Close()
	}
}
