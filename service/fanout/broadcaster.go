package fanout

import (
	"context"
	"encoding/json"

	"fieldgate/logger"
	"fieldgate/module/model"

	"go.uber.org/zap"
)

// Broadcaster emits to local rooms and, when a sink is set, relays the same
// event to the other instances.
type Broadcaster struct {
	local  model.Emitter
	sink   Sink
	nodeID string
}

// NewBroadcaster with a nil sink is a plain local emitter.
func NewBroadcaster(local model.Emitter, sink Sink, nodeID string) *Broadcaster {
	return &Broadcaster{local: local, sink: sink, nodeID: nodeID}
}

func (b *Broadcaster) Emit(ctx context.Context, t model.Target, ev model.Event) {
	b.local.Emit(ctx, t, ev)
	if b.sink == nil {
		return
	}
	data, err := json.Marshal(ev.Data)
	if err != nil {
		logger.Error("[broadcaster] encode relay data failed", zap.String("event", ev.Name), zap.Error(err))
		return
	}
	env := relayEnvelope{Origin: b.nodeID, Target: t, Event: ev.Name}
	if ev.Data != nil {
		env.Data = data
	}
	payload, err := json.Marshal(env)
	if err != nil {
		logger.Error("[broadcaster] encode relay envelope failed", zap.String("event", ev.Name), zap.Error(err))
		return
	}
	// local delivery already happened; remote peers miss this one
	if err := b.sink.Publish(ctx, ChannelRelay, payload); err != nil {
		logger.Warn("[broadcaster] relay publish failed", zap.String("event", ev.Name), zap.Error(err))
	}
}
