package fanout

import (
	"context"
	"encoding/json"

	"fieldgate/logger"
	"fieldgate/module/model"

	"go.uber.org/zap"
)

// relayEnvelope is what travels on rooms:relay.
type relayEnvelope struct {
	Origin string          `json:"origin"`
	Target model.Target    `json:"target"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Bridge re-emits messages from a Source to this process's rooms. It never
// publishes, so nothing it emits is relayed again.
type Bridge struct {
	local  model.Emitter
	src    Source
	nodeID string
}

func NewBridge(local model.Emitter, src Source, nodeID string) *Bridge {
	return &Bridge{local: local, src: src, nodeID: nodeID}
}

// Run blocks until ctx is done or the source gives up.
func (b *Bridge) Run(ctx context.Context) error {
	logger.Info("[bridge] started", zap.String("node", b.nodeID))
	defer logger.Info("[bridge] stopped", zap.String("node", b.nodeID))
	return b.src.Run(ctx, func(channel string, payload []byte) {
		b.deliver(ctx, channel, payload)
	})
}

// deliver routes one message. Malformed payloads are logged and dropped.
func (b *Bridge) deliver(ctx context.Context, channel string, payload []byte) {
	switch {
	case channel == ChannelGlobal:
		b.alert(ctx, channel, "", payload)
	case channel == ChannelActiveShifts:
		b.dashboard(ctx, channel, model.EvActiveShifts, payload)
	case channel == ChannelUpcomingShifts:
		b.dashboard(ctx, channel, model.EvUpcomingShifts, payload)
	case channel == ChannelRelay:
		b.relay(ctx, payload)
	default:
		site, ok := siteFromChannel(channel)
		if !ok {
			logger.Warn("[bridge] message on unknown channel", zap.String("channel", channel))
			return
		}
		b.alert(ctx, channel, site, payload)
	}
}

func (b *Bridge) alert(ctx context.Context, channel, channelSite string, payload []byte) {
	ev, err := model.ParseAlertEvent(payload)
	if err != nil {
		dropped(channel, payload, err)
		return
	}
	site := ev.Site()
	if site == "" {
		site = channelSite
	}
	t := model.To(model.GroupAllOperators)
	if site != "" {
		// operators narrowed to another site must not see it
		t = model.Target{Groups: []string{model.GroupAllOperators, model.SiteGroup(site)}, ExceptSiteScoped: true}
	}
	b.local.Emit(ctx, t, model.NewEvent(model.EvAlert, ev))
}

func (b *Bridge) dashboard(ctx context.Context, channel, name string, payload []byte) {
	if !json.Valid(payload) {
		dropped(channel, payload, nil)
		return
	}
	b.local.Emit(ctx, model.To(model.GroupAllOperators), model.NewEvent(name, json.RawMessage(payload)))
}

func (b *Bridge) relay(ctx context.Context, payload []byte) {
	var env relayEnvelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Event == "" || len(env.Target.Groups) == 0 {
		dropped(ChannelRelay, payload, err)
		return
	}
	if env.Origin == b.nodeID {
		return
	}
	ev := model.Event{Name: env.Event}
	if len(env.Data) > 0 {
		ev.Data = env.Data
	}
	b.local.Emit(ctx, env.Target, ev)
}

func dropped(channel string, payload []byte, err error) {
	sample := payload
	if len(sample) > 256 {
		sample = sample[:256]
	}
	logger.Warn("[bridge] malformed payload dropped",
		zap.String("channel", channel), zap.ByteString("sample", sample), zap.Error(err))
}
