package fanout

import (
	"context"
	"encoding/json"
	"strconv"

	"fieldgate/module/invalidation"
	"fieldgate/module/model"

	"github.com/pkg/errors"
)

// Appender adds one entry to a stream.
type Appender interface {
	Append(ctx context.Context, stream string, fields map[string]any) (string, error)
}

// Publisher is the producer side of the channels and streams the gateway
// consumes. Background jobs and tests use it.
type Publisher struct {
	sink    Sink
	streams Appender
}

func NewPublisher(sink Sink, streams Appender) *Publisher {
	return &Publisher{sink: sink, streams: streams}
}

// PublishAlert sends ev on its site channel, or on alerts:global when it has
// no site.
func (p *Publisher) PublishAlert(ctx context.Context, ev *model.AlertEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode alert event")
	}
	channel := ChannelGlobal
	if site := ev.Site(); site != "" {
		channel = SiteChannel(site)
	}
	return p.sink.Publish(ctx, channel, payload)
}

func (p *Publisher) PublishActiveShifts(ctx context.Context, delta any) error {
	return p.publishJSON(ctx, ChannelActiveShifts, delta)
}

func (p *Publisher) PublishUpcomingShifts(ctx context.Context, delta any) error {
	return p.publishJSON(ctx, ChannelUpcomingShifts, delta)
}

func (p *Publisher) publishJSON(ctx context.Context, channel string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", channel)
	}
	return p.sink.Publish(ctx, channel, payload)
}

// AppendWorkerEvent writes to the worker's invalidation stream.
func (p *Publisher) AppendWorkerEvent(ctx context.Context, workerID string, fields map[string]any) (string, error) {
	if workerID == "" {
		return "", errors.New("worker id required")
	}
	return p.streams.Append(ctx, invalidation.StreamKey(workerID), fields)
}

// SessionRevoked announces that the worker logged in again from clientClass.
func (p *Publisher) SessionRevoked(ctx context.Context, workerID string, newVersion int64, clientClass string) (string, error) {
	return p.AppendWorkerEvent(ctx, workerID, map[string]any{
		"type":        invalidation.TypeSessionRevoked,
		"newVersion":  strconv.FormatInt(newVersion, 10),
		"clientClass": clientClass,
	})
}

func (p *Publisher) AssignmentUpdated(ctx context.Context, workerID, assignmentID string) (string, error) {
	return p.AppendWorkerEvent(ctx, workerID, map[string]any{
		"type":                         invalidation.TypeAssignmentUpdated,
		invalidation.FieldAssignmentID: assignmentID,
	})
}
