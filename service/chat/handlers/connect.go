package handlers

import (
	"context"
	"strings"

	"fieldgate/module/invalidation"
	"fieldgate/module/model"
	"fieldgate/service/chat"
	"fieldgate/tools/errs"
	"fieldgate/tools/safe"

	"go.uber.org/zap"
)

// ===== operator =====

// Backfiller answers request_dashboard_backfill on one connection.
type Backfiller interface {
	Backfill(ctx context.Context, siteID string, to model.Replier) error
}

type SubscribeSite struct {
	SiteID string `json:"siteId"`
}

type BackfillRequest struct {
	SiteID string `json:"siteId"`
}

type SiteSubscribed struct {
	SiteID string `json:"siteId"`
	Left   string `json:"left,omitempty"`
}

// OperatorSet joins every operator to all-operators and lets them narrow to
// one site and request the dashboard snapshot.
type OperatorSet struct {
	rooms *chat.Rooms
	dash  Backfiller
}

func NewOperatorSet(rooms *chat.Rooms, dash Backfiller) *OperatorSet {
	return &OperatorSet{rooms: rooms, dash: dash}
}

func (h *OperatorSet) OnConnect(_ context.Context, c *chat.Client) error {
	h.rooms.JoinAllOperators(c)
	return nil
}

func (h *OperatorSet) Register(d *chat.Dispatcher) {
	d.Register(
		chat.On(model.InSubscribeSite, h.subscribeSite, model.KindOperator),
		chat.On(model.InRequestBackfill, h.backfill, model.KindOperator),
	)
}

func (h *OperatorSet) subscribeSite(_ context.Context, c *chat.Client, f model.Frame, cmd *SubscribeSite) error {
	site := strings.TrimSpace(cmd.SiteID)
	if site == "" {
		return errs.ErrBadRequest.WithDetail("siteId required")
	}
	left := h.rooms.JoinSiteScope(c, site)
	c.Logger().Debug("[operator] site scope", zap.String("site", site), zap.String("left", left))
	return chat.Ack(c, f, model.EvSiteSubscribed, SiteSubscribed{SiteID: site, Left: left})
}

func (h *OperatorSet) backfill(ctx context.Context, c *chat.Client, _ model.Frame, cmd *BackfillRequest) error {
	return h.dash.Backfill(ctx, strings.TrimSpace(cmd.SiteID), c)
}

// ===== worker =====

// WorkerSet joins a field worker to its own channel and watches its
// invalidation stream for the lifetime of the connection.
type WorkerSet struct {
	rooms  *chat.Rooms
	poller *invalidation.Poller
}

func NewWorkerSet(rooms *chat.Rooms, poller *invalidation.Poller) *WorkerSet {
	return &WorkerSet{rooms: rooms, poller: poller}
}

func (h *WorkerSet) Register(*chat.Dispatcher) {}

func (h *WorkerSet) OnConnect(_ context.Context, c *chat.Client) error {
	h.rooms.JoinWorkerChannel(c, c.Identity().ID)
	if h.poller != nil {
		safe.Go("poller:"+c.ConnID, func() { h.poller.Run(c.Context(), c) })
	}
	return nil
}
