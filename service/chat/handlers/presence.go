package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"fieldgate/logger"
	"fieldgate/middleware/security"
	"fieldgate/module/model"
	"fieldgate/service/chat"
	"fieldgate/service/storage"
	"fieldgate/tools/errs"
	"fieldgate/tools/safe"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PresenceStore is the coordination-store side of worker presence.
type PresenceStore interface {
	PresenceUp(ctx context.Context, key, member string, now time.Time, ttl time.Duration) (storage.PresenceChange, error)
	PresenceDown(ctx context.Context, key, member string, now time.Time) (storage.PresenceChange, error)
	PresenceMembers(ctx context.Context, key string, now time.Time) ([]string, error)
}

func PresenceKey(workerID string) string { return "presence:worker:" + workerID }

func presenceMember(nodeID, connID string) string { return nodeID + "/" + connID }

// PresenceSet registers every worker connection in the shared presence index
// and tells operators when a worker's first connection arrives or its last
// one leaves, whichever instance holds them.
type PresenceSet struct {
	store  PresenceStore
	emit   model.Emitter
	nodeID string
	ttl    time.Duration
	now    func() time.Time
}

func NewPresenceSet(store PresenceStore, emit model.Emitter, nodeID string, ttl time.Duration) *PresenceSet {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &PresenceSet{store: store, emit: emit, nodeID: nodeID, ttl: ttl, now: time.Now}
}

func (h *PresenceSet) Register(*chat.Dispatcher) {}

func (h *PresenceSet) OnConnect(ctx context.Context, c *chat.Client) error {
	who := c.Identity()
	if !who.IsWorker() {
		return nil
	}
	key, member := PresenceKey(who.ID), presenceMember(h.nodeID, c.ConnID)
	ch, err := h.store.PresenceUp(ctx, key, member, h.now(), h.ttl)
	if err != nil {
		// presence is advisory; the connection stays up
		c.Logger().Warn("[presence] up failed", zap.Error(err))
	} else if ch.CameOnline() {
		h.announce(ctx, who.ID, true)
	}
	safe.Go("presence:"+c.ConnID, func() { h.keep(c, key, member) })
	return nil
}

// keep refreshes the entry until the connection ends, then removes it.
func (h *PresenceSet) keep(c *chat.Client, key, member string) {
	t := time.NewTicker(h.ttl / 3)
	defer t.Stop()
	for {
		select {
		case <-c.Context().Done():
			h.leave(c, key, member)
			return
		case <-t.C:
			if _, err := h.store.PresenceUp(c.Context(), key, member, h.now(), h.ttl); err != nil && c.Context().Err() == nil {
				c.Logger().Debug("[presence] refresh failed", zap.Error(err))
			}
		}
	}
}

func (h *PresenceSet) leave(c *chat.Client, key, member string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ch, err := h.store.PresenceDown(ctx, key, member, h.now())
	if err != nil {
		c.Logger().Warn("[presence] down failed", zap.Error(err))
		return
	}
	if ch.WentOffline() {
		h.announce(ctx, c.Identity().ID, false)
	}
}

func (h *PresenceSet) announce(ctx context.Context, workerID string, online bool) {
	if h.emit == nil {
		return
	}
	h.emit.Emit(ctx, model.To(model.GroupAllOperators), model.NewEvent(model.EvPresence, model.Presence{WorkerID: workerID, Online: online}))
}

// PresenceQuery serves GET /api/presence/:workerId behind security.Middleware.
// Operators may ask about anyone, workers only about themselves.
func PresenceQuery(store PresenceStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		who, ok := security.IdentityFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrUnauthorized.WithDetail("no identity"))
			return
		}
		workerID := strings.TrimSpace(c.Param("workerId"))
		if who.IsWorker() && workerID != who.ID {
			c.AbortWithStatusJSON(http.StatusForbidden, errs.ErrForbidden.WithDetail("not yourself"))
			return
		}
		members, err := store.PresenceMembers(c.Request.Context(), PresenceKey(workerID), time.Now())
		if err != nil {
			logger.Warn("[Presence] query failed", zap.String("worker", workerID), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, errs.ErrUpstreamUnavailable.WithDetail("presence"))
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"workerId":    workerID,
			"online":      len(members) > 0,
			"connections": len(members),
		})
	}
}
