package model

import (
	"context"
	"encoding/json"
)

// Outbound event names.
const (
	EvAlert           = "alert"
	EvActiveShifts    = "active_shifts"
	EvUpcomingShifts  = "upcoming_shifts"
	EvBackfill        = "dashboard:backfill"
	EvNewMessage      = "new_message"
	EvMessagesRead    = "messages_read"
	EvTyping          = "typing"
	EvConvLocked      = "conversation_locked"
	EvForceLogout     = "auth:force_logout"
	EvShiftUpdated    = "shift:updated"
	EvError           = "error"
	EvSiteSubscribed  = "site_subscribed"
	EvMessageAccepted = "message_sent"
	EvPresence        = "presence"
)

// Presence is sent to all-operators when a worker's first connection
// arrives or its last one leaves.
type Presence struct {
	WorkerID string `json:"workerId"`
	Online   bool   `json:"online"`
}

// Inbound event names.
const (
	InSubscribeSite   = "subscribe_site"
	InRequestBackfill = "request_dashboard_backfill"
	InSendMessage     = "send_message"
	InMarkRead        = "mark_read"
	InTyping          = "typing"
)

// Event is the envelope written to clients: {"event": name, "data": ...}.
// Ack echoes the request's ack id on direct replies.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
	Ack  string `json:"ack,omitempty"`
}

func NewEvent(name string, data any) Event { return Event{Name: name, Data: data} }

// Frame is the inbound envelope. Ack is echoed back on the reply, if any.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   string          `json:"ack,omitempty"`
}

// Target selects the receivers of a broadcast.
type Target struct {
	Groups []string `json:"groups"`
	// ExceptConn skips the originating connection (typing echo).
	ExceptConn string `json:"exceptConn,omitempty"`
	// ExceptSiteScoped drops operators that narrowed to a site scope from the
	// all-operators leg; they still get events through their own site group.
	ExceptSiteScoped bool `json:"exceptSiteScoped,omitempty"`
}

func To(groups ...string) Target { return Target{Groups: groups} }

// Emitter fans an event out to rooms.
type Emitter interface {
	Emit(ctx context.Context, t Target, ev Event)
}

// Replier writes to one connection only.
type Replier interface {
	Reply(ev Event) error
}
