package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Alert is either a durable row (created → acknowledged → resolved) or an
// ephemeral warning living in the coordination store until it expires or is
// promoted.
type Alert struct {
	ID             string     `json:"id"`
	SiteID         string     `json:"siteId,omitempty"`
	WorkerID       string     `json:"workerId,omitempty"`
	ShiftID        string     `json:"shiftId,omitempty"`
	Type           string     `json:"type"`
	Severity       string     `json:"severity,omitempty"`
	Message        string     `json:"message,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy string     `json:"acknowledgedBy,omitempty"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
	Ephemeral      bool       `json:"ephemeral,omitempty"`
}

type AlertEventType string

const (
	AlertCreated   AlertEventType = "created"
	AlertUpdated   AlertEventType = "updated"
	AlertAttention AlertEventType = "attention"
	AlertCleared   AlertEventType = "cleared"
	AlertDeleted   AlertEventType = "deleted"
)

// AlertEvent travels on alerts:site:{siteId} / alerts:global.
// created/updated/attention carry the full record; deleted/cleared carry an id.
type AlertEvent struct {
	Type    AlertEventType `json:"type"`
	Alert   *Alert         `json:"alert,omitempty"`
	AlertID string         `json:"alertId,omitempty"`
	SiteID  string         `json:"siteId,omitempty"`
}

// Site resolves the site an event is scoped to, "" for global events.
func (e *AlertEvent) Site() string {
	if e.SiteID != "" {
		return e.SiteID
	}
	if e.Alert != nil {
		return e.Alert.SiteID
	}
	return ""
}

func (e *AlertEvent) Validate() error {
	switch e.Type {
	case AlertCreated, AlertUpdated, AlertAttention:
		if e.Alert == nil || e.Alert.ID == "" {
			return fmt.Errorf("alert event %q without alert record", e.Type)
		}
	case AlertCleared, AlertDeleted:
		if e.AlertID == "" && (e.Alert == nil || e.Alert.ID == "") {
			return fmt.Errorf("alert event %q without alert id", e.Type)
		}
	default:
		return fmt.Errorf("unknown alert event type %q", e.Type)
	}
	return nil
}

func ParseAlertEvent(payload []byte) (*AlertEvent, error) {
	var ev AlertEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode alert event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}
