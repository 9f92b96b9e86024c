package model

import "time"

type ShiftStatus string

const (
	ShiftScheduled  ShiftStatus = "scheduled"
	ShiftInProgress ShiftStatus = "in_progress"
	ShiftCompleted  ShiftStatus = "completed"
	ShiftCancelled  ShiftStatus = "cancelled"
)

// Shift is a work assignment of one field worker at one site.
type Shift struct {
	ID         string      `json:"id"`
	SiteID     string      `json:"siteId"`
	SiteName   string      `json:"siteName,omitempty"`
	WorkerID   string      `json:"workerId,omitempty"`
	WorkerName string      `json:"workerName,omitempty"`
	Status     ShiftStatus `json:"status"`
	StartAt    time.Time   `json:"startAt"`
	EndAt      time.Time   `json:"endAt"`
}
