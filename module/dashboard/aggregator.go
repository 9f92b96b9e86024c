package dashboard

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"fieldgate/logger"
	"fieldgate/module/model"
	"fieldgate/service/storage"

	"go.uber.org/zap"
)

const (
	warningKeyPrefix = "alert:warning:"
	warningPattern   = warningKeyPrefix + "*"
	scanBatch        = 200
	upcomingWindow   = 24 * time.Hour
)

// AlertReader returns alerts with no resolution timestamp; siteID "" means all
// sites, and a site scope includes alerts that belong to no site.
type AlertReader interface {
	UnresolvedAlerts(ctx context.Context, siteID string) ([]model.Alert, error)
}

type ShiftReader interface {
	// ActiveShifts returns in-progress shifts whose window contains now and
	// that have an assigned worker.
	ActiveShifts(ctx context.Context, now time.Time) ([]model.Shift, error)
	// UpcomingShifts returns scheduled shifts starting in [from, to).
	UpcomingShifts(ctx context.Context, from, to time.Time) ([]model.Shift, error)
}

// Snapshot is recomputed per request and never cached.
type Snapshot struct {
	Alerts       []model.Alert            `json:"alerts"`
	ActiveBySite map[string][]model.Shift `json:"activeBySite,omitempty"`
	Upcoming     []model.Shift            `json:"upcoming,omitempty"`

	// shift legs are only computed for unscoped requests
	withShifts bool
}

type BackfillPayload struct {
	SiteID string        `json:"siteId,omitempty"`
	Alerts []model.Alert `json:"alerts"`
}

// Aggregator merges durable alerts with ephemeral warnings and the shift
// snapshot. It never writes and is safe to call concurrently.
type Aggregator struct {
	alerts AlertReader
	shifts ShiftReader
	coord  *storage.Coord
	now    func() time.Time
}

func NewAggregator(alerts AlertReader, shifts ShiftReader, coord *storage.Coord) *Aggregator {
	return &Aggregator{alerts: alerts, shifts: shifts, coord: coord, now: time.Now}
}

func WarningKey(siteID, alertID string) string {
	if siteID == "" {
		return warningKeyPrefix + alertID
	}
	return warningKeyPrefix + siteID + ":" + alertID
}

// isGlobalWarningKey reports whether key carries no site segment.
func isGlobalWarningKey(key string) bool {
	rest := strings.TrimPrefix(key, warningKeyPrefix)
	return rest != key && rest != "" && !strings.Contains(rest, ":")
}

// Snapshot computes every leg; a failing leg degrades to empty.
func (a *Aggregator) Snapshot(ctx context.Context, siteID string) *Snapshot {
	snap := &Snapshot{}

	durable, err := a.alerts.UnresolvedAlerts(ctx, siteID)
	if err != nil {
		logger.Warn("[dashboard] durable alerts unavailable", zap.String("site", siteID), zap.Error(err))
		durable = nil
	}
	snap.Alerts = MergeAlerts(durable, a.warnings(ctx, siteID))

	if siteID != "" {
		return snap
	}
	snap.withShifts = true
	now := a.now()

	active, err := a.shifts.ActiveShifts(ctx, now)
	if err != nil {
		logger.Warn("[dashboard] active shifts unavailable", zap.Error(err))
	}
	snap.ActiveBySite = groupBySite(active)

	upcoming, err := a.shifts.UpcomingShifts(ctx, now, now.Add(upcomingWindow))
	if err != nil {
		logger.Warn("[dashboard] upcoming shifts unavailable", zap.Error(err))
		upcoming = nil
	}
	if upcoming == nil {
		upcoming = []model.Shift{}
	}
	snap.Upcoming = upcoming
	return snap
}

// Backfill answers request_dashboard_backfill on the requesting connection only.
func (a *Aggregator) Backfill(ctx context.Context, siteID string, to model.Replier) error {
	snap := a.Snapshot(ctx, siteID)
	if err := to.Reply(model.NewEvent(model.EvBackfill, BackfillPayload{SiteID: siteID, Alerts: snap.Alerts})); err != nil {
		return err
	}
	if !snap.withShifts {
		return nil
	}
	if err := to.Reply(model.NewEvent(model.EvActiveShifts, snap.ActiveBySite)); err != nil {
		return err
	}
	return to.Reply(model.NewEvent(model.EvUpcomingShifts, snap.Upcoming))
}

// warnings scans the ephemeral warnings in scope. A site scope also gets the
// global ones, the same way live global alerts reach site-scoped operators.
func (a *Aggregator) warnings(ctx context.Context, siteID string) []model.Alert {
	if a.coord == nil {
		return nil
	}
	vals, err := a.coord.ScanValues(ctx, warningPattern, scanBatch)
	if err != nil {
		logger.Warn("[dashboard] warning scan failed", zap.String("site", siteID), zap.Error(err))
	}
	if siteID != "" {
		site := warningKeyPrefix + siteID + ":"
		for key := range vals {
			if !strings.HasPrefix(key, site) && !isGlobalWarningKey(key) {
				delete(vals, key)
			}
		}
	}
	out := make([]model.Alert, 0, len(vals))
	for key, raw := range vals {
		var w model.Alert
		if err := json.Unmarshal([]byte(raw), &w); err != nil || w.ID == "" {
			logger.Warn("[dashboard] skip undecodable warning", zap.String("key", key))
			continue
		}
		w.Ephemeral = true
		out = append(out, w)
	}
	return out
}

// MergeAlerts concatenates both sources and orders them newest first. Equal
// timestamps fall back to id so the result never depends on input order.
func MergeAlerts(durable, warnings []model.Alert) []model.Alert {
	out := make([]model.Alert, 0, len(durable)+len(warnings))
	out = append(out, durable...)
	out = append(out, warnings...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func groupBySite(shifts []model.Shift) map[string][]model.Shift {
	out := make(map[string][]model.Shift)
	for _, s := range shifts {
		if s.WorkerID == "" {
			continue
		}
		out[s.SiteID] = append(out[s.SiteID], s)
	}
	for site := range out {
		list := out[site]
		sort.SliceStable(list, func(i, j int) bool { return list[i].StartAt.Before(list[j].StartAt) })
	}
	return out
}
