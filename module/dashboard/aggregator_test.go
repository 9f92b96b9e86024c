package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"fieldgate/module/model"
	"fieldgate/service/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAlerts struct {
	rows []model.Alert
	err  error
}

func (f *fakeAlerts) UnresolvedAlerts(_ context.Context, siteID string) ([]model.Alert, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Alert
	for _, a := range f.rows {
		if a.ResolvedAt != nil {
			continue
		}
		if siteID == "" || a.SiteID == siteID || a.SiteID == "" {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeShifts struct {
	active, upcoming []model.Shift
	err              error
	gotFrom, gotTo   time.Time
}

func (f *fakeShifts) ActiveShifts(context.Context, time.Time) ([]model.Shift, error) {
	return f.active, f.err
}

func (f *fakeShifts) UpcomingShifts(_ context.Context, from, to time.Time) ([]model.Shift, error) {
	f.gotFrom, f.gotTo = from, to
	return f.upcoming, f.err
}

type recorder struct{ events []model.Event }

func (r *recorder) Reply(ev model.Event) error {
	r.events = append(r.events, ev)
	return nil
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(min int) time.Time { return base.Add(time.Duration(min) * time.Minute) }

func newAggregator(t *testing.T, alerts AlertReader, shifts ShiftReader) (*Aggregator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	a := NewAggregator(alerts, shifts, storage.NewCoord(rdb))
	a.now = func() time.Time { return base }
	return a, mr
}

func putWarning(t *testing.T, mr *miniredis.Miniredis, w model.Alert) {
	t.Helper()
	b, err := json.Marshal(w)
	require.NoError(t, err)
	require.NoError(t, mr.Set(WarningKey(w.SiteID, w.ID), string(b)))
}

func ids(alerts []model.Alert) []string {
	out := make([]string, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.ID)
	}
	return out
}

func TestMergeOrderIndependentOfInput(t *testing.T) {
	durable := []model.Alert{
		{ID: "d1", CreatedAt: at(1)},
		{ID: "d2", CreatedAt: at(5)},
		{ID: "d3", CreatedAt: at(3)},
	}
	warnings := []model.Alert{
		{ID: "w1", CreatedAt: at(4)},
		{ID: "w2", CreatedAt: at(3)},
	}
	want := []string{"d2", "w1", "w2", "d3", "d1"}

	assert.Equal(t, want, ids(MergeAlerts(durable, warnings)))

	rev := func(in []model.Alert) []model.Alert {
		out := make([]model.Alert, len(in))
		for i := range in {
			out[len(in)-1-i] = in[i]
		}
		return out
	}
	assert.Equal(t, want, ids(MergeAlerts(rev(durable), rev(warnings))))
	assert.Equal(t, want, ids(MergeAlerts(nil, append(rev(warnings), durable...))))
}

func TestSnapshotMergesWarningsAndShifts(t *testing.T) {
	resolved := at(0)
	alerts := &fakeAlerts{rows: []model.Alert{
		{ID: "a1", SiteID: "S1", CreatedAt: at(10)},
		{ID: "a2", SiteID: "S2", CreatedAt: at(20)},
		{ID: "a3", SiteID: "S1", CreatedAt: at(30), ResolvedAt: &resolved},
	}}
	shifts := &fakeShifts{
		active: []model.Shift{
			{ID: "sh2", SiteID: "S1", WorkerID: "w2", StartAt: at(-30)},
			{ID: "sh1", SiteID: "S1", WorkerID: "w1", StartAt: at(-60)},
			{ID: "sh3", SiteID: "S2", WorkerID: "w3", StartAt: at(-10)},
			{ID: "sh4", SiteID: "S2", StartAt: at(-10)},
		},
		upcoming: []model.Shift{{ID: "up1", SiteID: "S1", StartAt: at(120)}},
	}
	agg, mr := newAggregator(t, alerts, shifts)
	putWarning(t, mr, model.Alert{ID: "w1", SiteID: "S1", Type: "late_checkin", CreatedAt: at(15)})
	putWarning(t, mr, model.Alert{ID: "w2", SiteID: "S2", Type: "late_checkin", CreatedAt: at(25)})
	require.NoError(t, mr.Set(WarningKey("S1", "junk"), "{not json"))

	snap := agg.Snapshot(context.Background(), "")
	assert.Equal(t, []string{"w2", "a2", "w1", "a1"}, ids(snap.Alerts))
	assert.True(t, snap.Alerts[0].Ephemeral)
	assert.False(t, snap.Alerts[1].Ephemeral)

	require.Len(t, snap.ActiveBySite["S1"], 2)
	assert.Equal(t, "sh1", snap.ActiveBySite["S1"][0].ID)
	assert.Len(t, snap.ActiveBySite["S2"], 1)
	assert.Len(t, snap.Upcoming, 1)
	assert.Equal(t, base, shifts.gotFrom)
	assert.Equal(t, base.Add(24*time.Hour), shifts.gotTo)
}

func TestSiteScopedBackfill(t *testing.T) {
	alerts := &fakeAlerts{rows: []model.Alert{
		{ID: "a1", SiteID: "S1", CreatedAt: at(10)},
		{ID: "a2", SiteID: "S2", CreatedAt: at(20)},
	}}
	agg, mr := newAggregator(t, alerts, &fakeShifts{})
	putWarning(t, mr, model.Alert{ID: "w1", SiteID: "S1", CreatedAt: at(15)})
	putWarning(t, mr, model.Alert{ID: "w2", SiteID: "S2", CreatedAt: at(25)})

	rec := &recorder{}
	require.NoError(t, agg.Backfill(context.Background(), "S1", rec))

	require.Len(t, rec.events, 1)
	assert.Equal(t, model.EvBackfill, rec.events[0].Name)
	payload := rec.events[0].Data.(BackfillPayload)
	assert.Equal(t, "S1", payload.SiteID)
	assert.Equal(t, []string{"w1", "a1"}, ids(payload.Alerts))
}

func TestSiteScopedBackfillIncludesGlobal(t *testing.T) {
	alerts := &fakeAlerts{rows: []model.Alert{
		{ID: "a1", SiteID: "S1", CreatedAt: at(10)},
		{ID: "a2", SiteID: "S2", CreatedAt: at(20)},
		{ID: "g1", CreatedAt: at(5)},
	}}
	agg, mr := newAggregator(t, alerts, &fakeShifts{})
	putWarning(t, mr, model.Alert{ID: "w1", SiteID: "S1", CreatedAt: at(15)})
	putWarning(t, mr, model.Alert{ID: "w2", SiteID: "S2", CreatedAt: at(25)})
	putWarning(t, mr, model.Alert{ID: "gw", CreatedAt: at(30)})
	// a site whose id extends S1 stays out of S1's scope
	putWarning(t, mr, model.Alert{ID: "w3", SiteID: "S10", CreatedAt: at(35)})

	rec := &recorder{}
	require.NoError(t, agg.Backfill(context.Background(), "S1", rec))
	require.Len(t, rec.events, 1)
	payload := rec.events[0].Data.(BackfillPayload)
	assert.Equal(t, []string{"gw", "w1", "a1", "g1"}, ids(payload.Alerts))
	assert.True(t, payload.Alerts[0].Ephemeral)

	snap := agg.Snapshot(context.Background(), "")
	assert.Equal(t, []string{"w3", "gw", "w2", "a2", "w1", "a1", "g1"}, ids(snap.Alerts))
}

func TestGlobalWarningKey(t *testing.T) {
	assert.True(t, isGlobalWarningKey(WarningKey("", "a1")))
	assert.False(t, isGlobalWarningKey(WarningKey("S1", "a1")))
	assert.False(t, isGlobalWarningKey("alert:warning:"))
	assert.False(t, isGlobalWarningKey("chat:lock:w1"))
}

func TestBackfillEmitsThreeEventsAndDegrades(t *testing.T) {
	boom := errors.New("db down")
	agg, mr := newAggregator(t, &fakeAlerts{err: boom}, &fakeShifts{err: boom})
	putWarning(t, mr, model.Alert{ID: "w1", CreatedAt: at(1)})

	rec := &recorder{}
	require.NoError(t, agg.Backfill(context.Background(), "", rec))

	require.Len(t, rec.events, 3)
	assert.Equal(t, model.EvBackfill, rec.events[0].Name)
	assert.Equal(t, model.EvActiveShifts, rec.events[1].Name)
	assert.Equal(t, model.EvUpcomingShifts, rec.events[2].Name)

	assert.Equal(t, []string{"w1"}, ids(rec.events[0].Data.(BackfillPayload).Alerts))
	assert.Empty(t, rec.events[1].Data.(map[string][]model.Shift))
	assert.Empty(t, rec.events[2].Data.([]model.Shift))
}

func TestBackfillDoesNotWrite(t *testing.T) {
	agg, mr := newAggregator(t, &fakeAlerts{}, &fakeShifts{})
	putWarning(t, mr, model.Alert{ID: "w1", SiteID: "S1", CreatedAt: at(1)})
	before := mr.Keys()

	for i := 0; i < 3; i++ {
		require.NoError(t, agg.Backfill(context.Background(), "", &recorder{}))
	}
	assert.Equal(t, before, mr.Keys())
}
