package invalidation

import (
	"context"
	"strconv"
	"time"

	"fieldgate/logger"
	"fieldgate/module/identity"
	"fieldgate/module/model"
	"fieldgate/service/storage"

	"go.uber.org/zap"
)

const (
	TypeSessionRevoked    = "session_revoked"
	TypeAssignmentUpdated = "assignment_updated"

	ReasonSuperseded = "session_superseded"
)

// Stream record fields.
const (
	FieldAssignmentID = "assignmentId"
	// older producers wrote the assignment under this name
	fieldShiftID = "shiftId"
)

func StreamKey(workerID string) string { return "events:worker:" + workerID }

// AssignmentID reads the assignment of an assignment_updated record.
func AssignmentID(rec map[string]string) string {
	if id := rec[FieldAssignmentID]; id != "" {
		return id
	}
	return rec[fieldShiftID]
}

// Action is what the poller does with one stream record.
type Action int

const (
	Ignore Action = iota
	ForceLogout
	NotifyShift
)

// Decide is the pure decision table for one record against the connection's
// identity. A newer session on another client class supersedes this one; a
// newer session on the same class does not.
func Decide(rec map[string]string, conn *identity.Identity) (Action, model.Event) {
	switch rec["type"] {
	case TypeSessionRevoked:
		v, err := strconv.ParseInt(rec["newVersion"], 10, 64)
		if err != nil || v <= conn.SessionVersion {
			return Ignore, model.Event{}
		}
		if rec["clientClass"] == conn.ClientClass {
			return Ignore, model.Event{}
		}
		return ForceLogout, model.NewEvent(model.EvForceLogout, model.ForceLogout{Reason: ReasonSuperseded})
	case TypeAssignmentUpdated:
		id := AssignmentID(rec)
		if id == "" {
			return Ignore, model.Event{}
		}
		return NotifyShift, model.NewEvent(model.EvShiftUpdated, model.ShiftUpdated{ShiftID: id})
	}
	return Ignore, model.Event{}
}

// Conn is the slice of a worker connection the poller needs.
type Conn interface {
	model.Replier
	Identity() *identity.Identity
	// Close ends the connection after pending replies are flushed.
	Close(reason string)
}

type Config struct {
	Block   time.Duration
	Backoff time.Duration
	// LookBack is how far before Run the reader starts. It covers records
	// appended between the token check and the first read, and clock skew
	// between this node and the store.
	LookBack time.Duration
}

type Poller struct {
	coord *storage.Coord
	conf  Config
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

func NewPoller(coord *storage.Coord, conf Config) *Poller {
	if conf.Block <= 0 {
		conf.Block = 5 * time.Second
	}
	if conf.Backoff <= 0 {
		conf.Backoff = time.Second
	}
	if conf.LookBack <= 0 {
		conf.LookBack = time.Minute
	}
	return &Poller{coord: coord, conf: conf, now: time.Now, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Run blocks on the worker's stream until ctx is cancelled or the connection
// is forced out. Records from the last LookBack before Run are replayed:
// revocations they carry are judged against the connection's version like
// any other, and shift notices are at-least-once anyway.
func (p *Poller) Run(ctx context.Context, conn Conn) {
	p.loop(ctx, conn, storage.StreamIDAt(p.now().Add(-p.conf.LookBack)))
}

func (p *Poller) loop(ctx context.Context, conn Conn, last string) {
	who := conn.Identity()
	stream := StreamKey(who.ID)
	log := logger.With(zap.String("worker", who.ID), zap.String("stream", stream))

	for {
		if ctx.Err() != nil {
			return
		}
		recs, err := p.coord.BlockRead(ctx, stream, last, p.conf.Block, 16)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("[poller] stream read failed, backing off", zap.Error(err))
			if !p.sleep(ctx, p.conf.Backoff) {
				return
			}
			continue
		}
		for _, rec := range recs {
			last = rec.ID
			action, ev := Decide(rec.Values, who)
			switch action {
			case ForceLogout:
				log.Info("[poller] session superseded", zap.String("record", rec.ID), zap.String("newVersion", rec.Values["newVersion"]))
				_ = conn.Reply(ev)
				conn.Close(ReasonSuperseded)
				return
			case NotifyShift:
				if err := conn.Reply(ev); err != nil {
					log.Debug("[poller] shift notice not delivered", zap.Error(err))
				}
			}
		}
	}
}
