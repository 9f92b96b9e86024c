package pg

import (
	"context"
	"time"

	"fieldgate/module/identity"
	"fieldgate/module/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// Store serves identity.SubjectStore, dashboard.AlertReader,
// dashboard.ShiftReader and chat.MessageRepo from one pool.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ===== subjects =====

const (
	selectOperator = `SELECT id, display_name, session_version, active, deleted_at IS NOT NULL
		FROM users WHERE id = $1`
	selectWorker = `SELECT id, name, session_version, active, deleted_at IS NOT NULL
		FROM employees WHERE id = $1`
)

func (s *Store) LoadSubject(ctx context.Context, kind model.Kind, id string) (*identity.Subject, error) {
	var q string
	switch kind {
	case model.KindOperator:
		q = selectOperator
	case model.KindWorker:
		q = selectWorker
	default:
		return nil, identity.ErrUnknownKind
	}
	var sub identity.Subject
	err := s.pool.QueryRow(ctx, q, id).Scan(&sub.ID, &sub.DisplayName, &sub.SessionVersion, &sub.Active, &sub.Deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, identity.ErrSubjectNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load %s %s", kind, id)
	}
	return &sub, nil
}

// ===== alerts =====

const selectUnresolved = `SELECT id, COALESCE(site_id, ''), COALESCE(worker_id, ''), COALESCE(shift_id, ''),
		type, severity, message, created_at, acknowledged_at, COALESCE(acknowledged_by, ''), resolved_at
	FROM alerts
	WHERE resolved_at IS NULL AND ($1 = '' OR site_id = $1 OR site_id IS NULL)
	ORDER BY created_at DESC, id DESC`

func (s *Store) UnresolvedAlerts(ctx context.Context, siteID string) ([]model.Alert, error) {
	rows, err := s.pool.Query(ctx, selectUnresolved, siteID)
	if err != nil {
		return nil, errors.Wrap(err, "query unresolved alerts")
	}
	alerts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Alert, error) {
		var a model.Alert
		err := row.Scan(&a.ID, &a.SiteID, &a.WorkerID, &a.ShiftID, &a.Type, &a.Severity, &a.Message,
			&a.CreatedAt, &a.AcknowledgedAt, &a.AcknowledgedBy, &a.ResolvedAt)
		return a, err
	})
	return alerts, errors.Wrap(err, "scan alerts")
}

// ===== shifts =====

const shiftColumns = `SELECT sh.id, sh.site_id, COALESCE(si.name, ''), COALESCE(sh.worker_id, ''), COALESCE(e.name, ''),
		sh.status, sh.start_at, sh.end_at
	FROM shifts sh
	LEFT JOIN sites si ON si.id = sh.site_id
	LEFT JOIN employees e ON e.id = sh.worker_id`

const selectActive = shiftColumns + `
	WHERE sh.status = 'in_progress' AND sh.start_at <= $1 AND sh.end_at > $1 AND sh.worker_id IS NOT NULL
	ORDER BY sh.site_id, sh.start_at`

const selectUpcoming = shiftColumns + `
	WHERE sh.status = 'scheduled' AND sh.start_at >= $1 AND sh.start_at < $2
	ORDER BY sh.start_at`

func (s *Store) ActiveShifts(ctx context.Context, now time.Time) ([]model.Shift, error) {
	return s.shifts(ctx, selectActive, now)
}

func (s *Store) UpcomingShifts(ctx context.Context, from, to time.Time) ([]model.Shift, error) {
	return s.shifts(ctx, selectUpcoming, from, to)
}

func (s *Store) shifts(ctx context.Context, q string, args ...any) ([]model.Shift, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query shifts")
	}
	shifts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Shift, error) {
		var sh model.Shift
		var status string
		err := row.Scan(&sh.ID, &sh.SiteID, &sh.SiteName, &sh.WorkerID, &sh.WorkerName, &status, &sh.StartAt, &sh.EndAt)
		sh.Status = model.ShiftStatus(status)
		return sh, err
	})
	return shifts, errors.Wrap(err, "scan shifts")
}

// ===== chat messages =====

func (s *Store) InsertMessage(ctx context.Context, m *model.ChatMessage) error {
	attachments := m.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO chat_messages
		(id, worker_id, operator_id, sender, sender_name, content, attachments, created_at, read_at)
		VALUES ($1, $2, NULLIF($3::text, ''), $4, $5, $6, $7, $8, $9)`,
		m.ID, m.WorkerID, m.OperatorID, string(m.Sender), m.SenderName, m.Content, attachments, m.CreatedAt, m.ReadAt)
	return errors.Wrapf(err, "insert message %s", m.ID)
}

// MarkRead keeps the first read_at of a message.
func (s *Store) MarkRead(ctx context.Context, workerID string, messageIDs []string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE chat_messages SET read_at = COALESCE(read_at, $3)
		WHERE worker_id = $1 AND id = ANY($2)`, workerID, messageIDs, at)
	return errors.Wrapf(err, "mark read for %s", workerID)
}

func (s *Store) History(ctx context.Context, workerID string, limit int) ([]model.ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, worker_id, COALESCE(operator_id, ''), sender, sender_name, content,
			attachments, created_at, read_at
		FROM chat_messages WHERE worker_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2`, workerID, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "query history for %s", workerID)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ChatMessage, error) {
		var m model.ChatMessage
		var sender string
		err := row.Scan(&m.ID, &m.WorkerID, &m.OperatorID, &sender, &m.SenderName, &m.Content,
			&m.Attachments, &m.CreatedAt, &m.ReadAt)
		m.Sender = model.Sender(sender)
		return m, err
	})
	return msgs, errors.Wrap(err, "scan history")
}
