package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"qrgate/internal/model"
	"qrgate/internal/store"
)

// EventRepo implements store.EventRepository over attendance_events.
type EventRepo struct{ db *DB }

var _ store.EventRepository = (*EventRepo)(nil)

// NewEventRepo constructs an event repository.
func NewEventRepo(db *DB) *EventRepo { return &EventRepo{db: db} }

const eventColumns = `id, occurred_at, event_date, event_time, identity, display_name, role, movement, reader_id, school_id`

// CountForDay counts an identity's events on a school-local date.
func (r *EventRepo) CountForDay(ctx context.Context, identity, date string) (int, error) {
	const q = `SELECT count(*) FROM attendance_events WHERE identity=$1 AND event_date=$2`
	var n int
	if err := r.db.Pool.QueryRow(ctx, q, model.NormalizeEmail(identity), date).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Append writes a new event.
func (r *EventRepo) Append(ctx context.Context, evt model.AttendanceEvent) error {
	const q = `INSERT INTO attendance_events (` + eventColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := r.db.Pool.Exec(ctx, q,
		evt.ID, evt.Timestamp, evt.Date, evt.Time, model.NormalizeEmail(evt.Identity),
		evt.DisplayName, evt.Role, string(evt.Movement), evt.ReaderID, evt.SchoolID)
	return err
}

// ListByIdentity returns the identity's events, newest first.
func (r *EventRepo) ListByIdentity(ctx context.Context, identity string, limit int) ([]model.AttendanceEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + eventColumns + ` FROM attendance_events WHERE identity=$1 ORDER BY occurred_at DESC LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, model.NormalizeEmail(identity), limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// ListEvents returns the log newest first, optionally for one school.
func (r *EventRepo) ListEvents(ctx context.Context, schoolID string, limit, offset int) ([]model.AttendanceEvent, error) {
	if limit <= 0 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	var (
		rows pgx.Rows
		err  error
	)
	if schoolID != "" {
		const q = `SELECT ` + eventColumns + ` FROM attendance_events WHERE school_id=$1 ORDER BY occurred_at DESC LIMIT $2 OFFSET $3`
		rows, err = r.db.Pool.Query(ctx, q, schoolID, limit, offset)
	} else {
		const q = `SELECT ` + eventColumns + ` FROM attendance_events ORDER BY occurred_at DESC LIMIT $1 OFFSET $2`
		rows, err = r.db.Pool.Query(ctx, q, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]model.AttendanceEvent, error) {
	defer rows.Close()
	var out []model.AttendanceEvent
	for rows.Next() {
		var (
			e   model.AttendanceEvent
			mov string
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Date, &e.Time, &e.Identity, &e.DisplayName, &e.Role, &mov, &e.ReaderID, &e.SchoolID); err != nil {
			return nil, err
		}
		e.Movement = model.Movement(mov)
		out = append(out, e)
	}
	return out, rows.Err()
}
