package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"qrgate/internal/errs"
	"qrgate/internal/model"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

var lockCols = []string{"reader_id", "is_locked", "locked_by", "locked_at", "expires_at"}

func TestLockRepo_Acquire(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLockRepo(db)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	exp := now.Add(time.Minute)

	mock.ExpectQuery(`INSERT INTO reader_locks`).
		WithArgs("CEL-001", "op-a", now, exp).
		WillReturnRows(pgxmock.NewRows(lockCols).AddRow("CEL-001", true, "op-a", now, exp))
	l, err := r.Acquire(ctx, "CEL-001", "op-a", now, time.Minute)
	require.NoError(t, err)
	require.True(t, l.IsLocked)
	require.Equal(t, "op-a", l.LockedBy)
	require.Equal(t, exp, l.ExpiresAt)

	// conditional upsert skipped: somebody else holds it
	mock.ExpectQuery(`INSERT INTO reader_locks`).
		WithArgs("CEL-001", "op-b", now, exp).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.Acquire(ctx, "CEL-001", "op-b", now, time.Minute)
	require.ErrorIs(t, err, errs.ErrLockConflict)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockRepo_RefreshReleaseGet(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLockRepo(db)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`UPDATE reader_locks SET expires_at=\$4`).
		WithArgs("CEL-002", "op-a", now, now.Add(time.Minute)).
		WillReturnError(pgx.ErrNoRows)
	_, err := r.Refresh(ctx, "CEL-002", "op-a", now, time.Minute)
	require.ErrorIs(t, err, errs.ErrLockNotHeld)

	mock.ExpectExec(`UPDATE reader_locks SET is_locked=FALSE`).
		WithArgs("CEL-002").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.NoError(t, r.Release(ctx, "CEL-002"))

	mock.ExpectQuery(`SELECT reader_id, is_locked, locked_by, locked_at, expires_at FROM reader_locks WHERE reader_id=\$1`).
		WithArgs("CEL-002").
		WillReturnRows(pgxmock.NewRows(lockCols).AddRow("CEL-002", false, "", epoch, epoch))
	l, err := r.GetLock(ctx, "CEL-002")
	require.NoError(t, err)
	require.False(t, l.IsLocked)
	require.True(t, l.LockedAt.IsZero())

	mock.ExpectQuery(`SELECT reader_id, is_locked, locked_by, locked_at, expires_at FROM reader_locks WHERE reader_id=\$1`).
		WithArgs("CEL-009").
		WillReturnError(pgx.ErrNoRows)
	l, err = r.GetLock(ctx, "CEL-009")
	require.NoError(t, err)
	require.Equal(t, model.ReaderLock{ReaderID: "CEL-009"}, l)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepo_CountAndAppend(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewEventRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT count\(\*\) FROM attendance_events WHERE identity=\$1 AND event_date=\$2`).
		WithArgs("a@x.com", "2025-03-10").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))
	n, err := r.CountForDay(ctx, "A@x.com", "2025-03-10")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	ts := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	evt := model.AttendanceEvent{
		ID: "e1", Timestamp: ts, Date: "2025-03-10", Time: "08:00:00",
		Identity: "a@x.com", DisplayName: "Ana", Role: "Alumno",
		Movement: model.Salida, ReaderID: "CEL-001", SchoolID: "S1",
	}
	mock.ExpectExec(`INSERT INTO attendance_events`).
		WithArgs("e1", ts, "2025-03-10", "08:00:00", "a@x.com", "Ana", "Alumno", "Salida", "CEL-001", "S1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Append(ctx, evt))

	cols := []string{"id", "occurred_at", "event_date", "event_time", "identity", "display_name", "role", "movement", "reader_id", "school_id"}
	mock.ExpectQuery(`FROM attendance_events WHERE school_id=\$1`).
		WithArgs("S1", 500, 0).
		WillReturnRows(pgxmock.NewRows(cols).AddRow("e1", ts, "2025-03-10", "08:00:00", "a@x.com", "Ana", "Alumno", "Salida", "CEL-001", "S1"))
	evts, err := r.ListEvents(ctx, "S1", 0, 0)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	require.Equal(t, model.Salida, evts[0].Movement)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_GetByEmail(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	cols := []string{"email", "name", "role", "school_id", "password_hash", "curp", "grade", "grp", "shift", "created_at"}

	mock.ExpectQuery(`FROM users WHERE email=\$1`).
		WithArgs("a@x.com").
		WillReturnRows(pgxmock.NewRows(cols).AddRow("a@x.com", "Ana", "Alumno", "S1", "", "CURP1", "2", "B", "Matutino", time.Now()))
	u, err := r.GetByEmail(ctx, " A@X.com ")
	require.NoError(t, err)
	require.Equal(t, "Ana", u.Name)

	mock.ExpectQuery(`FROM users WHERE email=\$1`).
		WithArgs("b@x.com").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByEmail(ctx, "b@x.com")
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.ErrorIs(t, r.Upsert(ctx, model.User{}), errs.ErrInvalidArgument)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsRepo(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewSettingsRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT value FROM settings WHERE key=\$1`).
		WithArgs("lector_security").
		WillReturnError(pgx.ErrNoRows)
	_, ok, err := r.GetSetting(ctx, "lector_security")
	require.NoError(t, err)
	require.False(t, ok)

	mock.ExpectExec(`INSERT INTO settings`).
		WithArgs("lector_security", "{}").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.SetSetting(ctx, "lector_security", "{}"))

	mock.ExpectQuery(`INSERT INTO scan_counters`).
		WithArgs("2025-03-10", int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow(int64(7)))
	n, err := r.Incr(ctx, "2025-03-10", 1)
	require.NoError(t, err)
	require.EqualValues(t, 7, n)

	mock.ExpectQuery(`SELECT value FROM scan_counters WHERE key=\$1`).
		WithArgs("2025-03-11").
		WillReturnError(pgx.ErrNoRows)
	n, err = r.Count(ctx, "2025-03-11")
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, mock.ExpectationsWereMet())
}
