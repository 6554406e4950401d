package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"qrgate/internal/errs"
	"qrgate/internal/model"
	"qrgate/internal/store"
)

// LockRepo implements store.LockRepository over reader_locks. Acquire is a
// single conditional upsert so two terminals cannot both win a reader.
type LockRepo struct{ db *DB }

var _ store.LockRepository = (*LockRepo)(nil)

// NewLockRepo constructs a lock repository.
func NewLockRepo(db *DB) *LockRepo { return &LockRepo{db: db} }

const lockColumns = `reader_id, is_locked, locked_by, locked_at, expires_at`

// Acquire leases a reader unless a live lease belongs to another operator.
func (r *LockRepo) Acquire(ctx context.Context, readerID, operatorID string, now time.Time, ttl time.Duration) (model.ReaderLock, error) {
	const q = `
INSERT INTO reader_locks (reader_id, is_locked, locked_by, locked_at, expires_at)
VALUES ($1, TRUE, $2, $3, $4)
ON CONFLICT (reader_id) DO UPDATE
SET is_locked=TRUE, locked_by=EXCLUDED.locked_by, locked_at=EXCLUDED.locked_at, expires_at=EXCLUDED.expires_at
WHERE reader_locks.is_locked=FALSE OR reader_locks.expires_at <= $3 OR reader_locks.locked_by=EXCLUDED.locked_by
RETURNING ` + lockColumns
	l, err := scanLock(r.db.Pool.QueryRow(ctx, q, readerID, operatorID, now, now.Add(ttl)))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ReaderLock{}, errs.ErrLockConflict
	}
	return l, err
}

// Refresh pushes the expiry of a live lease held by operatorID.
func (r *LockRepo) Refresh(ctx context.Context, readerID, operatorID string, now time.Time, ttl time.Duration) (model.ReaderLock, error) {
	const q = `
UPDATE reader_locks SET expires_at=$4
WHERE reader_id=$1 AND locked_by=$2 AND is_locked=TRUE AND expires_at > $3
RETURNING ` + lockColumns
	l, err := scanLock(r.db.Pool.QueryRow(ctx, q, readerID, operatorID, now, now.Add(ttl)))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ReaderLock{}, errs.ErrLockNotHeld
	}
	return l, err
}

// Release frees the reader; unknown readers are left untouched.
func (r *LockRepo) Release(ctx context.Context, readerID string) error {
	const q = `UPDATE reader_locks SET is_locked=FALSE, locked_by='', locked_at='epoch', expires_at='epoch' WHERE reader_id=$1`
	_, err := r.db.Pool.Exec(ctx, q, readerID)
	return err
}

// GetLock returns the stored row or a free lock.
func (r *LockRepo) GetLock(ctx context.Context, readerID string) (model.ReaderLock, error) {
	const q = `SELECT ` + lockColumns + ` FROM reader_locks WHERE reader_id=$1`
	l, err := scanLock(r.db.Pool.QueryRow(ctx, q, readerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ReaderLock{ReaderID: readerID}, nil
	}
	return l, err
}

// ListLocks returns all rows ordered by reader id.
func (r *LockRepo) ListLocks(ctx context.Context) ([]model.ReaderLock, error) {
	const q = `SELECT ` + lockColumns + ` FROM reader_locks ORDER BY reader_id`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ReaderLock
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanLock(row pgx.Row) (model.ReaderLock, error) {
	var l model.ReaderLock
	if err := row.Scan(&l.ReaderID, &l.IsLocked, &l.LockedBy, &l.LockedAt, &l.ExpiresAt); err != nil {
		return model.ReaderLock{}, err
	}
	l.LockedAt = fromEpoch(l.LockedAt)
	l.ExpiresAt = fromEpoch(l.ExpiresAt)
	return l, nil
}
