package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"qrgate/internal/store"
)

// SettingsRepo implements store.SettingsRepository and store.CounterRepository.
type SettingsRepo struct{ db *DB }

var (
	_ store.SettingsRepository = (*SettingsRepo)(nil)
	_ store.CounterRepository  = (*SettingsRepo)(nil)
)

// NewSettingsRepo constructs a settings repository.
func NewSettingsRepo(db *DB) *SettingsRepo { return &SettingsRepo{db: db} }

// GetSetting reads one key.
func (r *SettingsRepo) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := r.db.Pool.QueryRow(ctx, `SELECT value FROM settings WHERE key=$1`, key).Scan(&v)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, err
	}
	return v, true, nil
}

// SetSetting writes one key.
func (r *SettingsRepo) SetSetting(ctx context.Context, key, value string) error {
	const q = `
INSERT INTO settings (key, value, updated_at) VALUES ($1,$2,now())
ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=now()`
	_, err := r.db.Pool.Exec(ctx, q, key, value)
	return err
}

// Incr adds delta to a counter and returns the new value.
func (r *SettingsRepo) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	const q = `
INSERT INTO scan_counters (key, value) VALUES ($1,$2)
ON CONFLICT (key) DO UPDATE SET value=scan_counters.value + EXCLUDED.value
RETURNING value`
	var n int64
	if err := r.db.Pool.QueryRow(ctx, q, key, delta).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Count reads a counter; missing counters are zero.
func (r *SettingsRepo) Count(ctx context.Context, key string) (int64, error) {
	var n int64
	err := r.db.Pool.QueryRow(ctx, `SELECT value FROM scan_counters WHERE key=$1`, key).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return n, err
}
