// Package store defines the persistence contracts of the gate and an in-memory backend.
package store

import (
	"context"
	"time"

	"qrgate/internal/model"
)

// UserRepository resolves badge identities to directory entries.
type UserRepository interface {
	// GetByEmail returns errs.ErrNotFound for unknown identities.
	GetByEmail(ctx context.Context, email string) (model.User, error)
	// Upsert creates or replaces a directory entry keyed by email.
	Upsert(ctx context.Context, u model.User) error
}

// EventRepository is the append-only attendance log.
type EventRepository interface {
	// CountForDay counts events of identity on date (YYYY-MM-DD).
	CountForDay(ctx context.Context, identity, date string) (int, error)
	// Append stores a new event.
	Append(ctx context.Context, evt model.AttendanceEvent) error
	// ListByIdentity returns the identity's events, newest first.
	ListByIdentity(ctx context.Context, identity string, limit int) ([]model.AttendanceEvent, error)
	// ListEvents returns events newest first, filtered by school when schoolID is set.
	ListEvents(ctx context.Context, schoolID string, limit, offset int) ([]model.AttendanceEvent, error)
}

// LockRepository stores reader leases. Acquire and Refresh must be atomic.
type LockRepository interface {
	// Acquire leases readerID to operatorID until now+ttl. A live lease held by
	// another operator yields errs.ErrLockConflict; the same operator renews.
	Acquire(ctx context.Context, readerID, operatorID string, now time.Time, ttl time.Duration) (model.ReaderLock, error)
	// Refresh extends a live lease held by operatorID, or fails with errs.ErrLockNotHeld.
	Refresh(ctx context.Context, readerID, operatorID string, now time.Time, ttl time.Duration) (model.ReaderLock, error)
	// Release frees the reader. Releasing a free or unknown reader is a no-op.
	Release(ctx context.Context, readerID string) error
	// GetLock returns the lease row, or a free lock when none exists.
	GetLock(ctx context.Context, readerID string) (model.ReaderLock, error)
	// ListLocks returns every stored lease row.
	ListLocks(ctx context.Context) ([]model.ReaderLock, error)
}

// SettingsRepository is a key/value table for process-wide state.
type SettingsRepository interface {
	// GetSetting returns ok=false when the key was never written.
	GetSetting(ctx context.Context, key string) (value string, ok bool, err error)
	SetSetting(ctx context.Context, key, value string) error
}

// CounterRepository keeps monotonically increasing named counters.
type CounterRepository interface {
	Incr(ctx context.Context, key string, delta int64) (int64, error)
	// Count returns 0 for unknown counters.
	Count(ctx context.Context, key string) (int64, error)
}

// Pinger is implemented by backends that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}
