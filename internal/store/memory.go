package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"qrgate/internal/errs"
	"qrgate/internal/model"
)

// Memory implements every repository in process memory. It backs the
// STORE_BACKEND=memory mode and the service tests.
type Memory struct {
	mu       sync.Mutex
	users    map[string]model.User
	events   []model.AttendanceEvent
	locks    map[string]model.ReaderLock
	settings map[string]string
	counters map[string]int64
}

var (
	_ UserRepository     = (*Memory)(nil)
	_ EventRepository    = (*Memory)(nil)
	_ LockRepository     = (*Memory)(nil)
	_ SettingsRepository = (*Memory)(nil)
	_ CounterRepository  = (*Memory)(nil)
)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]model.User),
		locks:    make(map[string]model.ReaderLock),
		settings: make(map[string]string),
		counters: make(map[string]int64),
	}
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) GetByEmail(_ context.Context, email string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[model.NormalizeEmail(email)]
	if !ok {
		return model.User{}, errs.ErrNotFound
	}
	return u, nil
}

func (m *Memory) Upsert(_ context.Context, u model.User) error {
	u.Email = model.NormalizeEmail(u.Email)
	if u.Email == "" {
		return errs.ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.users[u.Email]; ok && u.CreatedAt.IsZero() {
		u.CreatedAt = prev.CreatedAt
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	m.users[u.Email] = u
	return nil
}

func (m *Memory) CountForDay(_ context.Context, identity, date string) (int, error) {
	identity = model.NormalizeEmail(identity)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Identity == identity && e.Date == date {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Append(_ context.Context, evt model.AttendanceEvent) error {
	evt.Identity = model.NormalizeEmail(evt.Identity)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *Memory) ListByIdentity(_ context.Context, identity string, limit int) ([]model.AttendanceEvent, error) {
	identity = model.NormalizeEmail(identity)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AttendanceEvent
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].Identity != identity {
			continue
		}
		out = append(out, m.events[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) ListEvents(_ context.Context, schoolID string, limit, offset int) ([]model.AttendanceEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AttendanceEvent
	skipped := 0
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if schoolID != "" && e.SchoolID != schoolID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) Acquire(_ context.Context, readerID, operatorID string, now time.Time, ttl time.Duration) (model.ReaderLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.locks[readerID]
	if ok && cur.Held(now) && cur.LockedBy != operatorID {
		return cur, errs.ErrLockConflict
	}
	l := model.ReaderLock{
		ReaderID:  readerID,
		IsLocked:  true,
		LockedBy:  operatorID,
		LockedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	m.locks[readerID] = l
	return l, nil
}

func (m *Memory) Refresh(_ context.Context, readerID, operatorID string, now time.Time, ttl time.Duration) (model.ReaderLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.locks[readerID]
	if !ok || !cur.Held(now) || cur.LockedBy != operatorID {
		return model.ReaderLock{}, errs.ErrLockNotHeld
	}
	cur.ExpiresAt = now.Add(ttl)
	m.locks[readerID] = cur
	return cur, nil
}

func (m *Memory) Release(_ context.Context, readerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.locks[readerID]; ok {
		m.locks[readerID] = model.ReaderLock{ReaderID: readerID}
	}
	return nil
}

func (m *Memory) GetLock(_ context.Context, readerID string) (model.ReaderLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[readerID]; ok {
		return l, nil
	}
	return model.ReaderLock{ReaderID: readerID}, nil
}

func (m *Memory) ListLocks(_ context.Context) ([]model.ReaderLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ReaderLock, 0, len(m.locks))
	for _, l := range m.locks {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReaderID < out[j].ReaderID })
	return out, nil
}

func (m *Memory) GetSetting(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.settings[key]
	return v, ok, nil
}

func (m *Memory) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

func (m *Memory) Incr(_ context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key] += delta
	return m.counters[key], nil
}

func (m *Memory) Count(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[key], nil
}
