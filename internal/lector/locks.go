package lector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"qrgate/internal/errs"
	"qrgate/internal/metrics"
	"qrgate/internal/model"
	"qrgate/internal/store"
)

// LockState is a catalog reader joined with its lease.
type LockState struct {
	model.Reader
	IsLocked  bool      `json:"isLocked"`
	LockedBy  string    `json:"lockedBy,omitempty"`
	LockedAt  time.Time `json:"lockedAt,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// LockService arbitrates exclusive use of each reader through leases that
// expire unless the holding terminal refreshes them.
type LockService struct {
	locks   store.LockRepository
	catalog *Catalog
	ttl     time.Duration
	log     *zap.Logger
	now     func() time.Time
}

// NewLockService builds the service; ttl defaults to two minutes.
func NewLockService(locks store.LockRepository, catalog *Catalog, ttl time.Duration, log *zap.Logger) *LockService {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LockService{locks: locks, catalog: catalog, ttl: ttl, log: log, now: time.Now}
}

// TTL is the lease length; terminals refresh well before it elapses.
func (s *LockService) TTL() time.Duration { return s.ttl }

// States lists every catalog reader with its lease. Expired leases show as free.
func (s *LockService) States(ctx context.Context) ([]LockState, error) {
	rows, err := s.locks.ListLocks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	now := s.now()
	byID := make(map[string]model.ReaderLock, len(rows))
	for _, l := range rows {
		byID[l.ReaderID] = l
	}
	out := make([]LockState, 0, len(s.catalog.readers))
	for _, r := range s.catalog.readers {
		st := LockState{Reader: r}
		if l, ok := byID[r.ID]; ok && l.Held(now) {
			st.IsLocked = true
			st.LockedBy = l.LockedBy
			st.LockedAt = l.LockedAt
			st.ExpiresAt = l.ExpiresAt
		}
		out = append(out, st)
		delete(byID, r.ID)
	}
	// rows left behind by a previous catalog still show up so they can be released
	for _, l := range rows {
		if _, extra := byID[l.ReaderID]; !extra || !l.Held(now) {
			continue
		}
		out = append(out, LockState{
			Reader:    model.Reader{ID: l.ReaderID, Name: l.ReaderID},
			IsLocked:  true,
			LockedBy:  l.LockedBy,
			LockedAt:  l.LockedAt,
			ExpiresAt: l.ExpiresAt,
		})
	}
	return out, nil
}

// Acquire leases readerID to operatorID. Another operator's live lease
// yields errs.ErrLockConflict.
func (s *LockService) Acquire(ctx context.Context, readerID, operatorID string) (model.ReaderLock, error) {
	if err := s.check(readerID, operatorID); err != nil {
		return model.ReaderLock{}, err
	}
	l, err := s.locks.Acquire(ctx, readerID, operatorID, s.now(), s.ttl)
	if err != nil {
		if errors.Is(err, errs.ErrLockConflict) {
			metrics.LockConflicts.Inc()
		}
		return model.ReaderLock{}, err
	}
	s.log.Info("reader locked", zap.String("reader", readerID), zap.String("operator", operatorID))
	return l, nil
}

// Refresh extends the lease held by operatorID.
func (s *LockService) Refresh(ctx context.Context, readerID, operatorID string) (model.ReaderLock, error) {
	if err := s.check(readerID, operatorID); err != nil {
		return model.ReaderLock{}, err
	}
	return s.locks.Refresh(ctx, readerID, operatorID, s.now(), s.ttl)
}

// Release frees the reader whoever holds it. Releasing a free reader succeeds.
func (s *LockService) Release(ctx context.Context, readerID string) error {
	if strings.TrimSpace(readerID) == "" {
		return fmt.Errorf("lectorId: %w", errs.ErrInvalidArgument)
	}
	if err := s.locks.Release(ctx, readerID); err != nil {
		return fmt.Errorf("release %s: %w", readerID, err)
	}
	s.log.Info("reader released", zap.String("reader", readerID))
	return nil
}

// Holds reports whether operatorID holds a live lease on readerID.
func (s *LockService) Holds(ctx context.Context, readerID, operatorID string) (bool, error) {
	l, err := s.locks.GetLock(ctx, readerID)
	if err != nil {
		return false, err
	}
	return l.Held(s.now()) && l.LockedBy == operatorID, nil
}

func (s *LockService) check(readerID, operatorID string) error {
	if strings.TrimSpace(operatorID) == "" {
		return fmt.Errorf("operatorId: %w", errs.ErrInvalidArgument)
	}
	if _, ok := s.catalog.Lookup(readerID); !ok {
		return fmt.Errorf("reader %q: %w", readerID, errs.ErrNotFound)
	}
	return nil
}
