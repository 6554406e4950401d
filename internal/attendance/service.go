// Package attendance records badge scans as alternating Entrada/Salida events.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"qrgate/internal/errs"
	"qrgate/internal/metrics"
	"qrgate/internal/model"
	"qrgate/internal/queue"
	"qrgate/internal/store"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

// RemoteGate reports the global scanning switch.
type RemoteGate interface {
	Status(ctx context.Context) (model.RemoteState, error)
}

// LeaseChecker reports whether an operator holds a reader lease.
type LeaseChecker interface {
	Holds(ctx context.Context, readerID, operatorID string) (bool, error)
}

// Result is what the terminal shows after a successful scan.
type Result struct {
	EventID     string         `json:"id"`
	Movement    model.Movement `json:"movimiento"`
	DisplayName string         `json:"nombre"`
	Role        string         `json:"rol"`
	Date        string         `json:"fecha"`
	Time        string         `json:"hora"`
	ReaderID    string         `json:"lectorId"`
}

// Options tune the service.
type Options struct {
	// Zone is the school's wall clock used for event dates and times.
	Zone *time.Location
	// EnforceLease rejects scans from operators without a live reader lease.
	EnforceLease bool
	Now          func() time.Time
}

// Service coordinates scan submission and attendance log queries.
type Service struct {
	users  store.UserRepository
	events store.EventRepository
	remote RemoteGate
	leases LeaseChecker
	q      queue.Queue
	log    *zap.Logger
	opts   Options
	keys   *keyedMutex
}

// NewService wires the toggle service. leases may be nil when EnforceLease is off.
func NewService(users store.UserRepository, events store.EventRepository, remote RemoteGate, leases LeaseChecker, q queue.Queue, log *zap.Logger, opts Options) *Service {
	if opts.Zone == nil {
		opts.Zone = time.FixedZone("GMT-6", -6*60*60)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		users:  users,
		events: events,
		remote: remote,
		leases: leases,
		q:      q,
		log:    log,
		opts:   opts,
		keys:   newKeyedMutex(),
	}
}

// Today is the current date on the school clock.
func (s *Service) Today() string {
	return s.opts.Now().In(s.opts.Zone).Format(dateLayout)
}

// SubmitScan records the next movement of identity at readerID.
func (s *Service) SubmitScan(ctx context.Context, readerID, operatorID, identity string) (Result, error) {
	identity = model.NormalizeEmail(identity)
	if identity == "" || strings.TrimSpace(readerID) == "" {
		return Result{}, s.fail("invalid", fmt.Errorf("lectorId and email required: %w", errs.ErrInvalidArgument))
	}

	st, err := s.remote.Status(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("remote status: %w", err)
	}
	if !st.ScanningAllowed() {
		return Result{}, s.fail("disabled", errs.ErrScannerDisabled)
	}

	if s.opts.EnforceLease {
		held, err := s.leases.Holds(ctx, readerID, operatorID)
		if err != nil {
			return Result{}, fmt.Errorf("check lease: %w", err)
		}
		if !held {
			return Result{}, s.fail("lease", errs.ErrLockNotHeld)
		}
	}

	user, err := s.users.GetByEmail(ctx, identity)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return Result{}, s.fail("unknown", fmt.Errorf("%s: %w", identity, errs.ErrUnknownIdentity))
		}
		return Result{}, fmt.Errorf("lookup user: %w", err)
	}

	unlock := s.keys.Lock(identity)
	defer unlock()

	now := s.opts.Now()
	local := now.In(s.opts.Zone)
	date := local.Format(dateLayout)

	prior, err := s.events.CountForDay(ctx, identity, date)
	if err != nil {
		return Result{}, fmt.Errorf("count events: %w", err)
	}

	evt := model.AttendanceEvent{
		ID:          uuid.NewString(),
		Timestamp:   now.UTC(),
		Date:        date,
		Time:        local.Format(timeLayout),
		Identity:    identity,
		DisplayName: user.Name,
		Role:        user.Role,
		Movement:    model.NextMovement(prior),
		ReaderID:    readerID,
		SchoolID:    user.SchoolID,
	}
	if err := s.events.Append(ctx, evt); err != nil {
		return Result{}, fmt.Errorf("append event: %w", err)
	}
	metrics.Scans.WithLabelValues(string(evt.Movement)).Inc()
	s.notify(ctx, evt)

	s.log.Info("scan recorded",
		zap.String("reader", readerID),
		zap.String("identity", identity),
		zap.String("movement", string(evt.Movement)),
	)
	return Result{
		EventID:     evt.ID,
		Movement:    evt.Movement,
		DisplayName: evt.DisplayName,
		Role:        evt.Role,
		Date:        evt.Date,
		Time:        evt.Time,
		ReaderID:    readerID,
	}, nil
}

// notify publishes the scan for the stats consumer. The event is already
// stored, so a failed publish only costs a counter increment.
func (s *Service) notify(ctx context.Context, evt model.AttendanceEvent) {
	if s.q == nil {
		return
	}
	msg, err := queue.NewScanMessage(queue.ScanNotice{Date: evt.Date, ReaderID: evt.ReaderID, Movement: string(evt.Movement)})
	if err == nil {
		err = s.q.Publish(ctx, msg)
	}
	if err != nil {
		s.log.Warn("queue publish failed", zap.Error(err))
	}
}

func (s *Service) fail(reason string, err error) error {
	metrics.ScanFailures.WithLabelValues(reason).Inc()
	return err
}

// Activity returns the events of identity, newest first.
func (s *Service) Activity(ctx context.Context, identity string, limit int) ([]model.AttendanceEvent, error) {
	identity = model.NormalizeEmail(identity)
	if identity == "" {
		return nil, fmt.Errorf("email required: %w", errs.ErrInvalidArgument)
	}
	return s.events.ListByIdentity(ctx, identity, limit)
}

// FullLog returns every event, newest first, optionally for a single school.
func (s *Service) FullLog(ctx context.Context, schoolID string, limit, offset int) ([]model.AttendanceEvent, error) {
	if offset < 0 {
		offset = 0
	}
	return s.events.ListEvents(ctx, strings.TrimSpace(schoolID), limit, offset)
}

// keyedMutex serializes work per key and forgets idle keys.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
