// Package terminal runs a scanning station against the gate backend:
// operator authentication, reader selection and the scan loop.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"qrgate/internal/errs"
)

// Stage is the position of the session state machine.
type Stage int

const (
	StageAuthenticating Stage = iota
	StageSelecting
	StageScanning
)

func (s Stage) String() string {
	switch s {
	case StageAuthenticating:
		return "AUTHENTICATING"
	case StageSelecting:
		return "SELECTING"
	case StageScanning:
		return "SCANNING"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

var (
	// ErrWrongStage is returned for actions the current stage does not allow.
	ErrWrongStage = errors.New("action not allowed in current stage")
	// ErrSourceUnavailable wraps failures to open the payload source (camera).
	ErrSourceUnavailable = errors.New("scan source unavailable")
)

// Backend is the part of the gate API a terminal uses.
type Backend interface {
	UseToken(token string)
	ValidatePassword(ctx context.Context, password, operatorID string) (AuthResult, error)
	LockStates(ctx context.Context) ([]ReaderStatus, error)
	AcquireLock(ctx context.Context, readerID, operatorID string) error
	RefreshLock(ctx context.Context, readerID, operatorID string) error
	ReleaseLock(ctx context.Context, readerID string) error
	RemoteStatus(ctx context.Context) (RemoteStatus, error)
	SubmitScan(ctx context.Context, readerID, operatorID, email string) (ScanResult, error)
}

// Display renders scan outcomes and the remote overlay.
type Display interface {
	Granted(ScanResult)
	Denied(reason string)
	// Ready is called when the cool-down ends and payloads are accepted again.
	Ready()
	// RemoteChanged is called with every new remote state; scanning is
	// blocked while !st.ScanningAllowed().
	RemoteChanged(st RemoteStatus)
	SourceFailed(err error)
}

// Source produces decoded QR payloads.
type Source interface {
	Frames(ctx context.Context) (<-chan string, error)
}

// Options tune the session timings.
type Options struct {
	// AccessWindow is how long a successful login is remembered.
	AccessWindow time.Duration
	// Cooldown is the pause after each scan while its banner is shown.
	Cooldown time.Duration
	// PollInterval is the remote status polling period.
	PollInterval time.Duration
	// RefreshInterval is the lease heartbeat; zero derives it from the lease TTL.
	RefreshInterval time.Duration
	Now             func() time.Time
}

// Session is the terminal state machine. Its methods are safe for
// concurrent use, but Scan is expected to run on a single goroutine.
type Session struct {
	backend Backend
	store   SessionStore
	log     *zap.Logger
	opts    Options

	mu       sync.Mutex
	saved Saved
	stage Stage
}

// NewSession loads the persisted state, generating the operator id on first run.
func NewSession(backend Backend, store SessionStore, log *zap.Logger, opts Options) (*Session, error) {
	if opts.AccessWindow <= 0 {
		opts.AccessWindow = 8 * time.Hour
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 3 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	saved, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	s := &Session{backend: backend, store: store, log: log, opts: opts, saved: saved}
	if saved.OperatorID == "" {
		s.saved.OperatorID = "operator_" + uuid.NewString()
		if err := store.Save(s.saved); err != nil {
			return nil, fmt.Errorf("save session: %w", err)
		}
	}
	return s, nil
}

func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

func (s *Session) OperatorID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved.OperatorID
}

func (s *Session) ReaderID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved.ReaderID
}

// Restore picks the starting stage. A login younger than the access window
// skips authentication, going straight to scanning when a reader is remembered.
func (s *Session) Restore() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	fresh := !s.saved.LastAccess.IsZero() && now.Sub(s.saved.LastAccess) < s.opts.AccessWindow
	tokenOK := s.saved.Token != "" && (s.saved.TokenExpiry.IsZero() || now.Before(s.saved.TokenExpiry))
	switch {
	case !fresh || !tokenOK:
		s.stage = StageAuthenticating
	case s.saved.ReaderID != "":
		s.stage = StageScanning
	default:
		s.stage = StageSelecting
	}
	if s.stage != StageAuthenticating {
		s.backend.UseToken(s.saved.Token)
	}
	return s.stage
}

// Authenticate submits the lector password. A rejected password keeps the
// session in AUTHENTICATING and is reported through the result.
func (s *Session) Authenticate(ctx context.Context, password string) (AuthResult, error) {
	res, err := s.backend.ValidatePassword(ctx, password, s.OperatorID())
	if err != nil {
		return AuthResult{}, err
	}
	if !res.Valid {
		s.log.Info("lector password rejected", zap.Bool("locked", res.Locked))
		return res, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if res.OperatorID != "" {
		s.saved.OperatorID = res.OperatorID
	}
	s.saved.LastAccess = s.opts.Now()
	s.saved.Token = res.Token
	s.saved.TokenExpiry = res.ExpiresAt
	s.saved.LeaseTTL = res.LeaseTTL
	s.backend.UseToken(res.Token)
	s.stage = StageSelecting
	return res, s.store.Save(s.saved)
}

// Readers lists the readers and whether each is free.
func (s *Session) Readers(ctx context.Context) ([]ReaderStatus, error) {
	if s.Stage() == StageAuthenticating {
		return nil, ErrWrongStage
	}
	return s.backend.LockStates(ctx)
}

// SelectReader claims readerID. When another operator holds it the session
// stays in SELECTING and the refreshed reader list is returned with the error.
func (s *Session) SelectReader(ctx context.Context, readerID string) ([]ReaderStatus, error) {
	if s.Stage() != StageSelecting {
		return nil, ErrWrongStage
	}
	op := s.OperatorID()
	if err := s.backend.AcquireLock(ctx, readerID, op); err != nil {
		if errors.Is(err, errs.ErrLockConflict) {
			states, lerr := s.backend.LockStates(ctx)
			if lerr != nil {
				s.log.Warn("refresh reader list", zap.Error(lerr))
			}
			return states, err
		}
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved.ReaderID = readerID
	s.stage = StageScanning
	s.log.Info("reader selected", zap.String("reader", readerID), zap.String("operator", op))
	return nil, s.store.Save(s.saved)
}

// Leave releases the reader and returns to SELECTING. The transition happens
// even when the release call fails; the lease then simply expires.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	readerID := s.saved.ReaderID
	s.saved.ReaderID = ""
	if s.stage == StageScanning {
		s.stage = StageSelecting
	}
	saveErr := s.store.Save(s.saved)
	s.mu.Unlock()

	if readerID != "" {
		if err := s.backend.ReleaseLock(ctx, readerID); err != nil {
			s.log.Warn("release reader", zap.String("reader", readerID), zap.Error(err))
			return err
		}
	}
	return saveErr
}

// Suspend releases the reader lease but remembers the reader, so that a
// restart within the access window resumes scanning on it.
func (s *Session) Suspend(ctx context.Context) error {
	readerID := s.ReaderID()
	if readerID == "" {
		return nil
	}
	return s.backend.ReleaseLock(ctx, readerID)
}

// Logout forgets the login and any reader.
func (s *Session) Logout(ctx context.Context) error {
	err := s.Leave(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved.LastAccess = time.Time{}
	s.saved.Token = ""
	s.saved.TokenExpiry = time.Time{}
	s.saved.LeaseTTL = 0
	s.backend.UseToken("")
	s.stage = StageAuthenticating
	if serr := s.store.Save(s.saved); err == nil {
		err = serr
	}
	return err
}

// dropReader forgets a reader whose lease was lost.
func (s *Session) dropReader() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved.ReaderID = ""
	s.stage = StageSelecting
	if err := s.store.Save(s.saved); err != nil {
		s.log.Warn("save session", zap.Error(err))
	}
}

func (s *Session) refreshEvery() time.Duration {
	if s.opts.RefreshInterval > 0 {
		return s.opts.RefreshInterval
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved.LeaseTTL > 0 {
		return s.saved.LeaseTTL / 3
	}
	return 40 * time.Second
}

// ensureLease renews the remembered reader, reclaiming it if the lease lapsed.
func (s *Session) ensureLease(ctx context.Context, readerID, op string) error {
	err := s.backend.RefreshLock(ctx, readerID, op)
	if errors.Is(err, errs.ErrLockNotHeld) {
		err = s.backend.AcquireLock(ctx, readerID, op)
	}
	return err
}

func leaseLost(err error) bool {
	return errors.Is(err, errs.ErrLockNotHeld) || errors.Is(err, errs.ErrLockConflict)
}

// unauthorized reports a rejected or expired operator token; scanning cannot
// continue until the operator logs in again.
func unauthorized(err error) bool {
	return errors.Is(err, errs.ErrUnauthorized)
}

// Scan runs the scanning loop until ctx ends, the source closes or the
// reader lease is lost. Payloads, the remote poll, the cool-down and the
// lease heartbeat are all handled on the calling goroutine, so at most one
// submission is in flight and none happens while a banner is shown.
func (s *Session) Scan(ctx context.Context, src Source, ui Display) error {
	if s.Stage() != StageScanning {
		return ErrWrongStage
	}
	readerID, op := s.ReaderID(), s.OperatorID()

	if err := s.ensureLease(ctx, readerID, op); err != nil {
		if leaseLost(err) {
			s.dropReader()
		}
		return err
	}

	frames, err := src.Frames(ctx)
	if err != nil {
		ui.SourceFailed(err)
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	// nothing is submitted until a status read confirms scanning is allowed
	var (
		enabled bool
		known   bool
		last    RemoteStatus
	)
	if st, err := s.backend.RemoteStatus(ctx); err != nil {
		if unauthorized(err) {
			return err
		}
		s.log.Warn("remote status", zap.Error(err))
	} else {
		last, known, enabled = st, true, st.ScanningAllowed()
		ui.RemoteChanged(st)
	}

	poll := time.NewTicker(s.opts.PollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(s.refreshEvery())
	defer heartbeat.Stop()

	var cooldown <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case payload, ok := <-frames:
			if !ok {
				return nil
			}
			if cooldown != nil || !enabled {
				continue
			}
			err := s.submit(ctx, readerID, op, payload, ui)
			if leaseLost(err) {
				s.dropReader()
				return err
			}
			if unauthorized(err) {
				return err
			}
			cooldown = time.After(s.opts.Cooldown)

		case <-cooldown:
			cooldown = nil
			if enabled {
				ui.Ready()
			}

		case <-poll.C:
			st, err := s.backend.RemoteStatus(ctx)
			if err != nil {
				if unauthorized(err) {
					return err
				}
				s.log.Warn("remote status", zap.Error(err))
				continue
			}
			if !known || st != last {
				last, known, enabled = st, true, st.ScanningAllowed()
				ui.RemoteChanged(st)
			}

		case <-heartbeat.C:
			if err := s.backend.RefreshLock(ctx, readerID, op); err != nil {
				if unauthorized(err) {
					return err
				}
				if leaseLost(err) {
					s.log.Warn("reader lease lost", zap.String("reader", readerID))
					s.dropReader()
					return err
				}
				s.log.Warn("refresh lease", zap.Error(err))
			}
		}
	}
}

// submit sends one payload and shows the outcome. Only a lost lease or a
// rejected token is returned.
func (s *Session) submit(ctx context.Context, readerID, op, payload string, ui Display) error {
	email, ok := ParsePayload(payload)
	if !ok {
		ui.Denied("QR inválido")
		return nil
	}
	res, err := s.backend.SubmitScan(ctx, readerID, op, email)
	if err != nil {
		s.log.Info("scan denied", zap.String("reader", readerID), zap.Error(err))
		ui.Denied(denyReason(err))
		if errors.Is(err, errs.ErrLockNotHeld) || unauthorized(err) {
			return err
		}
		return nil
	}
	ui.Granted(res)
	return nil
}

func denyReason(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return "Sin conexión con el servidor"
}
