// Package security implements the shared lector password gate: one password
// and one failed-attempt counter for every scanning terminal.
package security

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"qrgate/internal/errs"
	"qrgate/internal/metrics"
	"qrgate/internal/model"
	"qrgate/internal/store"
)

// SettingKey is the settings row holding the serialized SecurityState.
const SettingKey = "lector_security"

// Options tune the gate.
type Options struct {
	// DefaultPassword applies until the first ChangePassword.
	DefaultPassword string
	// MaxAttempts is the number of consecutive failures that lock the gate.
	MaxAttempts int
	// HashCost is the bcrypt cost for new passwords.
	HashCost int
	Now      func() time.Time
}

// Validation is the outcome of one password check.
type Validation struct {
	Valid          bool
	Locked         bool
	FailedAttempts int
	// Remaining is the number of wrong passwords left before lockout.
	Remaining int
}

// Service guards the lector password and lockout counter.
type Service struct {
	settings store.SettingsRepository
	log      *zap.Logger
	opts     Options

	// serializes the read-modify-write of the counter
	mu sync.Mutex
}

// NewService builds the gate with defaults for zero options.
func NewService(settings store.SettingsRepository, log *zap.Logger, opts Options) *Service {
	if opts.DefaultPassword == "" {
		opts.DefaultPassword = "admin"
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.HashCost == 0 {
		opts.HashCost = bcrypt.DefaultCost
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{settings: settings, log: log, opts: opts}
}

// Validate checks password against the stored one. A locked gate rejects
// every password, including the correct one, without touching the counter.
func (s *Service) Validate(ctx context.Context, password string) (Validation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load(ctx)
	if err != nil {
		return Validation{}, err
	}
	if st.Locked {
		return Validation{Locked: true, FailedAttempts: st.FailedAttempts}, nil
	}

	if s.matches(st, password) {
		if st.FailedAttempts != 0 {
			st.FailedAttempts = 0
			if err := s.save(ctx, st); err != nil {
				return Validation{}, err
			}
		}
		return Validation{Valid: true, Remaining: s.opts.MaxAttempts}, nil
	}

	st = registerFailure(st, s.opts.MaxAttempts)
	if err := s.save(ctx, st); err != nil {
		return Validation{}, err
	}
	metrics.PasswordFailures.Inc()
	if st.Locked {
		s.log.Warn("lector password gate locked", zap.Int("failed_attempts", st.FailedAttempts))
	}
	return Validation{
		Locked:         st.Locked,
		FailedAttempts: st.FailedAttempts,
		Remaining:      max(s.opts.MaxAttempts-st.FailedAttempts, 0),
	}, nil
}

// ChangePassword replaces the password and clears the lockout. It is the
// only way out of a locked gate.
func (s *Service) ChangePassword(ctx context.Context, newPassword, changedBy string) error {
	if strings.TrimSpace(newPassword) == "" {
		return fmt.Errorf("new password: %w", errs.ErrInvalidArgument)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.opts.HashCost)
	if err != nil {
		return err
	}
	if changedBy == "" {
		changedBy = "Admin"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := model.SecurityState{
		PasswordHash:  string(hash),
		LastChangedBy: changedBy,
		LastChangedAt: s.opts.Now().UTC(),
	}
	if err := s.save(ctx, st); err != nil {
		return err
	}
	s.log.Info("lector password changed", zap.String("changed_by", changedBy))
	return nil
}

// Status returns the gate state without the password hash.
func (s *Service) Status(ctx context.Context) (model.SecurityState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load(ctx)
	if err != nil {
		return model.SecurityState{}, err
	}
	st.PasswordHash = ""
	return st, nil
}

// registerFailure counts one wrong password and locks at maxAttempts.
func registerFailure(st model.SecurityState, maxAttempts int) model.SecurityState {
	st.FailedAttempts++
	if st.FailedAttempts >= maxAttempts {
		st.Locked = true
	}
	return st
}

func (s *Service) matches(st model.SecurityState, password string) bool {
	if st.PasswordHash == "" {
		return subtle.ConstantTimeCompare([]byte(password), []byte(s.opts.DefaultPassword)) == 1
	}
	return bcrypt.CompareHashAndPassword([]byte(st.PasswordHash), []byte(password)) == nil
}

func (s *Service) load(ctx context.Context) (model.SecurityState, error) {
	raw, ok, err := s.settings.GetSetting(ctx, SettingKey)
	if err != nil {
		return model.SecurityState{}, fmt.Errorf("load security state: %w", err)
	}
	var st model.SecurityState
	if !ok {
		return st, nil
	}
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return model.SecurityState{}, fmt.Errorf("decode security state: %w", err)
	}
	return st, nil
}

func (s *Service) save(ctx context.Context, st model.SecurityState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := s.settings.SetSetting(ctx, SettingKey, string(raw)); err != nil {
		return fmt.Errorf("save security state: %w", err)
	}
	return nil
}
