// Package users authenticates directory users and seeds the first administrator.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"qrgate/internal/errs"
	"qrgate/internal/model"
	"qrgate/internal/store"
)

// dummyHash keeps unknown-user logins as slow as wrong-password ones.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("qrgate-dummy-password"), bcrypt.DefaultCost)

// Service wraps the user directory.
type Service struct {
	repo store.UserRepository
	log  *zap.Logger
	cost int
}

// NewService builds the directory service; cost 0 means bcrypt.DefaultCost.
func NewService(repo store.UserRepository, log *zap.Logger, cost int) *Service {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, log: log, cost: cost}
}

// Login checks credentials of an administrative user. Every credential
// failure yields errs.ErrUnauthorized; non-administrative roles get errs.ErrForbidden.
func (s *Service) Login(ctx context.Context, email, password string) (model.User, error) {
	email = model.NormalizeEmail(email)
	if email == "" || password == "" {
		return model.User{}, fmt.Errorf("email and password required: %w", errs.ErrInvalidArgument)
	}
	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			return model.User{}, fmt.Errorf("lookup user: %w", err)
		}
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return model.User{}, errs.ErrUnauthorized
	}
	if u.PasswordHash == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return model.User{}, errs.ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return model.User{}, errs.ErrUnauthorized
	}
	if !model.IsAdminRole(u.Role) {
		return model.User{}, errs.ErrForbidden
	}
	s.log.Info("admin login", zap.String("email", u.Email))
	return u, nil
}

// Lookup resolves a directory entry.
func (s *Service) Lookup(ctx context.Context, email string) (model.User, error) {
	return s.repo.GetByEmail(ctx, email)
}

// Bootstrap ensures an administrator with the given credentials exists.
// An existing entry keeps its profile but gets the password and role reset.
func (s *Service) Bootstrap(ctx context.Context, email, password, name string) error {
	email = model.NormalizeEmail(email)
	if email == "" || password == "" {
		return fmt.Errorf("admin email and password required: %w", errs.ErrInvalidArgument)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	u, err := s.repo.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		u = model.User{Email: email}
	case err != nil:
		return fmt.Errorf("lookup admin: %w", err)
	}
	if strings.TrimSpace(name) != "" {
		u.Name = name
	}
	if u.Name == "" {
		u.Name = "Administrador"
	}
	if !model.IsAdminRole(u.Role) {
		u.Role = model.RoleDirector
	}
	u.PasswordHash = string(hash)
	if err := s.repo.Upsert(ctx, u); err != nil {
		return fmt.Errorf("save admin: %w", err)
	}
	s.log.Info("admin bootstrapped", zap.String("email", email))
	return nil
}
