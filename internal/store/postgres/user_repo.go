package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"qrgate/internal/errs"
	"qrgate/internal/model"
	"qrgate/internal/store"
)

// UserRepo implements store.UserRepository.
type UserRepo struct{ db *DB }

var _ store.UserRepository = (*UserRepo)(nil)

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// GetByEmail loads a directory entry by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	const q = `SELECT email, name, role, school_id, password_hash, curp, grade, grp, shift, created_at FROM users WHERE email=$1`
	var u model.User
	err := r.db.Pool.QueryRow(ctx, q, model.NormalizeEmail(email)).
		Scan(&u.Email, &u.Name, &u.Role, &u.SchoolID, &u.PasswordHash, &u.CURP, &u.Grade, &u.Group, &u.Shift, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, errs.ErrNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	return u, nil
}

// Upsert inserts or replaces a directory entry.
func (r *UserRepo) Upsert(ctx context.Context, u model.User) error {
	email := model.NormalizeEmail(u.Email)
	if email == "" {
		return errs.ErrInvalidArgument
	}
	const q = `
INSERT INTO users (email, name, role, school_id, password_hash, curp, grade, grp, shift)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (email) DO UPDATE SET
  name=EXCLUDED.name, role=EXCLUDED.role, school_id=EXCLUDED.school_id,
  password_hash=EXCLUDED.password_hash, curp=EXCLUDED.curp, grade=EXCLUDED.grade,
  grp=EXCLUDED.grp, shift=EXCLUDED.shift`
	_, err := r.db.Pool.Exec(ctx, q, email, u.Name, u.Role, u.SchoolID, u.PasswordHash, u.CURP, u.Grade, u.Group, u.Shift)
	return err
}
