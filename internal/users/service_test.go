package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"qrgate/internal/errs"
	"qrgate/internal/model"
	"qrgate/internal/store"
)

func TestBootstrapThenLogin(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc := NewService(mem, nil, bcrypt.MinCost)

	require.NoError(t, svc.Bootstrap(ctx, "Director@School.mx", "s3cret", ""))

	u, err := svc.Login(ctx, "director@school.mx", "s3cret")
	require.NoError(t, err)
	require.Equal(t, model.RoleDirector, u.Role)
	require.Equal(t, "Administrador", u.Name)

	_, err = svc.Login(ctx, "director@school.mx", "wrong")
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	_, err = svc.Login(ctx, "nobody@school.mx", "s3cret")
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	_, err = svc.Login(ctx, "", "")
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestBootstrapKeepsProfile(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.Upsert(ctx, model.User{
		Email: "admin@school.mx", Name: "María", Role: model.RoleAdministrativo, SchoolID: "ESC-1",
	}))
	svc := NewService(mem, nil, bcrypt.MinCost)

	require.NoError(t, svc.Bootstrap(ctx, "admin@school.mx", "pw", ""))

	u, err := svc.Lookup(ctx, "admin@school.mx")
	require.NoError(t, err)
	require.Equal(t, "María", u.Name)
	require.Equal(t, model.RoleAdministrativo, u.Role)
	require.Equal(t, "ESC-1", u.SchoolID)
}

func TestLoginRejectsNonAdmin(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, mem.Upsert(ctx, model.User{
		Email: "ana@school.mx", Role: model.RoleAlumno, PasswordHash: string(hash),
	}))
	require.NoError(t, mem.Upsert(ctx, model.User{Email: "nopw@school.mx", Role: model.RoleDirector}))

	svc := NewService(mem, nil, bcrypt.MinCost)
	_, err = svc.Login(ctx, "ana@school.mx", "pw")
	require.ErrorIs(t, err, errs.ErrForbidden)

	_, err = svc.Login(ctx, "nopw@school.mx", "pw")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}
