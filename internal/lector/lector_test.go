package lector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"qrgate/internal/errs"
	"qrgate/internal/model"
	"qrgate/internal/store"
)

func newLocks(t *testing.T) (*LockService, *time.Time) {
	t.Helper()
	cat, err := NewCatalog(DefaultReaders)
	require.NoError(t, err)
	svc := NewLockService(store.NewMemory(), cat, time.Minute, nil)
	now := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	return svc, &now
}

func TestCatalogRejectsDuplicates(t *testing.T) {
	_, err := NewCatalog([]model.Reader{{ID: "A"}, {ID: "A"}})
	require.Error(t, err)
}

func TestParseReaders(t *testing.T) {
	rs, err := ParseReaders("R1:Gate:North, R2:Library ,")
	require.NoError(t, err)
	require.Equal(t, []model.Reader{
		{ID: "R1", Name: "Gate", Location: "North"},
		{ID: "R2", Name: "Library"},
	}, rs)

	_, err = ParseReaders(":nameless")
	require.Error(t, err)
}

func TestStatesListsWholeCatalog(t *testing.T) {
	svc, _ := newLocks(t)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, "CEL-002", "op-1")
	require.NoError(t, err)

	states, err := svc.States(ctx)
	require.NoError(t, err)
	require.Len(t, states, len(DefaultReaders))
	for _, st := range states {
		if st.ID == "CEL-002" {
			require.True(t, st.IsLocked)
			require.Equal(t, "op-1", st.LockedBy)
		} else {
			require.False(t, st.IsLocked, st.ID)
		}
	}
}

func TestAcquireConflictAndRenew(t *testing.T) {
	svc, _ := newLocks(t)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, "CEL-001", "op-1")
	require.NoError(t, err)

	_, err = svc.Acquire(ctx, "CEL-001", "op-2")
	require.ErrorIs(t, err, errs.ErrLockConflict)

	l, err := svc.Acquire(ctx, "CEL-001", "op-1")
	require.NoError(t, err)
	require.Equal(t, "op-1", l.LockedBy)
}

func TestAcquireValidatesInput(t *testing.T) {
	svc, _ := newLocks(t)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, "CEL-999", "op-1")
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = svc.Acquire(ctx, "CEL-001", " ")
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestExpiredLeaseIsFree(t *testing.T) {
	svc, now := newLocks(t)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, "CEL-003", "op-1")
	require.NoError(t, err)

	*now = now.Add(2 * time.Minute)

	states, err := svc.States(ctx)
	require.NoError(t, err)
	for _, st := range states {
		require.False(t, st.IsLocked, st.ID)
	}

	_, err = svc.Acquire(ctx, "CEL-003", "op-2")
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, "CEL-003", "op-1")
	require.ErrorIs(t, err, errs.ErrLockNotHeld)
}

func TestRefreshExtendsLease(t *testing.T) {
	svc, now := newLocks(t)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, "CEL-004", "op-1")
	require.NoError(t, err)

	*now = now.Add(50 * time.Second)
	l, err := svc.Refresh(ctx, "CEL-004", "op-1")
	require.NoError(t, err)
	require.Equal(t, now.Add(time.Minute), l.ExpiresAt)

	*now = now.Add(50 * time.Second)
	held, err := svc.Holds(ctx, "CEL-004", "op-1")
	require.NoError(t, err)
	require.True(t, held)
}

func TestReleaseIsIdempotent(t *testing.T) {
	svc, _ := newLocks(t)
	ctx := context.Background()

	require.NoError(t, svc.Release(ctx, "CEL-005"))

	_, err := svc.Acquire(ctx, "CEL-005", "op-1")
	require.NoError(t, err)
	require.NoError(t, svc.Release(ctx, "CEL-005"))
	require.NoError(t, svc.Release(ctx, "CEL-005"))

	held, err := svc.Holds(ctx, "CEL-005", "op-1")
	require.NoError(t, err)
	require.False(t, held)

	_, err = svc.Acquire(ctx, "CEL-005", "op-2")
	require.NoError(t, err)
}

func TestRemoteDefaults(t *testing.T) {
	rc := NewRemoteControl(store.NewMemory(), nil)
	st, err := rc.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, model.DefaultRemoteState(), st)
	require.True(t, st.ScanningAllowed())
}

func TestRemoteActions(t *testing.T) {
	rc := NewRemoteControl(store.NewMemory(), nil)
	ctx := context.Background()
	off, on := false, true

	st, err := rc.Apply(ctx, ActionPause, ControlPayload{}, "admin@school.mx")
	require.NoError(t, err)
	require.Equal(t, model.StatePausado, st.State)
	require.False(t, st.ScanningAllowed())
	require.Equal(t, "admin@school.mx", st.LastChangedBy)

	st, err = rc.Apply(ctx, ActionTogglePower, ControlPayload{Active: &off}, "admin")
	require.NoError(t, err)
	require.False(t, st.Active)

	// start does not touch the power switch
	st, err = rc.Apply(ctx, ActionStart, ControlPayload{}, "admin")
	require.NoError(t, err)
	require.Equal(t, model.StateActivo, st.State)
	require.False(t, st.ScanningAllowed())

	st, err = rc.Apply(ctx, ActionTogglePower, ControlPayload{Active: &on}, "admin")
	require.NoError(t, err)
	require.True(t, st.ScanningAllowed())

	st, err = rc.Apply(ctx, ActionEmergencyStop, ControlPayload{}, "admin")
	require.NoError(t, err)
	require.Equal(t, model.StateInactivo, st.State)
	require.True(t, st.Active)

	st, err = rc.Apply(ctx, ActionSetCamera, ControlPayload{Camera: model.CameraUser}, "admin")
	require.NoError(t, err)
	require.Equal(t, model.CameraUser, st.CameraFacingMode)

	persisted, err := rc.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, model.StateInactivo, persisted.State)
	require.Equal(t, model.CameraUser, persisted.CameraFacingMode)
}

func TestRemoteRejectsMalformed(t *testing.T) {
	rc := NewRemoteControl(store.NewMemory(), nil)
	ctx := context.Background()

	_, err := rc.Apply(ctx, ActionTogglePower, ControlPayload{}, "admin")
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = rc.Apply(ctx, ActionSetCamera, ControlPayload{Camera: "front"}, "admin")
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = rc.Apply(ctx, "reboot", ControlPayload{}, "admin")
	require.ErrorIs(t, err, errs.ErrUnknownAction)

	st, err := rc.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, model.DefaultRemoteState(), st)
}
