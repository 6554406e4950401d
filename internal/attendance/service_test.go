package attendance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"qrgate/internal/errs"
	"qrgate/internal/model"
	"qrgate/internal/queue"
	"qrgate/internal/store"
)

type fakeGate struct {
	state model.RemoteState
	err   error
}

func (f *fakeGate) Status(context.Context) (model.RemoteState, error) { return f.state, f.err }

type fakeLeases struct {
	holder map[string]string
}

func (f *fakeLeases) Holds(_ context.Context, readerID, operatorID string) (bool, error) {
	return f.holder[readerID] == operatorID, nil
}

var (
	_ RemoteGate   = (*fakeGate)(nil)
	_ LeaseChecker = (*fakeLeases)(nil)
)

type fixture struct {
	svc   *Service
	mem   *store.Memory
	gate  *fakeGate
	q     *queue.InMemory
	clock time.Time
}

func newFixture(t *testing.T, enforce bool) *fixture {
	t.Helper()
	f := &fixture{
		mem:   store.NewMemory(),
		gate:  &fakeGate{state: model.DefaultRemoteState()},
		q:     queue.NewInMemory(64),
		clock: time.Date(2025, 3, 10, 14, 5, 9, 0, time.UTC),
	}
	require.NoError(t, f.mem.Upsert(context.Background(), model.User{
		Email: "ana@school.mx", Name: "Ana López", Role: model.RoleAlumno, SchoolID: "ESC-1",
	}))
	leases := &fakeLeases{holder: map[string]string{"CEL-001": "op-1"}}
	f.svc = NewService(f.mem, f.mem, f.gate, leases, f.q, nil, Options{
		Zone:         time.FixedZone("GMT-6", -6*60*60),
		EnforceLease: enforce,
		Now:          func() time.Time { return f.clock },
	})
	return f
}

func TestSubmitScanAlternates(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	want := []model.Movement{model.Entrada, model.Salida, model.Entrada}
	for i, mv := range want {
		res, err := f.svc.SubmitScan(ctx, "CEL-001", "op-1", "ana@school.mx")
		require.NoError(t, err, "scan %d", i)
		require.Equal(t, mv, res.Movement, "scan %d", i)
		require.Equal(t, "Ana López", res.DisplayName)
		require.Equal(t, "2025-03-10", res.Date)
		require.Equal(t, "08:05:09", res.Time)
	}

	events, err := f.svc.Activity(ctx, "ana@school.mx", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, model.Entrada, events[0].Movement)
	require.Equal(t, "ESC-1", events[0].SchoolID)
}

func TestSubmitScanUsesSchoolDate(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	// 03:00 UTC on the 11th is still the 10th at GMT-6.
	f.clock = time.Date(2025, 3, 11, 3, 0, 0, 0, time.UTC)
	res, err := f.svc.SubmitScan(ctx, "CEL-001", "", "ana@school.mx")
	require.NoError(t, err)
	require.Equal(t, "2025-03-10", res.Date)
	require.Equal(t, model.Entrada, res.Movement)

	// a new school day starts over with Entrada
	f.clock = time.Date(2025, 3, 11, 7, 0, 0, 0, time.UTC)
	res, err = f.svc.SubmitScan(ctx, "CEL-001", "", "ana@school.mx")
	require.NoError(t, err)
	require.Equal(t, "2025-03-11", res.Date)
	require.Equal(t, model.Entrada, res.Movement)
}

func TestSubmitScanNormalizesIdentity(t *testing.T) {
	f := newFixture(t, true)
	res, err := f.svc.SubmitScan(context.Background(), "CEL-001", "op-1", "  ANA@School.MX ")
	require.NoError(t, err)
	require.Equal(t, model.Entrada, res.Movement)
}

func TestSubmitScanRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown identity", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := f.svc.SubmitScan(ctx, "CEL-001", "op-1", "ghost@school.mx")
		require.ErrorIs(t, err, errs.ErrUnknownIdentity)
	})

	t.Run("missing fields", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := f.svc.SubmitScan(ctx, "", "op-1", "ana@school.mx")
		require.ErrorIs(t, err, errs.ErrInvalidArgument)
		_, err = f.svc.SubmitScan(ctx, "CEL-001", "op-1", "  ")
		require.ErrorIs(t, err, errs.ErrInvalidArgument)
	})

	t.Run("lease not held", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := f.svc.SubmitScan(ctx, "CEL-001", "op-2", "ana@school.mx")
		require.ErrorIs(t, err, errs.ErrLockNotHeld)
	})

	t.Run("lease ignored when not enforced", func(t *testing.T) {
		f := newFixture(t, false)
		_, err := f.svc.SubmitScan(ctx, "CEL-002", "anyone", "ana@school.mx")
		require.NoError(t, err)
	})

	for _, st := range []model.RemoteState{
		{Active: false, State: model.StateActivo},
		{Active: true, State: model.StatePausado},
		{Active: true, State: model.StateInactivo},
	} {
		t.Run(fmt.Sprintf("disabled %v/%s", st.Active, st.State), func(t *testing.T) {
			f := newFixture(t, true)
			f.gate.state = st
			_, err := f.svc.SubmitScan(ctx, "CEL-001", "op-1", "ana@school.mx")
			require.ErrorIs(t, err, errs.ErrScannerDisabled)

			n, err := f.mem.CountForDay(ctx, "ana@school.mx", "2025-03-10")
			require.NoError(t, err)
			require.Zero(t, n)
		})
	}

	t.Run("remote status error", func(t *testing.T) {
		f := newFixture(t, true)
		f.gate.err = errors.New("boom")
		_, err := f.svc.SubmitScan(ctx, "CEL-001", "op-1", "ana@school.mx")
		require.Error(t, err)
	})
}

func TestSubmitScanPublishesNotice(t *testing.T) {
	f := newFixture(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := f.svc.SubmitScan(ctx, "CEL-001", "op-1", "ana@school.mx")
	require.NoError(t, err)

	ch, err := f.q.Consume(ctx)
	require.NoError(t, err)
	select {
	case msg := <-ch:
		require.Equal(t, queue.TypeScan, msg.Type)
		require.JSONEq(t, `{"date":"2025-03-10","readerId":"CEL-001","movement":"Entrada"}`, string(msg.Body))
	case <-time.After(time.Second):
		t.Fatal("no scan notice")
	}
}

func TestConcurrentScansKeepAlternation(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SubmitScan(ctx, "CEL-001", "", "ana@school.mx")
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	events, err := f.svc.Activity(ctx, "ana@school.mx", 0)
	require.NoError(t, err)
	require.Len(t, events, n)
	entradas := 0
	for _, e := range events {
		if e.Movement == model.Entrada {
			entradas++
		}
	}
	require.Equal(t, n/2, entradas)
}

func TestFullLogFiltersBySchool(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	require.NoError(t, f.mem.Upsert(ctx, model.User{Email: "leo@other.mx", Name: "Leo", SchoolID: "ESC-2"}))

	_, err := f.svc.SubmitScan(ctx, "CEL-001", "", "ana@school.mx")
	require.NoError(t, err)
	_, err = f.svc.SubmitScan(ctx, "CEL-001", "", "leo@other.mx")
	require.NoError(t, err)

	all, err := f.svc.FullLog(ctx, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "leo@other.mx", all[0].Identity)

	one, err := f.svc.FullLog(ctx, "ESC-1", 0, -3)
	require.NoError(t, err)
	require.Len(t, one, 1)
	require.Equal(t, "ana@school.mx", one[0].Identity)
}
