package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"qrgate/internal/queue"
	"qrgate/internal/store"
)

func TestRecordCountsDayAndReader(t *testing.T) {
	c := New(store.NewMemory(), nil)
	ctx := context.Background()

	require.NoError(t, c.Record(ctx, queue.ScanNotice{Date: "2025-03-10", ReaderID: "CEL-001"}))
	require.NoError(t, c.Record(ctx, queue.ScanNotice{Date: "2025-03-10", ReaderID: "CEL-002"}))
	require.NoError(t, c.Record(ctx, queue.ScanNotice{Date: "2025-03-11", ReaderID: "CEL-001"}))

	n, err := c.Day(ctx, "2025-03-10")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	n, err = c.Reader(ctx, "2025-03-10", "CEL-001")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = c.Day(ctx, "2025-03-12")
	require.NoError(t, err)
	require.Zero(t, n)

	require.Error(t, c.Record(ctx, queue.ScanNotice{}))
}

func TestHandleSkipsForeignMessages(t *testing.T) {
	c := New(store.NewMemory(), nil)
	ctx := context.Background()

	c.Handle(ctx, queue.Message{Type: "checkin", Body: []byte(`{"date":"2025-03-10"}`)})
	c.Handle(ctx, queue.Message{Type: queue.TypeScan, Body: []byte(`not json`)})

	n, err := c.Day(ctx, "2025-03-10")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRunConsumesQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := New(store.NewMemory(), nil)
	q := queue.NewInMemory(8)
	for i := 0; i < 3; i++ {
		msg, err := queue.NewScanMessage(queue.ScanNotice{Date: "2025-03-10", ReaderID: "CEL-003"})
		require.NoError(t, err)
		require.NoError(t, q.Publish(ctx, msg))
	}

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, q) }()

	require.Eventually(t, func() bool {
		n, _ := c.Day(context.Background(), "2025-03-10")
		return n == 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
