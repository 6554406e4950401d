package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"qrgate/internal/config"
	"qrgate/internal/queue"
	"qrgate/internal/store"
)

func TestOpenMemory(t *testing.T) {
	cfg := config.App{StoreBackend: "memory", LockBackend: "store", QueueBackend: "memory"}
	b, err := Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer b.Close()

	require.IsType(t, &store.Memory{}, b.Users)
	require.IsType(t, &queue.InMemory{}, b.Queue)
	require.Contains(t, b.Health, "store")
	require.NotContains(t, b.Health, "redis")
}

func TestOpenRejectsUnknownBackends(t *testing.T) {
	ctx := context.Background()
	for _, cfg := range []config.App{
		{StoreBackend: "sqlite", LockBackend: "store", QueueBackend: "memory"},
		{StoreBackend: "memory", LockBackend: "etcd", QueueBackend: "memory"},
		{StoreBackend: "memory", LockBackend: "store", QueueBackend: "kafka"},
	} {
		_, err := Open(ctx, cfg, zap.NewNop())
		require.Error(t, err)
	}
}
