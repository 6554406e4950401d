// Package app wires configuration into concrete stores, queues and loggers
// shared by the binaries.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"qrgate/internal/config"
	"qrgate/internal/migrate"
	"qrgate/internal/queue"
	"qrgate/internal/store"
	"qrgate/internal/store/postgres"
	"qrgate/internal/store/redislock"
)

// NewLogger builds the process logger: development output for APP_ENV=dev,
// JSON otherwise.
func NewLogger(cfg config.App) (*zap.Logger, error) {
	if cfg.Env == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Backends are the opened persistence and messaging backends.
type Backends struct {
	Users    store.UserRepository
	Events   store.EventRepository
	Locks    store.LockRepository
	Settings store.SettingsRepository
	Counters store.CounterRepository
	Queue    queue.Queue
	// Health lists the dependencies reported on /healthz.
	Health map[string]store.Pinger

	closers []func()
}

// Close releases connections in reverse opening order.
func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// Open connects the backends selected by cfg. Postgres migrations run before
// the pool is used.
func Open(ctx context.Context, cfg config.App, log *zap.Logger) (*Backends, error) {
	b := &Backends{Health: map[string]store.Pinger{}}

	switch cfg.StoreBackend {
	case "memory":
		mem := store.NewMemory()
		b.Users, b.Events, b.Locks, b.Settings, b.Counters = mem, mem, mem, mem, mem
		b.Health["store"] = mem
		log.Warn("using in-memory store; data is lost on restart")
	case "postgres":
		if err := migrate.Up(ctx, cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("migrate up: %w", err)
		}
		db, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, db.Close)
		settings := postgres.NewSettingsRepo(db)
		b.Users = postgres.NewUserRepo(db)
		b.Events = postgres.NewEventRepo(db)
		b.Locks = postgres.NewLockRepo(db)
		b.Settings, b.Counters = settings, settings
		b.Health["db"] = db
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	var rdb *store.Redis
	redisConn := func() *store.Redis {
		if rdb == nil {
			rdb = store.NewRedis(cfg.RedisAddr)
			b.closers = append(b.closers, func() { _ = rdb.Close() })
			b.Health["redis"] = rdb
		}
		return rdb
	}

	switch cfg.LockBackend {
	case "store":
	case "redis":
		b.Locks = redislock.New(redisConn().Client)
	default:
		b.Close()
		return nil, fmt.Errorf("unknown LOCK_BACKEND %q", cfg.LockBackend)
	}

	switch cfg.QueueBackend {
	case "memory":
		b.Queue = queue.NewInMemory(256)
	case "redis":
		b.Queue = queue.NewRedisQueue(redisConn().Client, cfg.QueueKey, log)
	default:
		b.Close()
		return nil, fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}

	log.Info("backends ready",
		zap.String("store", cfg.StoreBackend),
		zap.String("locks", cfg.LockBackend),
		zap.String("queue", cfg.QueueBackend),
	)
	return b, nil
}
