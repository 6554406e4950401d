// Command worker consumes scan notifications from the queue and keeps the
// daily scan counters.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"qrgate/internal/app"
	"qrgate/internal/config"
	"qrgate/internal/stats"
)

func main() {
	cfg := config.Load()

	logger, err := app.NewLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	for _, w := range cfg.Warnings {
		logger.Warn("config", zap.String("problem", w))
	}

	if cfg.QueueBackend != "redis" {
		logger.Fatal("worker needs QUEUE_BACKEND=redis; the memory queue is consumed inside the api process")
	}
	if cfg.StoreBackend == "memory" {
		logger.Warn("counters kept in worker memory are not visible to the api")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open backends", zap.Error(err))
	}
	defer backends.Close()

	counters := stats.New(backends.Counters, logger.Named("stats"))
	if err := counters.Run(ctx, backends.Queue); err != nil {
		logger.Error("worker stopped", zap.Error(err))
		return
	}
	logger.Info("worker stopped")
}
