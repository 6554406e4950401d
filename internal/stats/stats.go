// Package stats keeps the daily scan counters shown on the remote status.
package stats

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"qrgate/internal/queue"
	"qrgate/internal/store"
)

// Counters reads and writes per-day scan totals.
type Counters struct {
	repo store.CounterRepository
	log  *zap.Logger
}

// New builds counters over repo.
func New(repo store.CounterRepository, log *zap.Logger) *Counters {
	if log == nil {
		log = zap.NewNop()
	}
	return &Counters{repo: repo, log: log}
}

func dayKey(date string) string              { return "scans:" + date }
func readerKey(date, readerID string) string { return "scans:" + date + ":" + readerID }

// Record counts one scan for the day and for the reader.
func (c *Counters) Record(ctx context.Context, n queue.ScanNotice) error {
	if n.Date == "" {
		return fmt.Errorf("scan notice without date")
	}
	if _, err := c.repo.Incr(ctx, dayKey(n.Date), 1); err != nil {
		return fmt.Errorf("incr day counter: %w", err)
	}
	if n.ReaderID != "" {
		if _, err := c.repo.Incr(ctx, readerKey(n.Date, n.ReaderID), 1); err != nil {
			return fmt.Errorf("incr reader counter: %w", err)
		}
	}
	return nil
}

// Day returns the total scans recorded on date (YYYY-MM-DD).
func (c *Counters) Day(ctx context.Context, date string) (int64, error) {
	return c.repo.Count(ctx, dayKey(date))
}

// Reader returns the scans recorded by one reader on date.
func (c *Counters) Reader(ctx context.Context, date, readerID string) (int64, error) {
	return c.repo.Count(ctx, readerKey(date, readerID))
}

// Run consumes scan messages until the queue channel closes.
func (c *Counters) Run(ctx context.Context, q queue.Queue) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume init: %w", err)
	}
	c.log.Info("stats consumer started")
	for msg := range messages {
		c.Handle(ctx, msg)
	}
	c.log.Info("stats consumer stopped")
	return nil
}

// Handle applies one message; unknown types and bad bodies are logged and skipped.
func (c *Counters) Handle(ctx context.Context, msg queue.Message) {
	if msg.Type != queue.TypeScan {
		return
	}
	n, err := msg.ScanNotice()
	if err != nil {
		c.log.Warn("bad scan notice", zap.Error(err))
		return
	}
	if err := c.Record(ctx, n); err != nil {
		c.log.Error("record scan", zap.Error(err), zap.String("date", n.Date))
	}
}
