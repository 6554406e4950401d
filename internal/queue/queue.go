// Package queue carries scan notifications from the API to the stats consumer.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// TypeScan marks a message published after every recorded attendance event.
const TypeScan = "scan"

// ErrFull is returned by the in-memory queue instead of blocking a scan.
var ErrFull = errors.New("queue full")

// Message represents work to be processed.
type Message struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// ScanNotice is the body of a TypeScan message.
type ScanNotice struct {
	Date     string `json:"date"`
	ReaderID string `json:"readerId"`
	Movement string `json:"movement"`
}

// NewScanMessage wraps a notice into a message.
func NewScanMessage(n ScanNotice) (Message, error) {
	body, err := json.Marshal(n)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: TypeScan, Body: body}, nil
}

// ScanNotice decodes the body of a TypeScan message.
func (m Message) ScanNotice() (ScanNotice, error) {
	var n ScanNotice
	if m.Type != TypeScan {
		return n, fmt.Errorf("message type %q is not %q", m.Type, TypeScan)
	}
	if err := json.Unmarshal(m.Body, &n); err != nil {
		return n, fmt.Errorf("decode scan notice: %w", err)
	}
	return n, nil
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
}

// InMemory is a channel-backed queue used when API and consumer share a process.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size)}
}

// Publish enqueues a message, failing with ErrFull rather than waiting for
// the consumer.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		return ErrFull
	}
}

// Consume returns a channel for workers.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue implements a Redis list-backed queue.
type RedisQueue struct {
	client redis.UniversalClient
	key    string
	log    *zap.Logger
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics.
func NewRedisQueue(client redis.UniversalClient, key string, log *zap.Logger) *RedisQueue {
	if key == "" {
		key = "qrgate:scans"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisQueue{client: client, key: key, log: log}
}

// Publish enqueues a message.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, raw).Err()
}

// Consume streams messages using BRPOP.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !errors.Is(err, redis.Nil) {
					q.log.Warn("brpop failed", zap.Error(err))
					select {
					case <-time.After(time.Second):
					case <-ctx.Done():
						return
					}
				}
				continue
			}
			if len(res) != 2 {
				continue
			}
			var msg Message
			if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
				q.log.Warn("dropping malformed message", zap.Error(err))
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
