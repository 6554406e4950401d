// Package redislock keeps reader leases in Redis so that several API replicas
// share one lock table. Expiry is delegated to Redis key TTLs.
package redislock

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"qrgate/internal/errs"
	"qrgate/internal/model"
	"qrgate/internal/store"
)

const (
	keyPrefix = "lector:lock:"
	indexKey  = "lector:locks"
)

// KEYS[1]=lock key, KEYS[2]=index; ARGV: operator, value, ttl ms, reader id.
var acquireScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local owner = string.match(cur, '^(.-)|')
  if owner ~= ARGV[1] then return 0 end
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
redis.call('SADD', KEYS[2], ARGV[4])
return 1
`)

// KEYS[1]=lock key; ARGV: operator, ttl ms. Returns the stored value or nil.
var refreshScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then return false end
local owner = string.match(cur, '^(.-)|')
if owner ~= ARGV[1] then return false end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return cur
`)

// Store implements store.LockRepository on Redis.
type Store struct {
	client redis.UniversalClient
}

var _ store.LockRepository = (*Store)(nil)

// New builds a lock store on an existing client.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// Acquire sets the lease when it is free, expired, or already ours.
func (s *Store) Acquire(ctx context.Context, readerID, operatorID string, now time.Time, ttl time.Duration) (model.ReaderLock, error) {
	if strings.Contains(operatorID, "|") {
		return model.ReaderLock{}, errs.ErrInvalidArgument
	}
	ok, err := acquireScript.Run(ctx, s.client,
		[]string{keyPrefix + readerID, indexKey},
		operatorID, formatValue(operatorID, now), ttl.Milliseconds(), readerID,
	).Int()
	if err != nil {
		return model.ReaderLock{}, err
	}
	if ok == 0 {
		return model.ReaderLock{}, errs.ErrLockConflict
	}
	return model.ReaderLock{
		ReaderID:  readerID,
		IsLocked:  true,
		LockedBy:  operatorID,
		LockedAt:  now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// Refresh extends the key TTL when operatorID owns it.
func (s *Store) Refresh(ctx context.Context, readerID, operatorID string, now time.Time, ttl time.Duration) (model.ReaderLock, error) {
	val, err := refreshScript.Run(ctx, s.client, []string{keyPrefix + readerID}, operatorID, ttl.Milliseconds()).Text()
	if errors.Is(err, redis.Nil) {
		return model.ReaderLock{}, errs.ErrLockNotHeld
	}
	if err != nil {
		return model.ReaderLock{}, err
	}
	owner, lockedAt := parseValue(val)
	return model.ReaderLock{
		ReaderID:  readerID,
		IsLocked:  true,
		LockedBy:  owner,
		LockedAt:  lockedAt,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// Release deletes the key; deleting a missing key is fine.
func (s *Store) Release(ctx context.Context, readerID string) error {
	return s.client.Del(ctx, keyPrefix+readerID).Err()
}

// GetLock reads the value and remaining TTL of one reader.
func (s *Store) GetLock(ctx context.Context, readerID string) (model.ReaderLock, error) {
	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, keyPrefix+readerID)
	ttlCmd := pipe.PTTL(ctx, keyPrefix+readerID)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return model.ReaderLock{}, err
	}
	val, err := getCmd.Result()
	if errors.Is(err, redis.Nil) {
		return model.ReaderLock{ReaderID: readerID}, nil
	}
	if err != nil {
		return model.ReaderLock{}, err
	}
	owner, lockedAt := parseValue(val)
	l := model.ReaderLock{ReaderID: readerID, IsLocked: true, LockedBy: owner, LockedAt: lockedAt}
	if ttl := ttlCmd.Val(); ttl > 0 {
		l.ExpiresAt = time.Now().Add(ttl)
	}
	return l, nil
}

// ListLocks returns every reader ever leased through this store.
func (s *Store) ListLocks(ctx context.Context) ([]model.ReaderLock, error) {
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.ReaderLock, 0, len(ids))
	for _, id := range ids {
		l, err := s.GetLock(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// formatValue stores the lease as "operator|unixms".
func formatValue(operatorID string, lockedAt time.Time) string {
	return operatorID + "|" + strconv.FormatInt(lockedAt.UnixMilli(), 10)
}

func parseValue(s string) (string, time.Time) {
	owner, ms, ok := strings.Cut(s, "|")
	if !ok {
		return s, time.Time{}
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return owner, time.Time{}
	}
	return owner, time.UnixMilli(n).UTC()
}
