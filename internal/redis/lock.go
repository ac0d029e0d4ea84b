package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("queue lock not acquired")
)

// Locker serializes the queue's two contended scopes: token allocation for one
// doctor's day, and the call-next/skip cycle for one doctor.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// TokenScope is the lock key guarding the read-max/write-max+1 token sequence
// for one doctor on one calendar day.
func TokenScope(doctorID uuid.UUID, day time.Time) string {
	return fmt.Sprintf("lock:tokens:%s:%s", doctorID.String(), day.Format("2006-01-02"))
}

// QueueScope is the lock key guarding the single-Active invariant for a doctor.
func QueueScope(doctorID uuid.UUID) string {
	return fmt.Sprintf("lock:queue:%s", doctorID.String())
}

type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker creates a locker backed by per-scope Redis keys.
func NewRedisLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire queue lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release queue lock: %w", err)
	}
	return nil
}
