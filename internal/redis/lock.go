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

// Locker serializes mutating operations per doctor+date queue. Different
// doctors' queues are independent, so their critical sections never
// contend with each other.
type Locker interface {
	WithQueueLock(ctx context.Context, doctorID uuid.UUID, date string, fn func(ctx context.Context) error) error
}

type redisQueueLocker struct {
	client     *redis.Client
	ttl        time.Duration
	retryEvery time.Duration
	retryFor   time.Duration
}

// NewRedisQueueLocker creates a locker using one Redis key per doctor+date.
// Acquisition retries for retryFor so that concurrent receptionist actions
// on the same queue serialize instead of failing outright.
func NewRedisQueueLocker(client *redis.Client, ttl, retryEvery, retryFor time.Duration) Locker {
	return &redisQueueLocker{
		client:     client,
		ttl:        ttl,
		retryEvery: retryEvery,
		retryFor:   retryFor,
	}
}

func (l *redisQueueLocker) WithQueueLock(ctx context.Context, doctorID uuid.UUID, date string, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:queue:%s:%s", doctorID.String(), date)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisQueueLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.retryFor)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire queue lock: %w", err)
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryEvery):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisQueueLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release queue lock: %w", err)
	}
	return nil
}
