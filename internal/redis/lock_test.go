package redisclient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestWithQueueLockRunsCriticalSection(t *testing.T) {
	client := testClient(t)
	locker := NewRedisQueueLocker(client, time.Second, 10*time.Millisecond, 200*time.Millisecond)

	ran := false
	err := locker.WithQueueLock(context.Background(), uuid.New(), "2025-11-03", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestWithQueueLockReleasesAfterRun(t *testing.T) {
	client := testClient(t)
	locker := NewRedisQueueLocker(client, time.Second, 10*time.Millisecond, 200*time.Millisecond)

	doctorID := uuid.New()
	require.NoError(t, locker.WithQueueLock(context.Background(), doctorID, "2025-11-03", func(ctx context.Context) error {
		return nil
	}))

	key := fmt.Sprintf("lock:queue:%s:%s", doctorID.String(), "2025-11-03")
	exists, err := client.Exists(context.Background(), key).Result()
	require.NoError(t, err)
	assert.Zero(t, exists, "lock key must be deleted on release")
}

func TestWithQueueLockContendedKeyTimesOut(t *testing.T) {
	client := testClient(t)
	locker := NewRedisQueueLocker(client, time.Minute, 10*time.Millisecond, 100*time.Millisecond)

	doctorID := uuid.New()
	key := fmt.Sprintf("lock:queue:%s:%s", doctorID.String(), "2025-11-03")
	require.NoError(t, client.Set(context.Background(), key, "held-elsewhere", time.Minute).Err())

	err := locker.WithQueueLock(context.Background(), doctorID, "2025-11-03", func(ctx context.Context) error {
		t.Fatal("critical section must not run while the lock is held")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
}

func TestWithQueueLockIndependentQueuesDoNotContend(t *testing.T) {
	client := testClient(t)
	locker := NewRedisQueueLocker(client, time.Minute, 10*time.Millisecond, 100*time.Millisecond)

	busy := uuid.New()
	key := fmt.Sprintf("lock:queue:%s:%s", busy.String(), "2025-11-03")
	require.NoError(t, client.Set(context.Background(), key, "held-elsewhere", time.Minute).Err())

	// Another doctor's queue acquires immediately.
	err := locker.WithQueueLock(context.Background(), uuid.New(), "2025-11-03", func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	// Same doctor, different day, also acquires.
	err = locker.WithQueueLock(context.Background(), busy, "2025-11-04", func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
}

func TestWithQueueLockSerializesSameKey(t *testing.T) {
	client := testClient(t)
	locker := NewRedisQueueLocker(client, time.Second, 5*time.Millisecond, 2*time.Second)

	doctorID := uuid.New()
	var inside int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithQueueLock(context.Background(), doctorID, "2025-11-03", func(ctx context.Context) error {
				if atomic.AddInt32(&inside, 1) != 1 {
					t.Error("two critical sections ran concurrently for the same queue")
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()
}
