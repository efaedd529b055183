package locking

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"memberdash/internal/core/domain"
	"memberdash/pkg/config"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryLocker_SerializesSameKey(t *testing.T) {
	locker := NewMemoryLocker(0)
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(ctx, "member-1")
			if !assert.NoError(t, err) {
				return
			}
			defer release()

			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, maxInside)
	assert.Zero(t, locker.Len())
}

func TestMemoryLocker_DifferentKeysDoNotBlock(t *testing.T) {
	locker := NewMemoryLocker(50 * time.Millisecond)
	ctx := context.Background()

	release1, err := locker.Acquire(ctx, "a")
	require.NoError(t, err)
	defer release1()

	release2, err := locker.Acquire(ctx, "b")
	require.NoError(t, err)
	release2()
}

func TestMemoryLocker_WaitTimeout(t *testing.T) {
	locker := NewMemoryLocker(20 * time.Millisecond)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "a")
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrLockNotAcquired)

	release()
	release() // second call is a no-op

	release, err = locker.Acquire(ctx, "a")
	require.NoError(t, err)
	release()
	assert.Zero(t, locker.Len())
}

func TestMemoryLocker_ContextCancelled(t *testing.T) {
	locker := NewMemoryLocker(0)

	release, err := locker.Acquire(context.Background(), "a")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewLocker_Selection(t *testing.T) {
	logger := zap.NewNop().Sugar()

	assert.Nil(t, NewLocker(config.LockNone, nil, time.Second, time.Second, logger))
	assert.IsType(t, &MemoryLocker{}, NewLocker(config.LockMemory, nil, time.Second, time.Second, logger))
	assert.IsType(t, &MemoryLocker{}, NewLocker(config.LockRedis, nil, time.Second, time.Second, logger))
}

func TestRetryWithin_StopsAtWait(t *testing.T) {
	var calls atomic.Int32
	wait := 300 * time.Millisecond

	start := time.Now()
	err := retryWithin(context.Background(), wait, func(ctx context.Context) error {
		calls.Add(1)
		return errLockHeld
	})
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, errLockHeld)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
	assert.Less(t, elapsed, wait+150*time.Millisecond)
}

func TestRetryWithin_SlowTryCutAtWait(t *testing.T) {
	wait := 100 * time.Millisecond

	start := time.Now()
	err := retryWithin(context.Background(), wait, func(ctx context.Context) error {
		<-ctx.Done()
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, ctx.Err())
	})

	assert.ErrorIs(t, err, errLockHeld)
	assert.Less(t, time.Since(start), wait+150*time.Millisecond)
}

func TestRetryWithin_Outcomes(t *testing.T) {
	err := retryWithin(context.Background(), time.Second, func(ctx context.Context) error { return nil })
	assert.NoError(t, err)

	down := errors.New("connection refused")
	err = retryWithin(context.Background(), time.Second, func(ctx context.Context) error { return down })
	assert.ErrorIs(t, err, down)
	assert.NotErrorIs(t, err, errLockHeld)

	err = retryWithin(context.Background(), 0, func(ctx context.Context) error {
		require.NoError(t, ctx.Err())
		return errLockHeld
	})
	assert.ErrorIs(t, err, errLockHeld)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = retryWithin(ctx, time.Second, func(ctx context.Context) error { return errLockHeld })
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, errLockHeld)
}

// Runs against a real server when MEMBERDASH_TEST_REDIS is set.
func TestRedisLocker_Exclusive(t *testing.T) {
	addr := os.Getenv("MEMBERDASH_TEST_REDIS")
	if addr == "" {
		t.Skip("MEMBERDASH_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewRedisLocker(client, time.Second, 200*time.Millisecond, zap.NewNop().Sugar())
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "test-member")
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "test-member")
	assert.ErrorIs(t, err, domain.ErrLockNotAcquired)

	release()
	release, err = locker.Acquire(ctx, "test-member")
	require.NoError(t, err)
	release()
}
