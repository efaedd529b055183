package locking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"memberdash/internal/core/domain"
	"memberdash/pkg/retry"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "memberdash:lock:"

var errLockHeld = errors.New("lock held by another instance")

var (
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`)
	renewScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`)
)

// RedisLocker is an advisory lock shared by every instance on one Redis.
// Held locks are renewed at half their TTL until released.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	logger *zap.SugaredLogger
}

func NewRedisLocker(client *redis.Client, ttl, wait time.Duration, logger *zap.SugaredLogger) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, wait: wait, logger: logger}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := keyPrefix + key
	value := uuid.NewString()

	err := retryWithin(ctx, l.wait, func(ctx context.Context) error {
		ok, err := l.client.SetNX(ctx, redisKey, value, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
		}
		if !ok {
			return errLockHeld
		}
		return nil
	})
	if errors.Is(err, errLockHeld) {
		return nil, fmt.Errorf("%s: %w", key, domain.ErrLockNotAcquired)
	}
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	go l.renew(redisKey, value, stop)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)

			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{redisKey}, value).Err(); err != nil && l.logger != nil {
				l.logger.Warnw("Failed to release member lock", "key", key, "error", err)
			}
		})
	}, nil
}

// retryWithin retries try while it reports errLockHeld, giving up once wait
// has elapsed. Running out of wait is reported as errLockHeld; cancellation
// of the parent ctx is returned as is.
func retryWithin(ctx context.Context, wait time.Duration, try func(ctx context.Context) error) error {
	if wait <= 0 {
		return try(ctx)
	}

	attempts := int(wait / (50 * time.Millisecond))
	cfg := retry.Config{
		Enabled:         attempts > 0,
		MaxAttempts:     attempts,
		InitialDelay:    50 * time.Millisecond,
		MaxDelay:        250 * time.Millisecond,
		Multiplier:      1.5,
		Jitter:          true,
		RetryableErrors: []error{errLockHeld},
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	err := retry.Retry(waitCtx, cfg, try)
	if err != nil && ctx.Err() == nil && waitCtx.Err() != nil {
		return fmt.Errorf("%w after %s", errLockHeld, wait)
	}
	return err
}

func (l *RedisLocker) renew(redisKey, value string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			res, err := renewScript.Run(ctx, l.client, []string{redisKey}, value, l.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil || res == 0 {
				if l.logger != nil {
					l.logger.Warnw("Member lock lost", "key", redisKey, "error", err)
				}
				return
			}
		}
	}
}
