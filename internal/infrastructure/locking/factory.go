package locking

import (
	"time"

	"memberdash/internal/core/ports"
	"memberdash/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewLocker picks the lock backend. A redis lock without a client falls
// back to the in-process locker. LockNone returns nil.
func NewLocker(kind string, client *redis.Client, ttl, wait time.Duration, logger *zap.SugaredLogger) ports.MemberLocker {
	switch kind {
	case config.LockRedis:
		if client != nil {
			logger.Infow("Using redis member locks", "ttl", ttl, "wait", wait)
			return NewRedisLocker(client, ttl, wait, logger)
		}
		logger.Warnw("Redis unavailable, falling back to in-memory member locks")
		return NewMemoryLocker(wait)
	case config.LockMemory:
		logger.Info("Using in-memory member locks")
		return NewMemoryLocker(wait)
	default:
		return nil
	}
}
