package monitoring

import (
	"context"
	"time"

	"memberdash/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client *redis.Client, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}, timeout)
}

// AddBackendCheck pings the auth and database backend.
func (h *HealthChecker) AddBackendCheck(name string, clients ports.ClientFactory, timeout time.Duration) {
	h.AddCheck(name, clients.HealthCheck, timeout)
}
