// Package health provides readiness checks for the service's dependencies.
package health

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisChecker pings the Redis instance backing the shared rate limiter.
type RedisChecker struct {
	client redis.UniversalClient
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{client: client}
}

// HealthCheck sends PING.
func (r *RedisChecker) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
