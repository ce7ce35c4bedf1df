package middleware

import (
	"context"
	"fmt"

	"github.com/go-redis/redis_rate/v10"
	"github.com/one-account/one-account-api/internal/config"
	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter shares rate limit budgets across instances through Redis
// using the GCRA implementation in redis_rate
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
}

// NewRedisClient opens a client for cfg. The connection is lazy; callers
// should Ping before relying on it.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedisRateLimiter creates a limiter backed by client
func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{limiter: redis_rate.NewLimiter(client)}
}

// Allow checks if a request under key should be allowed
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, limit config.RateLimit) (Decision, error) {
	res, err := l.limiter.Allow(ctx, key, redis_rate.Limit{
		Rate:   limit.Requests,
		Burst:  limit.Requests,
		Period: limit.Period(),
	})
	if err != nil {
		return Decision{}, fmt.Errorf("redis rate limit: %w", err)
	}

	d := Decision{
		Allowed:   res.Allowed > 0,
		Limit:     limit.Requests,
		Remaining: res.Remaining,
	}
	if !d.Allowed {
		d.RetryAfter = res.RetryAfter
	}
	return d, nil
}
