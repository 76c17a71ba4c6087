package security

import (
	"context"
	"fmt"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

// RateLimiter throttles booking mutations per caller. The counter lives
// in Redis so the budget holds across replicas.
type RateLimiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
}

func NewRateLimiter(redisClient *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{redis: redisClient, limit: limit, window: window}
}

// BookingRateLimit wraps a handler with a fixed-window request budget,
// keyed by user id for authenticated requests and client IP otherwise.
func (r *RateLimiter) BookingRateLimit(next func(*core.RequestEvent) error) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if r == nil || r.redis == nil {
			return next(e)
		}

		identity := e.RealIP()
		if e.Auth != nil {
			identity = "user:" + e.Auth.Id
		}

		if !r.Allow(e.Request.Context(), identity) {
			return e.JSON(429, map[string]string{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}

		return next(e)
	}
}

// Allow consumes one request from the caller's current window. A Redis
// failure fails open: throttling is protection, not a correctness rule.
func (r *RateLimiter) Allow(ctx context.Context, identity string) bool {
	key := fmt.Sprintf("ratelimit:book:%s", identity)

	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return true
	}
	if count == 1 {
		r.redis.Expire(ctx, key, r.window)
	}
	return count <= int64(r.limit)
}
