package middleware

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/studio/pkg/response"
)

// RateLimiter keeps fixed-window per-user counters in Redis
type RateLimiter struct {
	redis *redis.Client
}

// NewRateLimiter creates a limiter. A nil client disables limiting.
func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{redis: redisClient}
}

// Limit creates a rate limiting middleware
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := GetUserID(c)
		if userID == "" || rl.redis == nil || maxRequests <= 0 {
			return c.Next()
		}

		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, userID)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		pipe := rl.redis.TxPipeline()
		incr := pipe.Incr(ctx, key)
		ttlCmd := pipe.TTL(ctx, key)
		if _, err := pipe.Exec(ctx); err != nil {
			// Redis down: allow the request
			log.Printf("[RateLimit] %s check failed: %v", keyPrefix, err)
			return c.Next()
		}
		count := incr.Val()

		// A counter without a TTL never resets
		ttl := ttlCmd.Val()
		if ttl < 0 {
			if err := rl.redis.Expire(ctx, key, window).Err(); err != nil {
				log.Printf("[RateLimit] %s expire failed: %v", keyPrefix, err)
			}
			ttl = window
		}

		if count > int64(maxRequests) {
			retry := int(ttl.Seconds())
			if retry < 1 {
				retry = 1
			}
			c.Set("Retry-After", fmt.Sprintf("%d", retry))
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", maxRequests))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", maxRequests-int(count)))

		return c.Next()
	}
}

// ChatLimit limits agent chat runs per minute
func (rl *RateLimiter) ChatLimit(maxPerMin int) fiber.Handler {
	return rl.Limit("chat", maxPerMin, time.Minute)
}

// GenerateLimit limits paid generations per hour
func (rl *RateLimiter) GenerateLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("generate", maxPerHour, time.Hour)
}
