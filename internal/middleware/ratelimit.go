package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimitMiddleware is a fixed-window counter per route and caller. The
// caller is the authenticated wallet when present, the client IP otherwise.
// Redis failures let the request through.
func RateLimitMiddleware(rdb *redis.Client, limit int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		caller := GetWallet(c)
		if caller == "" {
			caller = c.IP()
		}
		key := fmt.Sprintf("rl:%s:%s", c.Path(), caller)

		ctx := c.UserContext()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			return c.Next() // fail open
		}

		if count == 1 {
			rdb.Expire(ctx, key, window)
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(limit))
		if count > int64(limit) {
			c.Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":      "rate limit exceeded",
				"kind":       "rate_limited",
				"request_id": GetRequestID(c),
			})
		}

		return c.Next()
	}
}
