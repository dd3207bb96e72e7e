package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rental-marketplace/backend/internal/http/dto"
)

// RateLimitMiddleware is a fixed-window counter per request path and caller.
// Callers are keyed by user id when it runs after AuthMiddleware, by IP
// otherwise.
func RateLimitMiddleware(rdb *redis.Client, limit int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := rateLimitKey(c)

		ctx := c.UserContext()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			return c.Next() // fail open
		}

		if count == 1 {
			rdb.Expire(ctx, key, window)
		}

		if count > int64(limit) {
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.ErrorResponse{
				Error:     "rate limit exceeded",
				Code:      "RateLimited",
				RequestID: GetRequestID(c),
			})
		}

		return c.Next()
	}
}

func rateLimitKey(c *fiber.Ctx) string {
	caller := "ip:" + c.IP()
	if id := GetUserID(c); id != uuid.Nil {
		caller = "user:" + id.String()
	}
	return fmt.Sprintf("rl:%s:%s", c.Path(), caller)
}
