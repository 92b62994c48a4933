package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis/v3"
)

// RateLimit limits requests per client IP. storage may be nil, in which
// case counters are kept in memory.
func RateLimit(max int, window time.Duration, storage fiber.Storage) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		Storage:    storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(429).JSON(fiber.Map{"error": "too many requests"})
		},
	})
}

// RedisStorage shares limiter counters between instances. An invalid or
// unreachable url is returned as an error.
func RedisStorage(url string) (storage *redis.Storage, err error) {
	// redis.New pings the server and panics when that fails.
	defer func() {
		if r := recover(); r != nil {
			storage, err = nil, fmt.Errorf("redis storage: %v", r)
		}
	}()
	return redis.New(redis.Config{URL: url}), nil
}
