package middleware

import (
	"strings"

	"chatgenius-backend/internal/realtime"

	"github.com/gofiber/fiber/v2"
)

// Locals keys set by Auth.
const (
	LocalUserID   = "user_id"
	LocalUsername = "username"
)

// Auth requires a bearer token accepted by verifier.
func Auth(verifier realtime.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(401).JSON(fiber.Map{"error": "missing authorization header"})
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			return c.Status(401).JSON(fiber.Map{"error": "invalid authorization format"})
		}

		claims, err := verifier.Verify(c.UserContext(), tokenString)
		if err != nil {
			return c.Status(401).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		c.Locals(LocalUserID, claims.Identity.String())
		c.Locals(LocalUsername, claims.Username)
		return c.Next()
	}
}

// UserID returns the identity set by Auth.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}

func AdminKey(expectedKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get("X-Admin-Key")
		if key == "" || key != expectedKey {
			return c.Status(403).JSON(fiber.Map{"error": "invalid admin key"})
		}
		return c.Next()
	}
}
