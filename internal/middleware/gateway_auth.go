package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lilseedabe/FlickMV-sub003/pkg/response"
)

// GatewayAuthMiddleware reads user identity from X-User-* headers set by the
// edge proxy's ForwardAuth and populates Fiber context locals. The service
// itself never verifies tokens.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-Id")
		if userID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}

		c.Locals("userId", userID)
		c.Locals("email", c.Get("X-User-Email"))
		c.Locals("name", c.Get("X-User-Name"))

		return c.Next()
	}
}

// DevAuthMiddleware is the local-development fallback when no edge proxy is
// in front: the X-User-Id header is honored if present, otherwise requests
// run as a fixed local user.
func DevAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-Id")
		if userID == "" {
			userID = "local-dev"
		}
		c.Locals("userId", userID)
		return c.Next()
	}
}

// GetUserID returns the authenticated user's id from context locals.
func GetUserID(c *fiber.Ctx) string {
	if v, ok := c.Locals("userId").(string); ok {
		return v
	}
	return ""
}
