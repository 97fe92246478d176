package middleware

import (
	"log"
	"os"

	"parley/pkg/auth"

	"github.com/gofiber/fiber/v2"
)

// InternalAuthMiddleware guards the internal actor RPC routes with a service token.
// A nil tokenAuth disables the check outside production.
func InternalAuthMiddleware(tokenAuth *auth.ServiceTokenAuth) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if tokenAuth == nil {
			// CRITICAL: Never allow auth bypass in production
			if os.Getenv("ENVIRONMENT") == "production" {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"error": "Internal RPC authentication not configured",
					"code":  "unavailable",
				})
			}
			c.Locals("caller_service", "unauthenticated")
			return c.Next()
		}

		token, err := auth.ExtractToken(c.Get("Authorization"))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing or invalid authorization token",
				"code":  "unauthorized",
			})
		}

		claims, err := tokenAuth.VerifyToken(token)
		if err != nil {
			log.Printf("❌ [AGENT-RPC] Auth failed: %v", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
				"code":  "unauthorized",
			})
		}

		c.Locals("caller_service", claims.Service)
		return c.Next()
	}
}
