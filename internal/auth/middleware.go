package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Middleware returns a Fiber middleware that validates JWT tokens and sets
// the authenticated claims on the request.
func Middleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "Missing auth token")
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid auth header format")
		}

		claims, err := ParseAccessToken(parts[1], secret)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid or expired token")
		}

		c.Locals("user", claims)
		return c.Next()
	}
}

// RequireAdmin is a Fiber middleware that checks the authenticated user has
// the admin role.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims := GetUser(c)
		if claims == nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Missing auth token")
		}
		for _, r := range claims.Roles {
			if r == "admin" {
				return c.Next()
			}
		}
		return fiber.NewError(fiber.StatusForbidden, "Admin access required")
	}
}

// GetUser extracts the authenticated claims from a Fiber context.
func GetUser(c *fiber.Ctx) *Claims {
	claims, _ := c.Locals("user").(*Claims)
	return claims
}
