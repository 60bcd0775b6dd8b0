package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/gymledger/internal/utils"
)

const identityContextKey = "currentIdentity"

// AuthMiddleware validates JWT tokens and loads the caller identity into context.
func AuthMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid authorization header")
		}

		identity, err := utils.ParseToken(secret, parts[1])
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}

		c.Locals(identityContextKey, identity)
		return c.Next()
	}
}

// RequireRoles rejects callers whose role is not in roles. It must run after
// AuthMiddleware.
func RequireRoles(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, ok := GetIdentity(c)
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "not authenticated")
		}
		for _, role := range roles {
			if identity.Role == role {
				return c.Next()
			}
		}
		return fiber.NewError(fiber.StatusForbidden, "insufficient role")
	}
}

// GetIdentity extracts the authenticated caller from context.
func GetIdentity(c *fiber.Ctx) (utils.Identity, bool) {
	identity, ok := c.Locals(identityContextKey).(utils.Identity)
	return identity, ok
}
