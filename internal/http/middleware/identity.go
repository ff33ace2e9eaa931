package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	// OwnerHeader carries the authenticated account id set by the upstream gateway.
	OwnerHeader = "X-User-ID"
	// OwnerLocalKey is the key under which Identity stores the owner in Fiber locals.
	OwnerLocalKey = "owner"
)

const maxOwnerLen = 256

// Identity requires an authenticated owner on every request it guards.
// Authentication itself happens upstream; requests without the header get 401.
func Identity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		owner := strings.TrimSpace(c.Get(OwnerHeader))
		if owner == "" || len(owner) > maxOwnerLen {
			return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
		}
		c.Locals(OwnerLocalKey, owner)
		return c.Next()
	}
}

// Owner returns the owner stored by Identity.
func Owner(c *fiber.Ctx) string {
	owner, _ := c.Locals(OwnerLocalKey).(string)
	return owner
}
