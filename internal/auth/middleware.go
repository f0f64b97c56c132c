package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tillpoint/pos-gateway/internal/domain"
)

const identityKey = "auth_identity"

// IdentitySource exposes the decoded identity of the terminal session.
type IdentitySource interface {
	Current() (domain.Identity, bool)
}

// SessionMiddleware copies the current session identity into the request locals.
type SessionMiddleware struct {
	source IdentitySource
}

// NewSessionMiddleware constructs middleware.
func NewSessionMiddleware(source IdentitySource) *SessionMiddleware {
	return &SessionMiddleware{source: source}
}

// Handle never blocks the request; anonymous callers simply have no identity.
func (m *SessionMiddleware) Handle(c *fiber.Ctx) error {
	if identity, ok := m.source.Current(); ok {
		c.Locals(identityKey, identity)
	}
	return c.Next()
}

// IdentityFromContext retrieves the identity stored by the middleware or the guard.
func IdentityFromContext(c *fiber.Ctx) (domain.Identity, bool) {
	val := c.Locals(identityKey)
	if val == nil {
		return domain.Identity{}, false
	}
	identity, ok := val.(domain.Identity)
	return identity, ok
}
