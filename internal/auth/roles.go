package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tillpoint/pos-gateway/internal/domain"
	"github.com/tillpoint/pos-gateway/internal/events"
	"github.com/tillpoint/pos-gateway/internal/observability"
)

// ErrAuthorizationDenied is matched by every denied Decision.
var ErrAuthorizationDenied = errors.New("authorization denied")

// DenyReason explains a denied Decision.
type DenyReason string

const (
	DenyNoToken        DenyReason = "no_token"
	DenyMalformedToken DenyReason = "malformed_token"
	DenyExpiredToken   DenyReason = "expired_token"
	DenyRoleNotAllowed DenyReason = "role_not_allowed"
)

// Decision is the outcome of a guard evaluation.
type Decision struct {
	Allowed  bool
	Reason   DenyReason
	Identity domain.Identity
}

// Err returns nil for allowed decisions.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrAuthorizationDenied, d.Reason)
}

// Evaluate decides whether token grants access to a view restricted to allowed roles.
func Evaluate(token string, allowed []domain.Role, now time.Time) Decision {
	if token == "" {
		return Decision{Reason: DenyNoToken}
	}
	claims, err := Decode(token)
	if err != nil {
		return Decision{Reason: DenyMalformedToken}
	}
	identity := domain.Identity{Subject: claims.Subject, Role: claims.Role, RawToken: token}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = *claims.ExpiresAt
	}
	if claims.Expired(now) {
		return Decision{Reason: DenyExpiredToken, Identity: identity}
	}
	for _, role := range allowed {
		if role == claims.Role {
			return Decision{Allowed: true, Identity: identity}
		}
	}
	return Decision{Reason: DenyRoleNotAllowed, Identity: identity}
}

// TokenSource yields the current access token, or "" when there is none.
type TokenSource interface {
	AccessToken(ctx context.Context) string
}

// GuardOptions configures a Guard.
type GuardOptions struct {
	Tokens         TokenSource
	ForbiddenRoute string
	Dispatcher     events.Dispatcher
	Logger         *zap.Logger
	Metrics        *observability.Metrics
	Now            func() time.Time
}

// Guard gates fiber routes on the role of the terminal session.
type Guard struct {
	tokens     TokenSource
	forbidden  string
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// NewGuard builds a guard.
func NewGuard(opts GuardOptions) *Guard {
	g := &Guard{
		tokens:     opts.Tokens,
		forbidden:  opts.ForbiddenRoute,
		dispatcher: opts.Dispatcher,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		now:        opts.Now,
	}
	if g.forbidden == "" {
		g.forbidden = "/forbidden"
	}
	if g.dispatcher == nil {
		g.dispatcher = events.Nop{}
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// RequireRole lets the chain continue only for the allowed roles.
func (g *Guard) RequireRole(allowed ...domain.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		decision := g.check(c, allowed)
		if !decision.Allowed {
			return g.deny(c, decision)
		}
		return c.Next()
	}
}

// Views renders the handler mapped to the caller's role. Roles absent from the map are denied.
func (g *Guard) Views(views map[domain.Role]fiber.Handler) fiber.Handler {
	allowed := make([]domain.Role, 0, len(views))
	for role := range views {
		allowed = append(allowed, role)
	}

	return func(c *fiber.Ctx) error {
		decision := g.check(c, allowed)
		if !decision.Allowed {
			return g.deny(c, decision)
		}
		return views[decision.Identity.Role](c)
	}
}

func (g *Guard) check(c *fiber.Ctx, allowed []domain.Role) Decision {
	token := g.tokens.AccessToken(c.UserContext())
	decision := Evaluate(token, allowed, g.now())
	if decision.Allowed {
		c.Locals(identityKey, decision.Identity)
	}
	return decision
}

func (g *Guard) deny(c *fiber.Ctx, decision Decision) error {
	g.logger.Info("route denied",
		zap.String("path", c.Path()),
		zap.String("role", string(decision.Identity.Role)),
		zap.Error(decision.Err()))

	ev := events.NewEvent(events.EventAccessDenied, decision.Identity, g.now(), map[string]any{
		"path":   c.Path(),
		"reason": string(decision.Reason),
	})
	if err := g.dispatcher.Publish(c.UserContext(), ev); err != nil {
		g.logger.Warn("publish access denied", zap.Error(err))
	}
	g.metrics.RecordRedirect(g.forbidden)
	return c.Redirect(g.forbidden, fiber.StatusFound)
}
