package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/tillpoint/pos-gateway/internal/api/dto"
	"github.com/tillpoint/pos-gateway/internal/apiclient"
	"github.com/tillpoint/pos-gateway/internal/auth"
	"github.com/tillpoint/pos-gateway/internal/domain"
	"github.com/tillpoint/pos-gateway/internal/session"
	apperrors "github.com/tillpoint/pos-gateway/pkg/util"
)

// SessionService is the part of the session manager the HTTP surface drives.
type SessionService interface {
	SignIn(ctx context.Context, creds domain.Credentials) (domain.Identity, error)
	Logout(ctx context.Context) error
	State() domain.SessionState
	Profile(ctx context.Context) (domain.UserProfile, error)
}

// SessionHandler exposes terminal sign-in, sign-out and session inspection.
type SessionHandler struct {
	sessions SessionService
	logger   *zap.Logger
}

// NewSessionHandler constructs handler.
func NewSessionHandler(sessions SessionService, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{sessions: sessions, logger: logger}
}

// Login handles POST /session/login.
func (h *SessionHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}

	identity, err := h.sessions.SignIn(c.UserContext(), domain.Credentials{Email: req.Email, Password: req.Password})
	if err != nil {
		return signInError(err)
	}
	return h.respond(c, identity, true)
}

// Logout handles POST /session/logout.
func (h *SessionHandler) Logout(c *fiber.Ctx) error {
	if err := h.sessions.Logout(c.UserContext()); err != nil {
		return apperrors.NewInternalError(err)
	}
	return h.respond(c, domain.Identity{}, false)
}

// Me handles GET /session. The identity comes from the session middleware.
func (h *SessionHandler) Me(c *fiber.Ctx) error {
	identity, ok := auth.IdentityFromContext(c)
	return h.respond(c, identity, ok)
}

func (h *SessionHandler) respond(c *fiber.Ctx, identity domain.Identity, ok bool) error {
	var profile domain.UserProfile
	if ok {
		p, err := h.sessions.Profile(c.UserContext())
		if err != nil {
			h.logger.Warn("read cached profile", zap.Error(err))
		}
		profile = p
	}
	return c.JSON(fiber.Map{
		"data": dto.NewSessionResponse(h.sessions.State(), identity, ok, profile),
	})
}

func signInError(err error) error {
	if errors.Is(err, session.ErrTokenRejected) {
		return apperrors.NewUnauthorized("issued token was not usable", err)
	}
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
		return apperrors.NewUnauthorized("invalid credentials", err)
	}
	return apperrors.NewUpstreamError(err)
}

// Placeholder renders the fixed login and forbidden routes for the terminal shell.
func Placeholder(view string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"data": fiber.Map{"view": view}})
	}
}
