package http

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/tillpoint/pos-gateway/internal/api/http/handlers"
	"github.com/tillpoint/pos-gateway/internal/auth"
	"github.com/tillpoint/pos-gateway/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Session        *handlers.SessionHandler
	Views          *handlers.ViewsHandler
	Proxy          *handlers.ProxyHandler
	Guard          *auth.Guard
	SessionMW      *auth.SessionMiddleware
	Metrics        http.Handler
	LoginRoute     string
	ForbiddenRoute string
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics))
	}

	app.Get(cfg.LoginRoute, handlers.Placeholder("login"))
	app.Get(cfg.ForbiddenRoute, handlers.Placeholder("forbidden"))

	sessionGroup := app.Group("/session", cfg.SessionMW.Handle)
	sessionGroup.Get("", cfg.Session.Me)
	sessionGroup.Post("/login", cfg.Session.Login)
	sessionGroup.Post("/logout", cfg.Session.Logout)

	views := app.Group("/views")
	views.Get("/dashboard", cfg.Guard.Views(cfg.Views.Dashboards()))
	views.Get("/inventory", cfg.Guard.RequireRole(domain.RoleAdmin, domain.RolePOS), cfg.Views.Inventory)
	views.Get("/audit", cfg.Guard.RequireRole(domain.RoleAdmin), cfg.Views.Audit)

	app.All("/api/*", cfg.Proxy.Forward)
}
