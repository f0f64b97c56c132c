package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/tillpoint/pos-gateway/internal/api/dto"
	"github.com/tillpoint/pos-gateway/internal/auth"
	"github.com/tillpoint/pos-gateway/internal/domain"
)

// AuditSource lists recent session audit rows.
type AuditSource interface {
	Recent(ctx context.Context, limit int) ([]domain.AuditEntry, error)
}

// ViewsHandler renders the role-gated terminal views. Access control happens in the guard;
// these handlers only run for permitted roles.
type ViewsHandler struct {
	audit AuditSource
}

// NewViewsHandler constructs handler.
func NewViewsHandler(audit AuditSource) *ViewsHandler {
	return &ViewsHandler{audit: audit}
}

// Dashboards maps each role to its dashboard.
func (h *ViewsHandler) Dashboards() map[domain.Role]fiber.Handler {
	return map[domain.Role]fiber.Handler{
		domain.RoleAdmin:    view("dashboard.admin", "sales", "inventory", "staff", "audit"),
		domain.RolePOS:      view("dashboard.pos", "checkout", "orders", "inventory"),
		domain.RoleUser:     view("dashboard.user", "orders"),
		domain.RoleCustomer: view("dashboard.customer", "orders", "loyalty"),
	}
}

// Inventory handles GET /views/inventory.
func (h *ViewsHandler) Inventory(c *fiber.Ctx) error {
	return view("inventory", "products", "stock")(c)
}

// Audit handles GET /views/audit.
func (h *ViewsHandler) Audit(c *fiber.Ctx) error {
	entries, err := h.audit.Recent(c.UserContext(), c.QueryInt("limit", 0))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAuditEntryResponses(entries)})
}

func view(name string, panels ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, _ := auth.IdentityFromContext(c)
		return c.JSON(fiber.Map{"data": dto.ViewResponse{
			View:    name,
			Role:    identity.Role,
			Subject: identity.Subject,
			Panels:  panels,
		}})
	}
}
