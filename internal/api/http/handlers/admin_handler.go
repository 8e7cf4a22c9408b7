package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/servicedesk/internal/api/dto"
	"github.com/spec-kit/servicedesk/internal/service"
	apperrors "github.com/spec-kit/servicedesk/pkg/util/errorutil"
)

// AdminHandler serves the admin portal.
type AdminHandler struct {
	tenants     *service.TenantService
	requests    *service.RequestService
	assignments *service.AssignmentService
}

// NewAdminHandler constructs handler.
func NewAdminHandler(tenants *service.TenantService, requests *service.RequestService, assignments *service.AssignmentService) *AdminHandler {
	return &AdminHandler{tenants: tenants, requests: requests, assignments: assignments}
}

// GetTenant GET /api/admin/tenant.
func (h *AdminHandler) GetTenant(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	tenant, err := h.tenants.Get(c.UserContext(), principal.TenantID())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": tenantResponse(tenant)})
}

// UpdateTenant PATCH /api/admin/tenant.
func (h *AdminHandler) UpdateTenant(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.TenantUpdateRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	tenant, err := h.tenants.Update(c.UserContext(), principal.TenantID(), service.TenantUpdateInput{
		Name:          req.Name,
		DefaultLocale: req.DefaultLocale,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": tenantResponse(tenant)})
}

// CreateUser POST /api/admin/users.
func (h *AdminHandler) CreateUser(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateUserRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	user, err := h.tenants.CreateUser(c.UserContext(), principal.User, service.UserCreateInput{
		Role:     req.Role,
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Locale:   req.Locale,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": userResponse(user)})
}

// ListUsers GET /api/admin/users?role=PARTNER&active=true.
func (h *AdminHandler) ListUsers(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	roles, err := parseRoles(c.Query("role"))
	if err != nil {
		return err
	}
	active, err := parseOptionalBool(c.Query("active"))
	if err != nil {
		return err
	}
	limit, offset := parsePage(c)
	users, err := h.tenants.ListUsers(c.UserContext(), principal.User, roles, active, limit, offset)
	if err != nil {
		return err
	}
	items := make([]dto.UserResponse, 0, len(users))
	for i := range users {
		items = append(items, userResponse(&users[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// ActivateUser POST /api/admin/users/:id/activate.
func (h *AdminHandler) ActivateUser(c *fiber.Ctx) error {
	return h.setUserActive(c, true)
}

// DeactivateUser POST /api/admin/users/:id/deactivate.
func (h *AdminHandler) DeactivateUser(c *fiber.Ctx) error {
	return h.setUserActive(c, false)
}

func (h *AdminHandler) setUserActive(c *fiber.Ctx, active bool) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "user")
	if err != nil {
		return err
	}
	user, err := h.tenants.SetUserActive(c.UserContext(), principal.User, id, active)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": userResponse(user)})
}

// ListRequests GET /api/admin/requests.
func (h *AdminHandler) ListRequests(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	statuses, err := parseStatuses(c.Query("status"))
	if err != nil {
		return err
	}
	priorities, err := parsePriorities(c.Query("priority"))
	if err != nil {
		return err
	}
	partnerID := c.Query("partner_id")
	if partnerID != "" {
		if err := validUUID("partner_id", partnerID); err != nil {
			return err
		}
	}
	limit, offset := parsePage(c)
	items, err := h.requests.ListForAdmin(c.UserContext(), principal.User, service.RequestListFilter{
		Statuses:   statuses,
		Priorities: priorities,
		PartnerID:  partnerID,
		Search:     c.Query("q"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestList(items)})
}

// GetRequest GET /api/admin/requests/:id.
func (h *AdminHandler) GetRequest(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "request")
	if err != nil {
		return err
	}
	detail, err := h.requests.GetForAdmin(c.UserContext(), principal.User, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestDetail(detail.Request, detail.History)})
}

// AssignRequest POST /api/admin/requests/:id/assign.
func (h *AdminHandler) AssignRequest(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "request")
	if err != nil {
		return err
	}
	var req dto.AssignRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.PartnerID == "" {
		return apperrors.NewValidationError("partner_id required", nil)
	}
	if err := validUUID("partner_id", req.PartnerID); err != nil {
		return err
	}
	updated, err := h.assignments.Assign(c.UserContext(), principal.User, id, req.PartnerID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestResponse(updated)})
}

// CancelRequest POST /api/admin/requests/:id/cancel.
func (h *AdminHandler) CancelRequest(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "request")
	if err != nil {
		return err
	}
	var req dto.ReasonRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return err
		}
	}
	updated, err := h.requests.CancelByAdmin(c.UserContext(), principal.User, id, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestResponse(updated)})
}

// CloseRequest POST /api/admin/requests/:id/close.
func (h *AdminHandler) CloseRequest(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "request")
	if err != nil {
		return err
	}
	updated, err := h.requests.CloseByAdmin(c.UserContext(), principal.User, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestResponse(updated)})
}
