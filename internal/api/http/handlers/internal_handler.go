package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/servicedesk/internal/api/dto"
	"github.com/spec-kit/servicedesk/internal/service"
)

// InternalHandler serves routes guarded by the shared internal secret.
type InternalHandler struct {
	timeouts *service.TimeoutService
	tenants  *service.TenantService
}

// NewInternalHandler constructs handler.
func NewInternalHandler(timeouts *service.TimeoutService, tenants *service.TenantService) *InternalHandler {
	return &InternalHandler{timeouts: timeouts, tenants: tenants}
}

// CheckAssignmentTimeouts POST /internal/cron/assignment-timeouts.
func (h *InternalHandler) CheckAssignmentTimeouts(c *fiber.Ctx) error {
	report, err := h.timeouts.CheckExpired(c.UserContext())
	if err != nil {
		return err
	}
	reassigned := make([]dto.ReassignedResponse, 0, len(report.Reassigned))
	for _, r := range report.Reassigned {
		reassigned = append(reassigned, dto.ReassignedResponse{
			ID:                r.ID,
			Reference:         r.Reference,
			PreviousPartnerID: r.PreviousPartnerID,
		})
	}
	return c.JSON(fiber.Map{"data": dto.TimeoutCheckResponse{
		CheckedAt:  report.CheckedAt,
		Skipped:    report.Skipped,
		Reassigned: reassigned,
	}})
}

// BootstrapTenant POST /internal/tenants.
func (h *InternalHandler) BootstrapTenant(c *fiber.Ctx) error {
	var req dto.TenantBootstrapRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	tenant, admin, err := h.tenants.Bootstrap(c.UserContext(), service.BootstrapInput{
		Name:          req.Name,
		Slug:          req.Slug,
		DefaultLocale: req.DefaultLocale,
		AdminName:     req.AdminName,
		AdminEmail:    req.AdminEmail,
		AdminPassword: req.AdminPassword,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": fiber.Map{
		"tenant": tenantResponse(tenant),
		"admin":  userResponse(admin),
	}})
}
