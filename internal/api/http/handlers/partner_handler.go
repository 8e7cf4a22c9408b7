package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/servicedesk/internal/api/dto"
	"github.com/spec-kit/servicedesk/internal/domain"
	"github.com/spec-kit/servicedesk/internal/service"
)

// PartnerHandler serves the partner portal.
type PartnerHandler struct {
	assignments *service.AssignmentService
}

// NewPartnerHandler constructs handler.
func NewPartnerHandler(assignments *service.AssignmentService) *PartnerHandler {
	return &PartnerHandler{assignments: assignments}
}

// ListAssignments GET /api/partner/requests?status=assigned.
func (h *PartnerHandler) ListAssignments(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	statuses, err := parseStatuses(c.Query("status"))
	if err != nil {
		return err
	}
	limit, offset := parsePage(c)
	items, err := h.assignments.ListForPartner(c.UserContext(), principal.User, statuses, limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestList(items)})
}

// GetAssignment GET /api/partner/requests/:id.
func (h *PartnerHandler) GetAssignment(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "request")
	if err != nil {
		return err
	}
	req, err := h.assignments.GetForPartner(c.UserContext(), principal.User, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestResponse(req)})
}

// Confirm POST /api/partner/requests/:id/confirm.
func (h *PartnerHandler) Confirm(c *fiber.Ctx) error {
	return h.act(c, h.assignments.Confirm)
}

// Reject POST /api/partner/requests/:id/reject.
func (h *PartnerHandler) Reject(c *fiber.Ctx) error {
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
	updated, err := h.assignments.Reject(c.UserContext(), principal.User, id, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestResponse(updated)})
}

// Start POST /api/partner/requests/:id/start.
func (h *PartnerHandler) Start(c *fiber.Ctx) error {
	return h.act(c, h.assignments.Start)
}

// Complete POST /api/partner/requests/:id/complete.
func (h *PartnerHandler) Complete(c *fiber.Ctx) error {
	return h.act(c, h.assignments.Complete)
}

type partnerAction func(ctx context.Context, partner *domain.User, requestID string) (*domain.ServiceRequest, error)

func (h *PartnerHandler) act(c *fiber.Ctx, action partnerAction) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "request")
	if err != nil {
		return err
	}
	updated, err := action(c.UserContext(), principal.User, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestResponse(updated)})
}
