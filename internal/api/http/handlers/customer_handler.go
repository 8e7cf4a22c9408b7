package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/servicedesk/internal/api/dto"
	"github.com/spec-kit/servicedesk/internal/service"
)

// CustomerHandler serves the customer portal.
type CustomerHandler struct {
	requests *service.RequestService
}

// NewCustomerHandler constructs handler.
func NewCustomerHandler(requests *service.RequestService) *CustomerHandler {
	return &CustomerHandler{requests: requests}
}

// CreateRequest POST /api/customer/requests.
func (h *CustomerHandler) CreateRequest(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateServiceRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	created, err := h.requests.Create(c.UserContext(), principal.User, service.RequestCreateInput{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Priority:    req.Priority,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": requestResponse(created)})
}

// ListRequests GET /api/customer/requests.
func (h *CustomerHandler) ListRequests(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	statuses, err := parseStatuses(c.Query("status"))
	if err != nil {
		return err
	}
	limit, offset := parsePage(c)
	items, err := h.requests.ListForCustomer(c.UserContext(), principal.User, service.RequestListFilter{
		Statuses: statuses,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestList(items)})
}

// GetRequest GET /api/customer/requests/:id.
func (h *CustomerHandler) GetRequest(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "request")
	if err != nil {
		return err
	}
	detail, err := h.requests.GetForCustomer(c.UserContext(), principal.User, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestDetail(detail.Request, detail.History)})
}

// CancelRequest POST /api/customer/requests/:id/cancel.
func (h *CustomerHandler) CancelRequest(c *fiber.Ctx) error {
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
	updated, err := h.requests.CancelByCustomer(c.UserContext(), principal.User, id, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestResponse(updated)})
}

// CloseRequest POST /api/customer/requests/:id/close.
func (h *CustomerHandler) CloseRequest(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	id, err := idParam(c, "request")
	if err != nil {
		return err
	}
	updated, err := h.requests.CloseByCustomer(c.UserContext(), principal.User, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": requestResponse(updated)})
}
