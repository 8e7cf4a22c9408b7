package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/spec-kit/servicedesk/internal/api/dto"
	"github.com/spec-kit/servicedesk/internal/auth"
	"github.com/spec-kit/servicedesk/internal/domain"
	apperrors "github.com/spec-kit/servicedesk/pkg/util/errorutil"
)

const maxPageSize = 100

func currentPrincipal(c *fiber.Ctx) (*auth.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.User == nil || principal.Tenant == nil {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	return principal, nil
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	return nil
}

// idParam returns the :id path parameter. Ids are UUIDs, so anything else
// cannot name an existing row.
func idParam(c *fiber.Ctx, resource string) (string, error) {
	id := c.Params("id")
	if uuid.Validate(id) != nil {
		return "", apperrors.NewNotFound(resource, nil)
	}
	return id, nil
}

func validUUID(field, val string) error {
	if uuid.Validate(val) != nil {
		return apperrors.NewValidationError("invalid "+field, map[string]any{field: "must be a UUID"})
	}
	return nil
}

// parsePage reads page/page_size and returns limit/offset.
func parsePage(c *fiber.Ctx) (limit, offset int) {
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("page_size"), 20)
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return pageSize, (page - 1) * pageSize
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func splitCSV(val string) []string {
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseStatuses(val string) ([]domain.RequestStatus, error) {
	var statuses []domain.RequestStatus
	for _, part := range splitCSV(val) {
		status := domain.RequestStatus(strings.ToLower(part))
		if !status.Valid() {
			return nil, apperrors.NewValidationError("unknown status", map[string]any{"status": part})
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func parsePriorities(val string) ([]domain.RequestPriority, error) {
	var priorities []domain.RequestPriority
	for _, part := range splitCSV(val) {
		priority := domain.RequestPriority(strings.ToLower(part))
		if !priority.Valid() {
			return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": part})
		}
		priorities = append(priorities, priority)
	}
	return priorities, nil
}

func parseRoles(val string) ([]domain.Role, error) {
	var roles []domain.Role
	for _, part := range splitCSV(val) {
		role := domain.Role(strings.ToUpper(part))
		if !role.Valid() {
			return nil, apperrors.NewValidationError("unknown role", map[string]any{"role": part})
		}
		roles = append(roles, role)
	}
	return roles, nil
}

func parseOptionalBool(val string) (*bool, error) {
	if val == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return nil, apperrors.NewValidationError("invalid boolean", map[string]any{"value": val})
	}
	return &parsed, nil
}

func userResponse(user *domain.User) dto.UserResponse {
	return dto.UserResponse{
		ID:        user.ID,
		TenantID:  user.TenantID,
		Role:      user.Role,
		Name:      user.Name,
		Email:     user.Email,
		Locale:    user.Locale,
		Active:    user.Active,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}

func tenantResponse(tenant *domain.Tenant) dto.TenantResponse {
	return dto.TenantResponse{
		ID:            tenant.ID,
		Name:          tenant.Name,
		Slug:          tenant.Slug,
		DefaultLocale: tenant.DefaultLocale,
		Active:        tenant.Active,
		CreatedAt:     tenant.CreatedAt,
		UpdatedAt:     tenant.UpdatedAt,
	}
}

func requestResponse(req *domain.ServiceRequest) dto.ServiceRequestResponse {
	return dto.ServiceRequestResponse{
		ID:               req.ID,
		Reference:        req.Reference,
		CustomerID:       req.CustomerID,
		PartnerID:        req.PartnerID,
		Title:            req.Title,
		Description:      req.Description,
		Category:         req.Category,
		Priority:         req.Priority,
		Status:           req.Status,
		AssignedAt:       req.AssignedAt,
		ResponseDeadline: req.ResponseDeadline,
		RespondedAt:      req.RespondedAt,
		RejectionReason:  req.RejectionReason,
		StartedAt:        req.StartedAt,
		CompletedAt:      req.CompletedAt,
		ClosedAt:         req.ClosedAt,
		CancelledAt:      req.CancelledAt,
		TimeoutCount:     req.TimeoutCount,
		CreatedAt:        req.CreatedAt,
		UpdatedAt:        req.UpdatedAt,
	}
}

func requestList(items []domain.ServiceRequest) []dto.ServiceRequestResponse {
	resp := make([]dto.ServiceRequestResponse, 0, len(items))
	for i := range items {
		resp = append(resp, requestResponse(&items[i]))
	}
	return resp
}

func requestDetail(req *domain.ServiceRequest, history []domain.RequestHistory) dto.ServiceRequestDetailResponse {
	entries := make([]dto.RequestHistoryResponse, 0, len(history))
	for _, entry := range history {
		entries = append(entries, dto.RequestHistoryResponse{
			ID:         entry.ID,
			ActorType:  entry.ActorType,
			ActorID:    entry.ActorID,
			Action:     entry.Action,
			FromStatus: entry.FromStatus,
			ToStatus:   entry.ToStatus,
			Details:    entry.Details,
			CreatedAt:  entry.CreatedAt,
		})
	}
	return dto.ServiceRequestDetailResponse{
		ServiceRequestResponse: requestResponse(req),
		History:                entries,
	}
}

func notificationResponse(n *domain.Notification) dto.NotificationResponse {
	return dto.NotificationResponse{
		ID:        n.ID,
		RequestID: n.RequestID,
		Kind:      n.Kind,
		Locale:    n.Locale,
		Subject:   n.Subject,
		Body:      n.Body,
		ReadAt:    n.ReadAt,
		CreatedAt: n.CreatedAt,
	}
}
