package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/spec-kit/servicedesk/internal/domain"
	"github.com/spec-kit/servicedesk/internal/events"
	"github.com/spec-kit/servicedesk/internal/repository"
	apperrors "github.com/spec-kit/servicedesk/pkg/util/errorutil"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 10000
	maxCategoryLength    = 100
	maxReferenceAttempts = 3
)

// RequestService covers customer submissions and the admin request views.
type RequestService struct {
	lifecycle
}

// NewRequestService creates the service.
func NewRequestService(deps LifecycleDependencies) *RequestService {
	return &RequestService{lifecycle: newLifecycle(deps)}
}

// RequestCreateInput describes a customer submission.
type RequestCreateInput struct {
	Title       string
	Description string
	Category    string
	Priority    domain.RequestPriority
}

// RequestListFilter describes portal listing filters.
type RequestListFilter struct {
	Statuses   []domain.RequestStatus
	Priorities []domain.RequestPriority
	PartnerID  string
	Search     string
	Limit      int
	Offset     int
}

// RequestDetail is a request with its audit trail.
type RequestDetail struct {
	Request *domain.ServiceRequest
	History []domain.RequestHistory
}

// Create submits a new request for the customer.
func (s *RequestService) Create(ctx context.Context, customer *domain.User, input RequestCreateInput) (*domain.ServiceRequest, error) {
	req := &domain.ServiceRequest{
		TenantID:    customer.TenantID,
		CustomerID:  customer.ID,
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
		Category:    strings.TrimSpace(input.Category),
		Priority:    input.Priority,
		Status:      domain.StatusSubmitted,
	}
	if req.Priority == "" {
		req.Priority = domain.PriorityNormal
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	actorID := customer.ID
	for attempt := 1; ; attempt++ {
		req.Reference = generateReference()
		entry := &domain.RequestHistory{
			ActorType: domain.ActorUser,
			ActorID:   &actorID,
			Action:    domain.ActionCreated,
			ToStatus:  domain.StatusSubmitted,
			Details:   map[string]any{"reference": req.Reference},
		}
		err := s.requests.Create(ctx, req, entry)
		if err == nil {
			break
		}
		if !isUniqueViolation(err) || attempt >= maxReferenceAttempts {
			return nil, apperrors.MapError(err)
		}
	}

	s.metrics.RecordTransition("", string(domain.StatusSubmitted))
	s.publish(ctx, events.Event{
		Type:      events.EventRequestCreated,
		TenantID:  req.TenantID,
		RequestID: req.ID,
		Actor:     events.UserActor(customer.ID),
		Payload:   events.PayloadFor(req, ""),
	})
	return req, nil
}

// ListForCustomer returns the customer's own requests.
func (s *RequestService) ListForCustomer(ctx context.Context, customer *domain.User, filter RequestListFilter) ([]domain.ServiceRequest, error) {
	items, err := s.requests.List(ctx, repository.RequestFilter{
		TenantID:   customer.TenantID,
		CustomerID: customer.ID,
		Statuses:   filter.Statuses,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return items, nil
}

// GetForCustomer returns one of the customer's requests with the history a customer may see.
func (s *RequestService) GetForCustomer(ctx context.Context, customer *domain.User, requestID string) (*RequestDetail, error) {
	req, err := s.ownedByCustomer(ctx, customer, requestID)
	if err != nil {
		return nil, err
	}
	history, err := s.listHistory(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return &RequestDetail{Request: req, History: customerSafeHistory(history)}, nil
}

// CancelByCustomer withdraws a request nobody has started.
func (s *RequestService) CancelByCustomer(ctx context.Context, customer *domain.User, requestID, reason string) (*domain.ServiceRequest, error) {
	req, err := s.ownedByCustomer(ctx, customer, requestID)
	if err != nil {
		return nil, err
	}
	return s.cancel(ctx, customer.ID, req, reason)
}

// CloseByCustomer archives a completed request.
func (s *RequestService) CloseByCustomer(ctx context.Context, customer *domain.User, requestID string) (*domain.ServiceRequest, error) {
	req, err := s.ownedByCustomer(ctx, customer, requestID)
	if err != nil {
		return nil, err
	}
	return s.close(ctx, customer.ID, req)
}

// ListForAdmin lists requests of the admin's tenant.
func (s *RequestService) ListForAdmin(ctx context.Context, admin *domain.User, filter RequestListFilter) ([]domain.ServiceRequest, error) {
	items, err := s.requests.List(ctx, repository.RequestFilter{
		TenantID:   admin.TenantID,
		PartnerID:  filter.PartnerID,
		Statuses:   filter.Statuses,
		Priorities: filter.Priorities,
		Search:     filter.Search,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return items, nil
}

// GetForAdmin returns a request of the tenant with its full history.
func (s *RequestService) GetForAdmin(ctx context.Context, admin *domain.User, requestID string) (*RequestDetail, error) {
	req, err := s.load(ctx, admin.TenantID, requestID)
	if err != nil {
		return nil, err
	}
	history, err := s.listHistory(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return &RequestDetail{Request: req, History: history}, nil
}

// CancelByAdmin cancels a request of the tenant.
func (s *RequestService) CancelByAdmin(ctx context.Context, admin *domain.User, requestID, reason string) (*domain.ServiceRequest, error) {
	req, err := s.load(ctx, admin.TenantID, requestID)
	if err != nil {
		return nil, err
	}
	return s.cancel(ctx, admin.ID, req, reason)
}

// CloseByAdmin closes a completed request of the tenant.
func (s *RequestService) CloseByAdmin(ctx context.Context, admin *domain.User, requestID string) (*domain.ServiceRequest, error) {
	req, err := s.load(ctx, admin.TenantID, requestID)
	if err != nil {
		return nil, err
	}
	return s.close(ctx, admin.ID, req)
}

func (s *RequestService) cancel(ctx context.Context, actorID string, req *domain.ServiceRequest, reason string) (*domain.ServiceRequest, error) {
	var details map[string]any
	if reason = strings.TrimSpace(reason); reason != "" {
		details = map[string]any{"reason": reason}
	}
	return s.transition(ctx, req, move{
		actorID: actorID,
		action:  domain.ActionCancelled,
		event:   events.EventRequestCancelled,
		apply:   (*domain.ServiceRequest).Cancel,
		details: details,
	})
}

func (s *RequestService) close(ctx context.Context, actorID string, req *domain.ServiceRequest) (*domain.ServiceRequest, error) {
	return s.transition(ctx, req, move{
		actorID: actorID,
		action:  domain.ActionClosed,
		event:   events.EventRequestClosed,
		apply:   (*domain.ServiceRequest).Close,
	})
}

// ownedByCustomer hides requests of other customers behind NOT_FOUND.
func (s *RequestService) ownedByCustomer(ctx context.Context, customer *domain.User, requestID string) (*domain.ServiceRequest, error) {
	req, err := s.load(ctx, customer.TenantID, requestID)
	if err != nil {
		return nil, err
	}
	if req.CustomerID != customer.ID {
		return nil, apperrors.NewNotFound("service request", map[string]any{"request_id": requestID})
	}
	return req, nil
}

func validateRequest(req *domain.ServiceRequest) error {
	details := map[string]any{}
	switch {
	case req.Title == "":
		details["title"] = "required"
	case utf8.RuneCountInString(req.Title) > maxTitleLength:
		details["title"] = "too long"
	}
	switch {
	case req.Description == "":
		details["description"] = "required"
	case utf8.RuneCountInString(req.Description) > maxDescriptionLength:
		details["description"] = "too long"
	}
	if utf8.RuneCountInString(req.Category) > maxCategoryLength {
		details["category"] = "too long"
	}
	if !req.Priority.Valid() {
		details["priority"] = "must be one of low, normal, high, urgent"
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid service request", details)
	}
	return nil
}

// customerSafeHistory drops partner matching internals: rejections and
// timeouts, partner identities and free-text details.
func customerSafeHistory(entries []domain.RequestHistory) []domain.RequestHistory {
	out := make([]domain.RequestHistory, 0, len(entries))
	for _, entry := range entries {
		switch entry.Action {
		case domain.ActionRejected, domain.ActionTimeout:
			continue
		}
		entry.Details = nil
		if entry.ActorType == domain.ActorUser {
			entry.ActorID = nil
		}
		out = append(out, entry)
	}
	return out
}
