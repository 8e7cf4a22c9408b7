package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/servicedesk/internal/domain"
	"github.com/spec-kit/servicedesk/internal/events"
	"github.com/spec-kit/servicedesk/internal/repository"
	apperrors "github.com/spec-kit/servicedesk/pkg/util/errorutil"
)

const maxRejectionReasonLength = 1000

// AssignmentService handles partner assignment and the partner side of the lifecycle.
type AssignmentService struct {
	lifecycle
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps LifecycleDependencies) *AssignmentService {
	return &AssignmentService{lifecycle: newLifecycle(deps)}
}

// ResponseWindow is how long partners have to answer an assignment.
func (s *AssignmentService) ResponseWindow() time.Duration {
	return s.window
}

// Assign hands a submitted or rejected request to an active partner of the
// same tenant and opens the response window.
func (s *AssignmentService) Assign(ctx context.Context, admin *domain.User, requestID, partnerID string) (*domain.ServiceRequest, error) {
	partnerID = strings.TrimSpace(partnerID)
	if partnerID == "" {
		return nil, apperrors.NewValidationError("partner_id is required", map[string]any{"partner_id": "required"})
	}
	partner, err := s.users.GetByID(ctx, partnerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("partner", map[string]any{"partner_id": partnerID})
		}
		return nil, apperrors.MapError(err)
	}
	if partner.TenantID != admin.TenantID || partner.Role != domain.RolePartner {
		return nil, apperrors.NewNotFound("partner", map[string]any{"partner_id": partnerID})
	}
	if !partner.Active {
		return nil, apperrors.NewConflict("partner is deactivated", map[string]any{"partner_id": partnerID})
	}

	req, err := s.load(ctx, admin.TenantID, requestID)
	if err != nil {
		return nil, err
	}
	window := s.window
	return s.transition(ctx, req, move{
		actorID: admin.ID,
		action:  domain.ActionAssigned,
		event:   events.EventRequestAssigned,
		apply: func(r *domain.ServiceRequest, now time.Time) error {
			return r.Assign(partner.ID, now, window)
		},
		details: map[string]any{
			"partner_id":     partner.ID,
			"window_seconds": int(window.Seconds()),
		},
	})
}

// ListForPartner returns requests currently or previously held by the partner.
func (s *AssignmentService) ListForPartner(ctx context.Context, partner *domain.User, statuses []domain.RequestStatus, limit, offset int) ([]domain.ServiceRequest, error) {
	items, err := s.requests.List(ctx, repository.RequestFilter{
		TenantID:  partner.TenantID,
		PartnerID: partner.ID,
		Statuses:  statuses,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return items, nil
}

// GetForPartner returns a request held by the partner.
func (s *AssignmentService) GetForPartner(ctx context.Context, partner *domain.User, requestID string) (*domain.ServiceRequest, error) {
	return s.heldBy(ctx, partner, requestID)
}

// Confirm accepts an assignment inside the response window.
func (s *AssignmentService) Confirm(ctx context.Context, partner *domain.User, requestID string) (*domain.ServiceRequest, error) {
	req, err := s.heldBy(ctx, partner, requestID)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, req, move{
		actorID: partner.ID,
		action:  domain.ActionConfirmed,
		event:   events.EventRequestConfirmed,
		apply:   (*domain.ServiceRequest).Confirm,
	})
}

// Reject declines an assignment inside the response window.
func (s *AssignmentService) Reject(ctx context.Context, partner *domain.User, requestID, reason string) (*domain.ServiceRequest, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > maxRejectionReasonLength {
		return nil, apperrors.NewValidationError("reason too long", map[string]any{"reason": "too long"})
	}
	req, err := s.heldBy(ctx, partner, requestID)
	if err != nil {
		return nil, err
	}
	var details map[string]any
	if reason != "" {
		details = map[string]any{"reason": reason}
	}
	return s.transition(ctx, req, move{
		actorID: partner.ID,
		action:  domain.ActionRejected,
		event:   events.EventRequestRejected,
		apply: func(r *domain.ServiceRequest, now time.Time) error {
			return r.Reject(reason, now)
		},
		details: details,
	})
}

// Start marks confirmed work as begun.
func (s *AssignmentService) Start(ctx context.Context, partner *domain.User, requestID string) (*domain.ServiceRequest, error) {
	req, err := s.heldBy(ctx, partner, requestID)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, req, move{
		actorID: partner.ID,
		action:  domain.ActionStarted,
		event:   events.EventRequestStarted,
		apply:   (*domain.ServiceRequest).Start,
	})
}

// Complete marks work as done.
func (s *AssignmentService) Complete(ctx context.Context, partner *domain.User, requestID string) (*domain.ServiceRequest, error) {
	req, err := s.heldBy(ctx, partner, requestID)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, req, move{
		actorID: partner.ID,
		action:  domain.ActionCompleted,
		event:   events.EventRequestCompleted,
		apply:   (*domain.ServiceRequest).Complete,
	})
}

// heldBy hides requests of other partners behind NOT_FOUND. A request the
// timeout check already reclaimed is no longer held by anyone.
func (s *AssignmentService) heldBy(ctx context.Context, partner *domain.User, requestID string) (*domain.ServiceRequest, error) {
	req, err := s.load(ctx, partner.TenantID, requestID)
	if err != nil {
		return nil, err
	}
	if !req.IsAssignedTo(partner.ID) {
		return nil, apperrors.NewNotFound("assignment", map[string]any{"request_id": requestID})
	}
	return req, nil
}
