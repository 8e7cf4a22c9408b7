package dto

import (
	"time"

	"github.com/spec-kit/servicedesk/internal/domain"
)

// CreateServiceRequest payload from the customer portal.
type CreateServiceRequest struct {
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Category    string                 `json:"category"`
	Priority    domain.RequestPriority `json:"priority"`
}

// ReasonRequest carries an optional free-text reason.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// ServiceRequestResponse is the request view shared by all portals.
type ServiceRequestResponse struct {
	ID               string                 `json:"id"`
	Reference        string                 `json:"reference"`
	CustomerID       string                 `json:"customer_id"`
	PartnerID        *string                `json:"partner_id"`
	Title            string                 `json:"title"`
	Description      string                 `json:"description"`
	Category         string                 `json:"category"`
	Priority         domain.RequestPriority `json:"priority"`
	Status           domain.RequestStatus   `json:"status"`
	AssignedAt       *time.Time             `json:"assigned_at"`
	ResponseDeadline *time.Time             `json:"response_deadline"`
	RespondedAt      *time.Time             `json:"responded_at"`
	RejectionReason  *string                `json:"rejection_reason,omitempty"`
	StartedAt        *time.Time             `json:"started_at"`
	CompletedAt      *time.Time             `json:"completed_at"`
	ClosedAt         *time.Time             `json:"closed_at"`
	CancelledAt      *time.Time             `json:"cancelled_at"`
	TimeoutCount     int                    `json:"timeout_count"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// RequestHistoryResponse is one audit trail entry.
type RequestHistoryResponse struct {
	ID         string                `json:"id"`
	ActorType  domain.ActorType      `json:"actor_type"`
	ActorID    *string               `json:"actor_id"`
	Action     domain.HistoryAction  `json:"action"`
	FromStatus *domain.RequestStatus `json:"from_status"`
	ToStatus   domain.RequestStatus  `json:"to_status"`
	Details    map[string]any        `json:"details,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
}

// ServiceRequestDetailResponse is a request with its history.
type ServiceRequestDetailResponse struct {
	ServiceRequestResponse
	History []RequestHistoryResponse `json:"history"`
}

// ReassignedResponse is one request reclaimed by the timeout check.
type ReassignedResponse struct {
	ID                string `json:"id"`
	Reference         string `json:"reference"`
	PreviousPartnerID string `json:"previous_partner_id"`
}

// TimeoutCheckResponse summarizes a timeout check run.
type TimeoutCheckResponse struct {
	CheckedAt  time.Time            `json:"checked_at"`
	Skipped    bool                 `json:"skipped"`
	Reassigned []ReassignedResponse `json:"reassigned"`
}
