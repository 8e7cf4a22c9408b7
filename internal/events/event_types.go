package events

import (
	"time"

	"github.com/spec-kit/servicedesk/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventRequestCreated           EventType = "request_created"
	EventRequestAssigned          EventType = "request_assigned"
	EventRequestConfirmed         EventType = "request_confirmed"
	EventRequestRejected          EventType = "request_rejected"
	EventRequestAssignmentExpired EventType = "request_assignment_expired"
	EventRequestStarted           EventType = "request_started"
	EventRequestCompleted         EventType = "request_completed"
	EventRequestClosed            EventType = "request_closed"
	EventRequestCancelled         EventType = "request_cancelled"
)

// AllEventTypes lists every type the services publish.
var AllEventTypes = []EventType{
	EventRequestCreated,
	EventRequestAssigned,
	EventRequestConfirmed,
	EventRequestRejected,
	EventRequestAssignmentExpired,
	EventRequestStarted,
	EventRequestCompleted,
	EventRequestClosed,
	EventRequestCancelled,
}

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type   domain.ActorType `json:"type"`
	UserID *string          `json:"user_id,omitempty"`
}

// SystemActor is used for changes made by the timeout check.
var SystemActor = Actor{Type: domain.ActorSystem}

// UserActor builds an actor for an authenticated user.
func UserActor(userID string) Actor {
	return Actor{Type: domain.ActorUser, UserID: &userID}
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	TenantID  string         `json:"tenant_id"`
	RequestID string         `json:"request_id"`
	Actor     Actor          `json:"actor"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   RequestPayload `json:"payload"`
}

// RequestPayload snapshots the request fields recipients and templates need.
type RequestPayload struct {
	Reference         string               `json:"reference"`
	Title             string               `json:"title"`
	CustomerID        string               `json:"customer_id"`
	PartnerID         *string              `json:"partner_id,omitempty"`
	PreviousPartnerID *string              `json:"previous_partner_id,omitempty"`
	FromStatus        domain.RequestStatus `json:"from_status,omitempty"`
	ToStatus          domain.RequestStatus `json:"to_status"`
	Reason            string               `json:"reason,omitempty"`
	ResponseDeadline  *time.Time           `json:"response_deadline,omitempty"`
}

// PayloadFor snapshots req after a move from the given status.
func PayloadFor(req *domain.ServiceRequest, from domain.RequestStatus) RequestPayload {
	p := RequestPayload{
		Reference:        req.Reference,
		Title:            req.Title,
		CustomerID:       req.CustomerID,
		PartnerID:        req.PartnerID,
		FromStatus:       from,
		ToStatus:         req.Status,
		ResponseDeadline: req.ResponseDeadline,
	}
	if req.RejectionReason != nil {
		p.Reason = *req.RejectionReason
	}
	return p
}
