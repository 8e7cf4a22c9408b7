package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RequestStatus enumerates lifecycle states for service requests.
type RequestStatus string

const (
	StatusSubmitted  RequestStatus = "submitted"
	StatusAssigned   RequestStatus = "assigned"
	StatusConfirmed  RequestStatus = "confirmed"
	StatusRejected   RequestStatus = "rejected"
	StatusInProgress RequestStatus = "in_progress"
	StatusCompleted  RequestStatus = "completed"
	StatusClosed     RequestStatus = "closed"
	StatusCancelled  RequestStatus = "cancelled"
)

// RequestPriority enumerates urgency.
type RequestPriority string

const (
	PriorityLow    RequestPriority = "low"
	PriorityNormal RequestPriority = "normal"
	PriorityHigh   RequestPriority = "high"
	PriorityUrgent RequestPriority = "urgent"
)

// DefaultResponseWindow is how long a partner has to accept or reject an assignment.
const DefaultResponseWindow = 15 * time.Minute

// ErrResponseWindowElapsed is returned when a partner answers after the deadline.
var ErrResponseWindowElapsed = errors.New("response window elapsed")

// TransitionError reports a move the lifecycle does not allow.
type TransitionError struct {
	From RequestStatus
	To   RequestStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

var allowedTransitions = map[RequestStatus][]RequestStatus{
	StatusSubmitted:  {StatusAssigned, StatusCancelled},
	StatusAssigned:   {StatusConfirmed, StatusRejected, StatusSubmitted, StatusCancelled},
	StatusRejected:   {StatusAssigned, StatusCancelled},
	StatusConfirmed:  {StatusInProgress},
	StatusInProgress: {StatusCompleted},
	StatusCompleted:  {StatusClosed},
	StatusClosed:     {},
	StatusCancelled:  {},
}

// CanTransition reports whether the lifecycle allows moving from current to next.
func CanTransition(current, next RequestStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s RequestStatus) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// Terminal reports whether no further transition is possible.
func (s RequestStatus) Terminal() bool {
	return s.Valid() && len(allowedTransitions[s]) == 0
}

// Valid reports whether p is a known priority.
func (p RequestPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ServiceRequest is the aggregate customers submit and partners fulfil.
type ServiceRequest struct {
	ID               string
	TenantID         string
	Reference        string
	CustomerID       string
	PartnerID        *string
	Title            string
	Description      string
	Category         string
	Priority         RequestPriority
	Status           RequestStatus
	AssignedAt       *time.Time
	ResponseDeadline *time.Time
	RespondedAt      *time.Time
	RejectionReason  *string
	StartedAt        *time.Time
	CompletedAt      *time.Time
	ClosedAt         *time.Time
	CancelledAt      *time.Time
	TimeoutCount     int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsResponseWindowOpen reports whether the assigned partner may still answer.
func (r *ServiceRequest) IsResponseWindowOpen(now time.Time) bool {
	return r.Status == StatusAssigned && r.ResponseDeadline != nil && now.Before(*r.ResponseDeadline)
}

// IsAssignmentExpired reports whether the timeout check should reclaim the request.
func (r *ServiceRequest) IsAssignmentExpired(now time.Time) bool {
	return r.Status == StatusAssigned && r.ResponseDeadline != nil && !now.Before(*r.ResponseDeadline)
}

// IsAssignedTo reports whether partnerID currently holds the request.
func (r *ServiceRequest) IsAssignedTo(partnerID string) bool {
	return r.PartnerID != nil && *r.PartnerID == partnerID
}

func (r *ServiceRequest) moveTo(next RequestStatus) error {
	if !CanTransition(r.Status, next) {
		return &TransitionError{From: r.Status, To: next}
	}
	r.Status = next
	return nil
}

// Assign hands the request to a partner and opens the response window.
func (r *ServiceRequest) Assign(partnerID string, now time.Time, window time.Duration) error {
	if window <= 0 {
		window = DefaultResponseWindow
	}
	if err := r.moveTo(StatusAssigned); err != nil {
		return err
	}
	deadline := now.Add(window)
	r.PartnerID = &partnerID
	r.AssignedAt = &now
	r.ResponseDeadline = &deadline
	r.RespondedAt = nil
	r.RejectionReason = nil
	return nil
}

// Confirm records the partner accepting inside the response window.
func (r *ServiceRequest) Confirm(now time.Time) error {
	if r.Status == StatusAssigned && !r.IsResponseWindowOpen(now) {
		return ErrResponseWindowElapsed
	}
	if err := r.moveTo(StatusConfirmed); err != nil {
		return err
	}
	r.RespondedAt = &now
	r.ResponseDeadline = nil
	return nil
}

// Reject records the partner declining inside the response window.
func (r *ServiceRequest) Reject(reason string, now time.Time) error {
	if r.Status == StatusAssigned && !r.IsResponseWindowOpen(now) {
		return ErrResponseWindowElapsed
	}
	if err := r.moveTo(StatusRejected); err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	r.RespondedAt = &now
	r.ResponseDeadline = nil
	if reason != "" {
		r.RejectionReason = &reason
	}
	return nil
}

// Expire returns an unanswered assignment to the unassigned pool.
func (r *ServiceRequest) Expire(now time.Time) error {
	if !r.IsAssignmentExpired(now) {
		return &TransitionError{From: r.Status, To: StatusSubmitted}
	}
	if err := r.moveTo(StatusSubmitted); err != nil {
		return err
	}
	r.PartnerID = nil
	r.AssignedAt = nil
	r.ResponseDeadline = nil
	r.TimeoutCount++
	return nil
}

// Start marks work as begun.
func (r *ServiceRequest) Start(now time.Time) error {
	if err := r.moveTo(StatusInProgress); err != nil {
		return err
	}
	r.StartedAt = &now
	return nil
}

// Complete marks work as done.
func (r *ServiceRequest) Complete(now time.Time) error {
	if err := r.moveTo(StatusCompleted); err != nil {
		return err
	}
	r.CompletedAt = &now
	return nil
}

// Close archives a completed request.
func (r *ServiceRequest) Close(now time.Time) error {
	if err := r.moveTo(StatusClosed); err != nil {
		return err
	}
	r.ClosedAt = &now
	return nil
}

// Cancel withdraws a request that no partner has started.
func (r *ServiceRequest) Cancel(now time.Time) error {
	if err := r.moveTo(StatusCancelled); err != nil {
		return err
	}
	r.ResponseDeadline = nil
	r.CancelledAt = &now
	return nil
}
