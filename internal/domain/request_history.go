package domain

import "time"

// ActorType identifies who caused a history entry.
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
)

// HistoryAction names the lifecycle step recorded.
type HistoryAction string

const (
	ActionCreated   HistoryAction = "created"
	ActionAssigned  HistoryAction = "assigned"
	ActionConfirmed HistoryAction = "confirmed"
	ActionRejected  HistoryAction = "rejected"
	ActionTimeout   HistoryAction = "timeout"
	ActionStarted   HistoryAction = "started"
	ActionCompleted HistoryAction = "completed"
	ActionClosed    HistoryAction = "closed"
	ActionCancelled HistoryAction = "cancelled"
)

// RequestHistory is an immutable audit trail entry.
type RequestHistory struct {
	ID         string
	RequestID  string
	ActorType  ActorType
	ActorID    *string
	Action     HistoryAction
	FromStatus *RequestStatus
	ToStatus   RequestStatus
	Details    map[string]any
	CreatedAt  time.Time
}
