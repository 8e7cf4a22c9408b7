package domain

import "time"

// Notification is an in-app message rendered for one recipient.
type Notification struct {
	ID        string
	TenantID  string
	UserID    string
	RequestID *string
	Kind      string
	Locale    string
	Subject   string
	Body      string
	ReadAt    *time.Time
	CreatedAt time.Time
}
