package dto

import "time"

// NotificationResponse is an in-app notification.
type NotificationResponse struct {
	ID        string     `json:"id"`
	RequestID *string    `json:"request_id"`
	Kind      string     `json:"kind"`
	Locale    string     `json:"locale"`
	Subject   string     `json:"subject"`
	Body      string     `json:"body"`
	ReadAt    *time.Time `json:"read_at"`
	CreatedAt time.Time  `json:"created_at"`
}
