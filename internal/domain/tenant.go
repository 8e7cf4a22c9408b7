package domain

import "time"

// Tenant is an isolated customer organization; every other record belongs to one.
type Tenant struct {
	ID            string
	Name          string
	Slug          string
	DefaultLocale string
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
