package domain

import "time"

// User is an admin, partner or customer account scoped to a tenant.
type User struct {
	ID           string
	TenantID     string
	Role         Role
	Name         string
	Email        string
	PasswordHash string
	Locale       string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PreferredLocale returns the user's locale or the fallback.
func (u *User) PreferredLocale(fallback string) string {
	if u != nil && u.Locale != "" {
		return u.Locale
	}
	return fallback
}
