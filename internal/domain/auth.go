package domain

import "time"

// Role differentiates the three portals a user can act in.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RolePartner  Role = "PARTNER"
	RoleCustomer Role = "CUSTOMER"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RolePartner, RoleCustomer:
		return true
	}
	return false
}

// Token represents issued authentication token metadata.
type Token struct {
	SubjectID string
	TenantID  string
	Role      Role
	ExpiresAt time.Time
	IssuedAt  time.Time
}
