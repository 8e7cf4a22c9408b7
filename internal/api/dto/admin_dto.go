package dto

import "github.com/spec-kit/servicedesk/internal/domain"

// TenantBootstrapRequest creates a tenant and its first admin.
type TenantBootstrapRequest struct {
	Name          string `json:"name"`
	Slug          string `json:"slug"`
	DefaultLocale string `json:"default_locale"`
	AdminName     string `json:"admin_name"`
	AdminEmail    string `json:"admin_email"`
	AdminPassword string `json:"admin_password"`
}

// TenantUpdateRequest changes tenant settings; omitted fields stay unchanged.
type TenantUpdateRequest struct {
	Name          *string `json:"name"`
	DefaultLocale *string `json:"default_locale"`
}

// CreateUserRequest payload for admin-created accounts.
type CreateUserRequest struct {
	Role     domain.Role `json:"role"`
	Name     string      `json:"name"`
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Locale   string      `json:"locale"`
}

// AssignRequest hands a request to a partner.
type AssignRequest struct {
	PartnerID string `json:"partner_id"`
}
