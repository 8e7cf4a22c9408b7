package service

import (
	"context"
	"errors"
	"net/mail"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/servicedesk/internal/auth"
	"github.com/spec-kit/servicedesk/internal/domain"
	"github.com/spec-kit/servicedesk/internal/repository"
	apperrors "github.com/spec-kit/servicedesk/pkg/util/errorutil"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?$`)

// passwordIssue returns the validation detail for an unacceptable new password.
func passwordIssue(password string) string {
	switch auth.CheckPassword(password) {
	case nil:
		return ""
	case auth.ErrPasswordTooLong:
		return "must be at most 72 bytes"
	default:
		return "must be at least 8 characters"
	}
}

// TenantService bootstraps tenants and manages their users.
type TenantService struct {
	tenants    repository.TenantRepository
	users      repository.UserRepository
	bcryptCost int
	locales    map[string]struct{}
}

// TenantDependencies bundles repositories for tenant service.
type TenantDependencies struct {
	TenantRepo repository.TenantRepository
	UserRepo   repository.UserRepository
	BcryptCost int
	// Locales the notification catalogs ship; tenant and user locales must be one of them.
	Locales []string
}

// NewTenantService creates the service.
func NewTenantService(deps TenantDependencies) *TenantService {
	locales := make(map[string]struct{}, len(deps.Locales))
	for _, l := range deps.Locales {
		locales[l] = struct{}{}
	}
	return &TenantService{
		tenants:    deps.TenantRepo,
		users:      deps.UserRepo,
		bcryptCost: deps.BcryptCost,
		locales:    locales,
	}
}

// BootstrapInput creates a tenant with its first admin.
type BootstrapInput struct {
	Name          string
	Slug          string
	DefaultLocale string
	AdminName     string
	AdminEmail    string
	AdminPassword string
}

// UserCreateInput is an admin creating an account in its tenant.
type UserCreateInput struct {
	Role     domain.Role
	Name     string
	Email    string
	Password string
	Locale   string
}

// TenantUpdateInput carries optional tenant setting changes.
type TenantUpdateInput struct {
	Name          *string
	DefaultLocale *string
}

// Bootstrap creates a tenant and its first admin user.
func (s *TenantService) Bootstrap(ctx context.Context, input BootstrapInput) (*domain.Tenant, *domain.User, error) {
	tenant := &domain.Tenant{
		Name:          strings.TrimSpace(input.Name),
		Slug:          strings.ToLower(strings.TrimSpace(input.Slug)),
		DefaultLocale: strings.TrimSpace(input.DefaultLocale),
		Active:        true,
	}
	if tenant.DefaultLocale == "" {
		tenant.DefaultLocale = "en"
	}

	details := map[string]any{}
	if tenant.Name == "" {
		details["name"] = "required"
	}
	if !slugPattern.MatchString(tenant.Slug) {
		details["slug"] = "lowercase letters, digits and dashes"
	}
	if !s.localeSupported(tenant.DefaultLocale) {
		details["default_locale"] = "unsupported locale"
	}
	adminInput := UserCreateInput{
		Role:     domain.RoleAdmin,
		Name:     input.AdminName,
		Email:    input.AdminEmail,
		Password: input.AdminPassword,
	}
	admin, userDetails := s.buildUser(adminInput)
	for k, v := range userDetails {
		details["admin_"+k] = v
	}
	if len(details) > 0 {
		return nil, nil, apperrors.NewValidationError("invalid tenant", details)
	}

	if err := s.tenants.Create(ctx, tenant); err != nil {
		if isUniqueViolation(err) {
			return nil, nil, apperrors.NewConflict("tenant slug already taken", map[string]any{"slug": tenant.Slug})
		}
		return nil, nil, apperrors.MapError(err)
	}
	admin.TenantID = tenant.ID
	if err := s.persistUser(ctx, admin, input.AdminPassword); err != nil {
		return nil, nil, err
	}
	return tenant, admin, nil
}

// Get returns the tenant.
func (s *TenantService) Get(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("tenant", nil)
		}
		return nil, apperrors.MapError(err)
	}
	return tenant, nil
}

// Update changes tenant settings.
func (s *TenantService) Update(ctx context.Context, tenantID string, input TenantUpdateInput) (*domain.Tenant, error) {
	tenant, err := s.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	details := map[string]any{}
	if input.Name != nil {
		if name := strings.TrimSpace(*input.Name); name != "" {
			tenant.Name = name
		} else {
			details["name"] = "required"
		}
	}
	if input.DefaultLocale != nil {
		if locale := strings.TrimSpace(*input.DefaultLocale); s.localeSupported(locale) {
			tenant.DefaultLocale = locale
		} else {
			details["default_locale"] = "unsupported locale"
		}
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid tenant settings", details)
	}
	if err := s.tenants.Update(ctx, tenant); err != nil {
		return nil, apperrors.MapError(err)
	}
	return tenant, nil
}

// CreateUser adds an account of any role to the admin's tenant.
func (s *TenantService) CreateUser(ctx context.Context, admin *domain.User, input UserCreateInput) (*domain.User, error) {
	user, details := s.buildUser(input)
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid user", details)
	}
	user.TenantID = admin.TenantID
	if err := s.persistUser(ctx, user, input.Password); err != nil {
		return nil, err
	}
	return user, nil
}

// ListUsers lists accounts of the admin's tenant.
func (s *TenantService) ListUsers(ctx context.Context, admin *domain.User, roles []domain.Role, active *bool, limit, offset int) ([]domain.User, error) {
	for _, role := range roles {
		if !role.Valid() {
			return nil, apperrors.NewValidationError("invalid role filter", map[string]any{"role": role})
		}
	}
	users, err := s.users.List(ctx, repository.UserFilter{
		TenantID: admin.TenantID,
		Roles:    roles,
		Active:   active,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return users, nil
}

// SetUserActive activates or deactivates an account. Admins cannot lock themselves out.
func (s *TenantService) SetUserActive(ctx context.Context, admin *domain.User, userID string, active bool) (*domain.User, error) {
	if userID == admin.ID && !active {
		return nil, apperrors.NewConflict("cannot deactivate your own account", nil)
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("user", map[string]any{"user_id": userID})
		}
		return nil, apperrors.MapError(err)
	}
	if user.TenantID != admin.TenantID {
		return nil, apperrors.NewNotFound("user", map[string]any{"user_id": userID})
	}
	if user.Active == active {
		return user, nil
	}
	user.Active = active
	if err := s.users.Update(ctx, user); err != nil {
		return nil, apperrors.MapError(err)
	}
	return user, nil
}

func (s *TenantService) buildUser(input UserCreateInput) (*domain.User, map[string]any) {
	user := &domain.User{
		Role:   input.Role,
		Name:   strings.TrimSpace(input.Name),
		Locale: strings.TrimSpace(input.Locale),
		Active: true,
	}
	details := map[string]any{}
	if !user.Role.Valid() {
		details["role"] = "must be one of ADMIN, PARTNER, CUSTOMER"
	}
	if user.Name == "" {
		details["name"] = "required"
	}
	email, err := normalizeEmail(input.Email)
	if err != nil {
		details["email"] = "invalid email address"
	}
	user.Email = email
	if issue := passwordIssue(input.Password); issue != "" {
		details["password"] = issue
	}
	if user.Locale != "" && !s.localeSupported(user.Locale) {
		details["locale"] = "unsupported locale"
	}
	return user, details
}

func (s *TenantService) persistUser(ctx context.Context, user *domain.User, password string) error {
	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	user.PasswordHash = hash
	if err := s.users.Create(ctx, user); err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewConflict("email already registered", map[string]any{"email": user.Email})
		}
		return apperrors.MapError(err)
	}
	return nil
}

func (s *TenantService) localeSupported(locale string) bool {
	if len(s.locales) == 0 {
		return locale != ""
	}
	_, ok := s.locales[locale]
	return ok
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return strings.ToLower(addr.Address), nil
}
