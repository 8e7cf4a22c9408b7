package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/servicedesk/internal/domain"
	"github.com/spec-kit/servicedesk/internal/repository"
	apperrors "github.com/spec-kit/servicedesk/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// CronSecretHeader carries the shared secret on /internal routes.
const CronSecretHeader = "X-Cron-Secret"

// Principal represents the authenticated caller and the tenant it acts in.
type Principal struct {
	User   *domain.User
	Tenant *domain.Tenant
}

// Role returns the caller's portal role.
func (p *Principal) Role() domain.Role {
	return p.User.Role
}

// TenantID returns the caller's tenant.
func (p *Principal) TenantID() string {
	return p.Tenant.ID
}

// AuthMiddleware validates bearer tokens and loads principals.
type AuthMiddleware struct {
	tokens  *TokenManager
	users   repository.UserRepository
	tenants repository.TenantRepository
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, users repository.UserRepository, tenants repository.TenantRepository) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, users: users, tenants: tenants}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	user, err := m.users.GetByID(c.UserContext(), claims.Subject)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewUnauthorized("user not found")
		}
		return apperrors.MapError(err)
	}
	// A token can never move a user across tenants or roles.
	if user.TenantID != claims.TenantID || user.Role != claims.Role {
		return apperrors.NewUnauthorized("token no longer matches account")
	}
	if !user.Active {
		return apperrors.NewUnauthorized("account deactivated")
	}

	tenant, err := m.tenants.GetByID(c.UserContext(), user.TenantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewUnauthorized("tenant not found")
		}
		return apperrors.MapError(err)
	}
	if !tenant.Active {
		return apperrors.NewForbidden("tenant suspended")
	}

	c.Locals(principalKey, &Principal{User: user, Tenant: tenant})
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}

// RequireInternalSecret guards machine-to-machine routes with a shared secret.
func RequireInternalSecret(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		provided := c.Get(CronSecretHeader)
		if secret == "" || provided == "" ||
			subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			return apperrors.NewUnauthorized("invalid internal secret")
		}
		return c.Next()
	}
}
