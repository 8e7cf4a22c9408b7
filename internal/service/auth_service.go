package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk/internal/auth"
	"github.com/spec-kit/servicedesk/internal/config"
	"github.com/spec-kit/servicedesk/internal/domain"
	"github.com/spec-kit/servicedesk/internal/notify"
	"github.com/spec-kit/servicedesk/internal/repository"
	apperrors "github.com/spec-kit/servicedesk/pkg/util/errorutil"
)

// EmailQueue accepts outbound email jobs.
type EmailQueue interface {
	Enqueue(ctx context.Context, job notify.EmailJob) error
}

// AuthResult is a signed token with the account it was issued for.
type AuthResult struct {
	User   *domain.User
	Tenant *domain.Tenant
	Token  string
	Meta   domain.Token
}

// AuthService coordinates registration and login flows.
type AuthService struct {
	tenants    repository.TenantRepository
	users      repository.UserRepository
	resets     repository.PasswordResetRepository
	accounts   *TenantService
	renderer   *notify.Renderer
	mail       EmailQueue
	tokenMgr   *auth.TokenManager
	logger     *zap.Logger
	bcryptCost int
	resetTTL   time.Duration
	locale     string
	now        func() time.Time
}

// AuthDependencies encapsulates repo requirements for auth service.
type AuthDependencies struct {
	TenantRepo        repository.TenantRepository
	UserRepo          repository.UserRepository
	PasswordResetRepo repository.PasswordResetRepository
	Accounts          *TenantService
	Renderer          *notify.Renderer
	EmailQueue        EmailQueue
	TokenManager      *auth.TokenManager
	Logger            *zap.Logger
	Clock             func() time.Time
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, deps AuthDependencies) *AuthService {
	tokens := deps.TokenManager
	if tokens == nil {
		tokens = auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		tenants:    deps.TenantRepo,
		users:      deps.UserRepo,
		resets:     deps.PasswordResetRepo,
		accounts:   deps.Accounts,
		renderer:   deps.Renderer,
		mail:       deps.EmailQueue,
		tokenMgr:   tokens,
		logger:     logger,
		bcryptCost: cfg.Auth.BcryptCost,
		resetTTL:   time.Duration(cfg.Auth.PasswordResetTTLMinutes) * time.Minute,
		locale:     cfg.Notification.DefaultLocale,
		now:        clock,
	}
}

// RegisterCustomer creates a customer account in the tenant identified by slug.
func (s *AuthService) RegisterCustomer(ctx context.Context, tenantSlug, name, email, password, locale string) (*AuthResult, error) {
	tenant, err := s.activeTenant(ctx, tenantSlug)
	if err != nil {
		return nil, err
	}
	user, details := s.accounts.buildUser(UserCreateInput{
		Role:     domain.RoleCustomer,
		Name:     name,
		Email:    email,
		Password: password,
		Locale:   locale,
	})
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid registration", details)
	}
	user.TenantID = tenant.ID
	if err := s.accounts.persistUser(ctx, user, password); err != nil {
		return nil, err
	}
	return s.issue(user, tenant)
}

// Login authenticates any role inside one tenant.
func (s *AuthService) Login(ctx context.Context, tenantSlug, email, password string) (*AuthResult, error) {
	tenant, err := s.activeTenant(ctx, tenantSlug)
	if err != nil {
		return nil, apperrors.NewUnauthorized("invalid credentials")
	}
	user, err := s.users.GetByEmail(ctx, tenant.ID, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, apperrors.MapError(err)
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, apperrors.NewUnauthorized("invalid credentials")
	}
	if !user.Active {
		return nil, apperrors.NewForbidden("account deactivated")
	}
	return s.issue(user, tenant)
}

// Logout currently no-ops for stateless JWT approach.
func (s *AuthService) Logout(_ context.Context, _ string) error {
	return nil
}

// RequestPasswordReset stores a single use token and emails it. Unknown
// accounts are ignored so callers cannot probe for registered emails.
func (s *AuthService) RequestPasswordReset(ctx context.Context, tenantSlug, email string) error {
	tenant, err := s.activeTenant(ctx, tenantSlug)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil
		}
		return err
	}
	user, err := s.users.GetByEmail(ctx, tenant.ID, strings.TrimSpace(email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return apperrors.MapError(err)
	}
	if !user.Active {
		return nil
	}

	token := &repository.PasswordResetToken{
		UserID:    user.ID,
		Token:     uuid.NewString(),
		ExpiresAt: s.now().UTC().Add(s.resetTTL),
	}
	if err := s.resets.Create(ctx, token); err != nil {
		return apperrors.MapError(err)
	}
	s.sendResetEmail(ctx, tenant, user, token)
	return nil
}

// ConfirmPasswordReset validates the reset token and updates password.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, tokenStr, newPassword string) error {
	if issue := passwordIssue(newPassword); issue != "" {
		return apperrors.NewValidationError("invalid password", map[string]any{"password": issue})
	}
	token, err := s.resets.GetByToken(ctx, strings.TrimSpace(tokenStr))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewValidationError("invalid or expired reset token", nil)
		}
		return apperrors.MapError(err)
	}
	if token.UsedAt != nil || !s.now().Before(token.ExpiresAt) {
		return apperrors.NewValidationError("invalid or expired reset token", nil)
	}

	user, err := s.users.GetByID(ctx, token.UserID)
	if err != nil {
		return apperrors.MapError(err)
	}
	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	if err := s.resets.MarkUsed(ctx, token.ID); err != nil {
		if errors.Is(err, repository.ErrTokenUsed) {
			return apperrors.NewValidationError("invalid or expired reset token", nil)
		}
		return apperrors.MapError(err)
	}
	user.PasswordHash = hash
	return apperrors.MapError(s.users.Update(ctx, user))
}

// ChangePassword verifies current password before updating to new hash.
func (s *AuthService) ChangePassword(ctx context.Context, user *domain.User, currentPassword, newPassword string) error {
	if issue := passwordIssue(newPassword); issue != "" {
		return apperrors.NewValidationError("invalid password", map[string]any{"new_password": issue})
	}
	if err := auth.ComparePassword(user.PasswordHash, currentPassword); err != nil {
		return apperrors.NewUnauthorized("invalid credentials")
	}
	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	user.PasswordHash = hash
	return apperrors.MapError(s.users.Update(ctx, user))
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

func (s *AuthService) issue(user *domain.User, tenant *domain.Tenant) (*AuthResult, error) {
	token, meta, err := s.tokenMgr.GenerateToken(user)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return &AuthResult{User: user, Tenant: tenant, Token: token, Meta: meta}, nil
}

func (s *AuthService) activeTenant(ctx context.Context, slug string) (*domain.Tenant, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return nil, apperrors.NewValidationError("tenant is required", map[string]any{"tenant": "required"})
	}
	tenant, err := s.tenants.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("tenant", map[string]any{"tenant": slug})
		}
		return nil, apperrors.MapError(err)
	}
	if !tenant.Active {
		return nil, apperrors.NewNotFound("tenant", map[string]any{"tenant": slug})
	}
	return tenant, nil
}

func (s *AuthService) sendResetEmail(ctx context.Context, tenant *domain.Tenant, user *domain.User, token *repository.PasswordResetToken) {
	if s.renderer == nil || s.mail == nil {
		s.logger.Warn("password reset email not sent; mail pipeline not configured", zap.String("user_id", user.ID))
		return
	}
	msg, err := s.renderer.Render("password_reset", notify.TemplateData{
		RecipientName: user.Name,
		TenantName:    tenant.Name,
		Token:         token.Token,
		Deadline:      token.ExpiresAt.Format("2006-01-02 15:04 MST"),
	}, user.Locale, tenant.DefaultLocale, s.locale)
	if err != nil {
		s.logger.Error("render password reset email", zap.Error(err))
		return
	}
	if err := s.mail.Enqueue(ctx, notify.EmailJob{To: user.Email, Subject: msg.Subject, Body: msg.Body}); err != nil {
		s.logger.Error("enqueue password reset email", zap.String("user_id", user.ID), zap.Error(err))
	}
}
