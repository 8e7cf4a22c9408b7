package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/servicedesk/internal/auth"
	"github.com/spec-kit/servicedesk/internal/config"
	"github.com/spec-kit/servicedesk/internal/domain"
	"github.com/spec-kit/servicedesk/internal/notify"
)

type authHarness struct {
	tenants *fakeTenants
	users   *fakeUsers
	resets  *fakeResets
	queue   *fakeQueue
	clock   *fixedClock
	tenant  *TenantService
	auth    *AuthService
}

func newAuthHarness(t *testing.T) *authHarness {
	t.Helper()
	renderer, err := notify.NewRenderer()
	require.NoError(t, err)

	h := &authHarness{
		tenants: newFakeTenants(),
		users:   newFakeUsers(),
		resets:  newFakeResets(),
		queue:   &fakeQueue{},
		clock:   &fixedClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)},
	}
	h.tenant = NewTenantService(TenantDependencies{
		TenantRepo: h.tenants,
		UserRepo:   h.users,
		BcryptCost: 4,
		Locales:    renderer.Locales(),
	})
	cfg := config.Config{
		Auth:         config.AuthConfig{JWTSecret: "secret", AccessTokenTTLMinutes: 60, PasswordResetTTLMinutes: 30, BcryptCost: 4},
		Notification: config.NotificationConfig{DefaultLocale: "en"},
	}
	h.auth = NewAuthService(cfg, AuthDependencies{
		TenantRepo:        h.tenants,
		UserRepo:          h.users,
		PasswordResetRepo: h.resets,
		Accounts:          h.tenant,
		Renderer:          renderer,
		EmailQueue:        h.queue,
		Clock:             h.clock.Now,
	})
	return h
}

func (h *authHarness) bootstrap(t *testing.T, slug string) (*domain.Tenant, *domain.User) {
	t.Helper()
	tenant, admin, err := h.tenant.Bootstrap(context.Background(), BootstrapInput{
		Name:          "Acme Facilities",
		Slug:          slug,
		AdminName:     "Root",
		AdminEmail:    "Root@" + slug + ".test",
		AdminPassword: "supersecret",
	})
	require.NoError(t, err)
	return tenant, admin
}

func TestBootstrapTenant(t *testing.T) {
	h := newAuthHarness(t)
	tenant, admin := h.bootstrap(t, "acme")

	assert.Equal(t, "en", tenant.DefaultLocale)
	assert.Equal(t, domain.RoleAdmin, admin.Role)
	assert.Equal(t, tenant.ID, admin.TenantID)
	assert.Equal(t, "root@acme.test", admin.Email)
	assert.NoError(t, auth.ComparePassword(admin.PasswordHash, "supersecret"))

	_, _, err := h.tenant.Bootstrap(context.Background(), BootstrapInput{
		Name: "Dup", Slug: "acme", AdminName: "x", AdminEmail: "x@y.test", AdminPassword: "longenough",
	})
	requireCode(t, err, "CONFLICT")

	_, _, err = h.tenant.Bootstrap(context.Background(), BootstrapInput{Name: "Bad", Slug: "Not A Slug!", DefaultLocale: "fr"})
	requireCode(t, err, "VALIDATION_FAILED")
}

func TestRegisterAndLogin(t *testing.T) {
	h := newAuthHarness(t)
	tenant, _ := h.bootstrap(t, "acme")
	ctx := context.Background()

	res, err := h.auth.RegisterCustomer(ctx, "acme", "Cal", "cal@example.com", "password1", "de")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCustomer, res.User.Role)
	assert.NotEmpty(t, res.Token)

	claims, err := h.auth.TokenManager().ParseToken(res.Token)
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, claims.TenantID)

	_, err = h.auth.RegisterCustomer(ctx, "acme", "Cal", "CAL@example.com", "password1", "")
	requireCode(t, err, "CONFLICT")

	_, err = h.auth.Login(ctx, "acme", "cal@example.com", "password1")
	require.NoError(t, err)
	_, err = h.auth.Login(ctx, "acme", "cal@example.com", "wrong-password")
	requireCode(t, err, "UNAUTHORIZED")
	_, err = h.auth.Login(ctx, "elsewhere", "cal@example.com", "password1")
	requireCode(t, err, "UNAUTHORIZED")
}

func TestLoginIsScopedToTenant(t *testing.T) {
	h := newAuthHarness(t)
	h.bootstrap(t, "acme")
	h.bootstrap(t, "globex")
	ctx := context.Background()

	_, err := h.auth.RegisterCustomer(ctx, "acme", "Cal", "cal@example.com", "password1", "")
	require.NoError(t, err)
	_, err = h.auth.RegisterCustomer(ctx, "globex", "Cal", "cal@example.com", "password2", "")
	require.NoError(t, err)

	res, err := h.auth.Login(ctx, "globex", "cal@example.com", "password2")
	require.NoError(t, err)
	assert.NotEqual(t, "acme", res.Tenant.Slug)
}

func TestDeactivatedUserCannotLogin(t *testing.T) {
	h := newAuthHarness(t)
	_, admin := h.bootstrap(t, "acme")
	ctx := context.Background()

	user, err := h.tenant.CreateUser(ctx, admin, UserCreateInput{
		Role: domain.RolePartner, Name: "Pat", Email: "pat@acme.test", Password: "password1",
	})
	require.NoError(t, err)
	_, err = h.tenant.SetUserActive(ctx, admin, user.ID, false)
	require.NoError(t, err)

	_, err = h.auth.Login(ctx, "acme", "pat@acme.test", "password1")
	requireCode(t, err, "FORBIDDEN")

	_, err = h.tenant.SetUserActive(ctx, admin, admin.ID, false)
	requireCode(t, err, "CONFLICT")
}

func TestPasswordResetFlow(t *testing.T) {
	h := newAuthHarness(t)
	h.bootstrap(t, "acme")
	ctx := context.Background()

	_, err := h.auth.RegisterCustomer(ctx, "acme", "Cal", "cal@example.com", "password1", "")
	require.NoError(t, err)

	require.NoError(t, h.auth.RequestPasswordReset(ctx, "acme", "nobody@example.com"))
	assert.Empty(t, h.queue.sent())

	require.NoError(t, h.auth.RequestPasswordReset(ctx, "acme", "cal@example.com"))
	jobs := h.queue.sent()
	require.Len(t, jobs, 1)
	assert.Equal(t, "cal@example.com", jobs[0].To)

	var token string
	for k := range h.resets.tokens {
		token = k
	}
	require.True(t, strings.Contains(jobs[0].Body, token))

	require.NoError(t, h.auth.ConfirmPasswordReset(ctx, token, "new-password"))
	_, err = h.auth.Login(ctx, "acme", "cal@example.com", "new-password")
	require.NoError(t, err)

	err = h.auth.ConfirmPasswordReset(ctx, token, "another-password")
	requireCode(t, err, "VALIDATION_FAILED")
}

func TestPasswordResetExpires(t *testing.T) {
	h := newAuthHarness(t)
	h.bootstrap(t, "acme")
	ctx := context.Background()
	_, err := h.auth.RegisterCustomer(ctx, "acme", "Cal", "cal@example.com", "password1", "")
	require.NoError(t, err)
	require.NoError(t, h.auth.RequestPasswordReset(ctx, "acme", "cal@example.com"))

	var token string
	for k := range h.resets.tokens {
		token = k
	}
	h.clock.Advance(31 * time.Minute)
	requireCode(t, h.auth.ConfirmPasswordReset(ctx, token, "new-password"), "VALIDATION_FAILED")
}

func TestChangePassword(t *testing.T) {
	h := newAuthHarness(t)
	_, admin := h.bootstrap(t, "acme")
	ctx := context.Background()

	requireCode(t, h.auth.ChangePassword(ctx, admin, "wrong", "new-password"), "UNAUTHORIZED")
	require.NoError(t, h.auth.ChangePassword(ctx, admin, "supersecret", "new-password"))

	_, err := h.auth.Login(ctx, "acme", admin.Email, "new-password")
	require.NoError(t, err)
}

func TestOverlongPasswordsAreValidationErrors(t *testing.T) {
	h := newAuthHarness(t)
	_, admin := h.bootstrap(t, "acme")
	ctx := context.Background()
	long := strings.Repeat("p", 80)

	_, _, err := h.tenant.Bootstrap(ctx, BootstrapInput{
		Name: "Globex", Slug: "globex", AdminName: "Root", AdminEmail: "root@globex.test", AdminPassword: long,
	})
	requireCode(t, err, "VALIDATION_FAILED")

	_, err = h.auth.RegisterCustomer(ctx, "acme", "Cal", "cal@example.com", long, "")
	requireCode(t, err, "VALIDATION_FAILED")

	_, err = h.tenant.CreateUser(ctx, admin, UserCreateInput{
		Role: domain.RolePartner, Name: "Pat", Email: "pat@acme.test", Password: long,
	})
	requireCode(t, err, "VALIDATION_FAILED")

	_, err = h.auth.RegisterCustomer(ctx, "acme", "Cal", "cal@example.com", "password1", "")
	require.NoError(t, err)
	require.NoError(t, h.auth.RequestPasswordReset(ctx, "acme", "cal@example.com"))
	var token string
	for k := range h.resets.tokens {
		token = k
	}
	requireCode(t, h.auth.ConfirmPasswordReset(ctx, token, long), "VALIDATION_FAILED")
	require.NoError(t, h.auth.ConfirmPasswordReset(ctx, token, strings.Repeat("p", auth.MaxPasswordBytes)))

	requireCode(t, h.auth.ChangePassword(ctx, admin, "supersecret", long), "VALIDATION_FAILED")
	_, err = h.auth.Login(ctx, "acme", admin.Email, "supersecret")
	require.NoError(t, err)
}

func TestTenantSettings(t *testing.T) {
	h := newAuthHarness(t)
	tenant, _ := h.bootstrap(t, "acme")

	de := "de"
	updated, err := h.tenant.Update(context.Background(), tenant.ID, TenantUpdateInput{DefaultLocale: &de})
	require.NoError(t, err)
	assert.Equal(t, "de", updated.DefaultLocale)

	fr := "fr"
	_, err = h.tenant.Update(context.Background(), tenant.ID, TenantUpdateInput{DefaultLocale: &fr})
	requireCode(t, err, "VALIDATION_FAILED")
}
