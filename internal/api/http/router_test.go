package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk/internal/api/http/handlers"
	"github.com/spec-kit/servicedesk/internal/auth"
	"github.com/spec-kit/servicedesk/internal/config"
	"github.com/spec-kit/servicedesk/internal/domain"
	"github.com/spec-kit/servicedesk/internal/observability"
	"github.com/spec-kit/servicedesk/internal/repository"
	"github.com/spec-kit/servicedesk/internal/service"
)

const internalSecret = "cron-secret"

type stubUsers struct {
	repository.UserRepository
	byID map[string]*domain.User
}

func (s *stubUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	if u, ok := s.byID[id]; ok {
		return u, nil
	}
	return nil, pgx.ErrNoRows
}

type stubTenants struct {
	repository.TenantRepository
	byID map[string]*domain.Tenant
}

func (s *stubTenants) GetByID(_ context.Context, id string) (*domain.Tenant, error) {
	if t, ok := s.byID[id]; ok {
		return t, nil
	}
	return nil, pgx.ErrNoRows
}

type stubRequests struct {
	repository.RequestRepository
	created []*domain.ServiceRequest
	expired []repository.ExpiredAssignment
}

func (s *stubRequests) Create(_ context.Context, req *domain.ServiceRequest, _ *domain.RequestHistory) error {
	req.ID = "req-1"
	req.CreatedAt = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	req.UpdatedAt = req.CreatedAt
	s.created = append(s.created, req)
	return nil
}

func (s *stubRequests) ReassignExpired(_ context.Context, _ time.Time, _ int) ([]repository.ExpiredAssignment, error) {
	return s.expired, nil
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type testEnv struct {
	app      *fiber.App
	tokens   *auth.TokenManager
	requests *stubRequests
	users    map[string]*domain.User
}

func newTestEnv(t *testing.T, redisErr error) *testEnv {
	t.Helper()

	tenant := &domain.Tenant{ID: "t1", Name: "Acme", Slug: "acme", DefaultLocale: "en", Active: true}
	users := map[string]*domain.User{
		"admin":    {ID: "admin", TenantID: "t1", Role: domain.RoleAdmin, Active: true},
		"partner":  {ID: "partner", TenantID: "t1", Role: domain.RolePartner, Active: true},
		"customer": {ID: "customer", TenantID: "t1", Role: domain.RoleCustomer, Active: true},
	}
	userRepo := &stubUsers{byID: users}
	tenantRepo := &stubTenants{byID: map[string]*domain.Tenant{"t1": tenant}}
	requests := &stubRequests{}
	tokens := auth.NewTokenManager("secret", 5)
	metrics := observability.NewMetrics()

	lifecycle := service.LifecycleDependencies{RequestRepo: requests, UserRepo: userRepo, Metrics: metrics}
	requestService := service.NewRequestService(lifecycle)
	assignmentService := service.NewAssignmentService(lifecycle)
	tenantService := service.NewTenantService(service.TenantDependencies{TenantRepo: tenantRepo, UserRepo: userRepo, Locales: []string{"en"}})
	authService := service.NewAuthService(config.Config{}, service.AuthDependencies{
		TenantRepo:   tenantRepo,
		UserRepo:     userRepo,
		Accounts:     tenantService,
		TokenManager: tokens,
	})
	timeoutService := service.NewTimeoutService(service.TimeoutDependencies{RequestRepo: requests, Metrics: metrics})
	notificationService := service.NewNotificationService(service.NotificationDependencies{UserRepo: userRepo, TenantRepo: tenantRepo})

	app := fiber.New()
	RegisterMiddlewares(app, zap.NewNop(), metrics, time.Second)
	app.Get("/boom", func(*fiber.Ctx) error { panic("kaboom") })
	RegisterRoutes(app, RouteConfig{
		Health: handlers.NewHealthHandler("servicedesk", "test", map[string]handlers.Pinger{
			"postgres": pinger{},
			"redis":    pinger{err: redisErr},
		}),
		Auth:           handlers.NewAuthHandler(authService),
		Admin:          handlers.NewAdminHandler(tenantService, requestService, assignmentService),
		Partner:        handlers.NewPartnerHandler(assignmentService),
		Customer:       handlers.NewCustomerHandler(requestService),
		Notifications:  handlers.NewNotificationsHandler(notificationService),
		Internal:       handlers.NewInternalHandler(timeoutService, tenantService),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, userRepo, tenantRepo),
		InternalSecret: internalSecret,
		Metrics:        metrics,
	})
	return &testEnv{app: app, tokens: tokens, requests: requests, users: users}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := e.tokens.GenerateToken(e.users[userID])
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token, body string, headers ...string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func errorCode(body map[string]any) string {
	errBody, _ := body["error"].(map[string]any)
	code, _ := errBody["code"].(string)
	return code
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	status, body := env.do(t, fiber.MethodGet, "/health/live", "", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "alive", body["status"])

	status, body = env.do(t, fiber.MethodGet, "/health/ready", "", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ready", body["status"])

	down := newTestEnv(t, errors.New("connection refused"))
	status, body = down.do(t, fiber.MethodGet, "/health/ready", "", "")
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, "DEPENDENCY_UNAVAILABLE", errorCode(body))
}

func TestMetricsEndpointExposesRegistry(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, fiber.MethodGet, "/health/live", "", "")

	resp, err := env.app.Test(httptest.NewRequest(fiber.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "servicedesk_http_requests_total")
}

func TestErrorEnvelope(t *testing.T) {
	env := newTestEnv(t, nil)

	status, body := env.do(t, fiber.MethodGet, "/nope", "", "")
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(body))

	status, body = env.do(t, fiber.MethodGet, "/boom", "", "")
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL_ERROR", errorCode(body))
}

func TestPortalGuards(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		path   string
		user   string
		status int
	}{
		{"anonymous", "/api/customer/requests", "", fiber.StatusUnauthorized},
		{"partner on admin portal", "/api/admin/requests", "partner", fiber.StatusForbidden},
		{"customer on partner portal", "/api/partner/requests", "customer", fiber.StatusForbidden},
		{"admin on customer portal", "/api/customer/requests", "admin", fiber.StatusForbidden},
		{"anonymous me", "/auth/me", "", fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := ""
			if tt.user != "" {
				token = env.token(t, tt.user)
			}
			status, _ := env.do(t, fiber.MethodGet, tt.path, token, "")
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestMeReturnsPrincipal(t *testing.T) {
	env := newTestEnv(t, nil)
	status, body := env.do(t, fiber.MethodGet, "/auth/me", env.token(t, "partner"), "")
	require.Equal(t, fiber.StatusOK, status)

	data := body["data"].(map[string]any)
	assert.Equal(t, "PARTNER", data["user"].(map[string]any)["role"])
	assert.Equal(t, "acme", data["tenant"].(map[string]any)["slug"])
}

func TestCustomerCreatesRequest(t *testing.T) {
	env := newTestEnv(t, nil)
	status, body := env.do(t, fiber.MethodPost, "/api/customer/requests", env.token(t, "customer"),
		`{"title":"Leaking tap","description":"Kitchen tap drips","category":"plumbing"}`)
	require.Equal(t, fiber.StatusCreated, status, body)

	data := body["data"].(map[string]any)
	assert.Equal(t, "submitted", data["status"])
	assert.Equal(t, "normal", data["priority"])
	assert.True(t, strings.HasPrefix(data["reference"].(string), "SR-"))
	require.Len(t, env.requests.created, 1)
	assert.Equal(t, "customer", env.requests.created[0].CustomerID)
}

func TestCustomerCreateValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	status, body := env.do(t, fiber.MethodPost, "/api/customer/requests", env.token(t, "customer"), `{"title":""}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))
	assert.Empty(t, env.requests.created)
}

func TestListRejectsUnknownStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	status, body := env.do(t, fiber.MethodGet, "/api/partner/requests?status=lost", env.token(t, "partner"), "")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))
}

func TestMalformedIDsNeverReachStorage(t *testing.T) {
	env := newTestEnv(t, nil)
	const requestID = "6f1c2a94-3b7e-4d0a-9c55-2e8f4b1d7a30"

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   string
		status int
		code   string
	}{
		{"customer get", fiber.MethodGet, "/api/customer/requests/not-a-uuid", "customer", "", fiber.StatusNotFound, "NOT_FOUND"},
		{"customer cancel", fiber.MethodPost, "/api/customer/requests/abc/cancel", "customer", "", fiber.StatusNotFound, "NOT_FOUND"},
		{"partner confirm", fiber.MethodPost, "/api/partner/requests/42/confirm", "partner", "", fiber.StatusNotFound, "NOT_FOUND"},
		{"admin get", fiber.MethodGet, "/api/admin/requests/not-a-uuid", "admin", "", fiber.StatusNotFound, "NOT_FOUND"},
		{"notification read", fiber.MethodPost, "/api/notifications/nope/read", "customer", "", fiber.StatusNotFound, "NOT_FOUND"},
		{"assign bad partner", fiber.MethodPost, "/api/admin/requests/" + requestID + "/assign", "admin", `{"partner_id":"partner"}`, fiber.StatusBadRequest, "VALIDATION_FAILED"},
		{"list bad partner filter", fiber.MethodGet, "/api/admin/requests?partner_id=partner", "admin", "", fiber.StatusBadRequest, "VALIDATION_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, tt.method, tt.path, env.token(t, tt.user), tt.body)
			assert.Equal(t, tt.status, status, body)
			assert.Equal(t, tt.code, errorCode(body))
		})
	}
}

func TestTimeoutEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.requests.expired = []repository.ExpiredAssignment{{
		RequestID:         "req-9",
		TenantID:          "t1",
		Reference:         "SR-0000BEEF",
		PreviousPartnerID: "partner",
		Deadline:          time.Now().Add(-time.Minute),
	}}

	status, body := env.do(t, fiber.MethodPost, "/internal/cron/assignment-timeouts", "", "")
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))

	status, _ = env.do(t, fiber.MethodPost, "/internal/cron/assignment-timeouts", "", "", auth.CronSecretHeader, "wrong")
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, body = env.do(t, fiber.MethodPost, "/internal/cron/assignment-timeouts", "", "", auth.CronSecretHeader, internalSecret)
	require.Equal(t, fiber.StatusOK, status)
	data := body["data"].(map[string]any)
	assert.Equal(t, false, data["skipped"])
	assert.NotEmpty(t, data["checked_at"])
	reassigned := data["reassigned"].([]any)
	require.Len(t, reassigned, 1)
	entry := reassigned[0].(map[string]any)
	assert.Equal(t, "req-9", entry["id"])
	assert.Equal(t, "SR-0000BEEF", entry["reference"])
	assert.Equal(t, "partner", entry["previous_partner_id"])
}
