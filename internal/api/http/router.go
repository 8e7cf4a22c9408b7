package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/servicedesk/internal/api/http/handlers"
	"github.com/spec-kit/servicedesk/internal/auth"
	"github.com/spec-kit/servicedesk/internal/domain"
	"github.com/spec-kit/servicedesk/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Admin          *handlers.AdminHandler
	Partner        *handlers.PartnerHandler
	Customer       *handlers.CustomerHandler
	Notifications  *handlers.NotificationsHandler
	Internal       *handlers.InternalHandler
	AuthMiddleware *auth.AuthMiddleware
	InternalSecret string
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Metrics.Registry(), promhttp.HandlerOpts{})))
	}

	authGroup := app.Group("/auth")
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/password/reset/request", cfg.Auth.RequestPasswordReset)
	authGroup.Post("/password/reset/confirm", cfg.Auth.ConfirmPasswordReset)

	authenticated := authGroup.Group("", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())
	authenticated.Post("/logout", cfg.Auth.Logout)
	authenticated.Get("/me", cfg.Auth.Me)
	authenticated.Post("/password/change", cfg.Auth.ChangePassword)

	api := app.Group("/api", cfg.AuthMiddleware.Handle)

	admin := api.Group("/admin", auth.RequireRole(domain.RoleAdmin))
	admin.Get("/tenant", cfg.Admin.GetTenant)
	admin.Patch("/tenant", cfg.Admin.UpdateTenant)
	admin.Post("/users", cfg.Admin.CreateUser)
	admin.Get("/users", cfg.Admin.ListUsers)
	admin.Post("/users/:id/activate", cfg.Admin.ActivateUser)
	admin.Post("/users/:id/deactivate", cfg.Admin.DeactivateUser)
	admin.Get("/requests", cfg.Admin.ListRequests)
	admin.Get("/requests/:id", cfg.Admin.GetRequest)
	admin.Post("/requests/:id/assign", cfg.Admin.AssignRequest)
	admin.Post("/requests/:id/cancel", cfg.Admin.CancelRequest)
	admin.Post("/requests/:id/close", cfg.Admin.CloseRequest)

	partner := api.Group("/partner", auth.RequireRole(domain.RolePartner))
	partner.Get("/requests", cfg.Partner.ListAssignments)
	partner.Get("/requests/:id", cfg.Partner.GetAssignment)
	partner.Post("/requests/:id/confirm", cfg.Partner.Confirm)
	partner.Post("/requests/:id/reject", cfg.Partner.Reject)
	partner.Post("/requests/:id/start", cfg.Partner.Start)
	partner.Post("/requests/:id/complete", cfg.Partner.Complete)

	customer := api.Group("/customer", auth.RequireRole(domain.RoleCustomer))
	customer.Post("/requests", cfg.Customer.CreateRequest)
	customer.Get("/requests", cfg.Customer.ListRequests)
	customer.Get("/requests/:id", cfg.Customer.GetRequest)
	customer.Post("/requests/:id/cancel", cfg.Customer.CancelRequest)
	customer.Post("/requests/:id/close", cfg.Customer.CloseRequest)

	notifications := api.Group("/notifications", auth.RequireAnyRole())
	notifications.Get("/", cfg.Notifications.List)
	notifications.Post("/read-all", cfg.Notifications.MarkAllRead)
	notifications.Post("/:id/read", cfg.Notifications.MarkRead)

	internal := app.Group("/internal", auth.RequireInternalSecret(cfg.InternalSecret))
	internal.Post("/cron/assignment-timeouts", cfg.Internal.CheckAssignmentTimeouts)
	internal.Post("/tenants", cfg.Internal.BootstrapTenant)
}
