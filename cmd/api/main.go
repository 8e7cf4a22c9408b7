package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/servicedesk/internal/api/http"
	"github.com/spec-kit/servicedesk/internal/api/http/handlers"
	"github.com/spec-kit/servicedesk/internal/auth"
	"github.com/spec-kit/servicedesk/internal/config"
	"github.com/spec-kit/servicedesk/internal/events"
	"github.com/spec-kit/servicedesk/internal/notify"
	"github.com/spec-kit/servicedesk/internal/observability"
	"github.com/spec-kit/servicedesk/internal/persistence"
	"github.com/spec-kit/servicedesk/internal/repository"
	"github.com/spec-kit/servicedesk/internal/service"
	"github.com/spec-kit/servicedesk/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App, "api")
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	mirror, err := events.ConnectNATS(cfg.NATS, logger)
	if err != nil {
		logger.Fatal("failed to connect nats", zap.Error(err))
	}
	defer mirror.Close()

	renderer, err := notify.NewRenderer()
	if err != nil {
		logger.Fatal("failed to load notification templates", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher(logger)
	emailQueue := notify.NewRedisQueue(redis.Client, cfg.Notification.QueueKey)

	pool := pg.PoolHandle()
	tenantRepo := repository.NewTenantRepository(pool)
	userRepo := repository.NewUserRepository(pool)
	resetRepo := repository.NewPasswordResetRepository(pool)
	requestRepo := repository.NewRequestRepository(pool)
	historyRepo := repository.NewRequestHistoryRepository(pool)
	notificationRepo := repository.NewNotificationRepository(pool)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	tenantService := service.NewTenantService(service.TenantDependencies{
		TenantRepo: tenantRepo,
		UserRepo:   userRepo,
		BcryptCost: cfg.Auth.BcryptCost,
		Locales:    renderer.Locales(),
	})
	authService := service.NewAuthService(*cfg, service.AuthDependencies{
		TenantRepo:        tenantRepo,
		UserRepo:          userRepo,
		PasswordResetRepo: resetRepo,
		Accounts:          tenantService,
		Renderer:          renderer,
		EmailQueue:        emailQueue,
		TokenManager:      tokens,
		Logger:            logger,
	})
	lifecycle := service.LifecycleDependencies{
		RequestRepo:    requestRepo,
		HistoryRepo:    historyRepo,
		UserRepo:       userRepo,
		Dispatcher:     dispatcher,
		Metrics:        metrics,
		Logger:         logger,
		ResponseWindow: cfg.Assignment.ResponseWindow,
	}
	requestService := service.NewRequestService(lifecycle)
	assignmentService := service.NewAssignmentService(lifecycle)
	timeoutService := service.NewTimeoutService(service.TimeoutDependencies{
		RequestRepo: requestRepo,
		Locker:      persistence.NewRedisLocker(redis),
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
		LockTTL:     cfg.Assignment.CheckLockTTL,
		BatchSize:   cfg.Assignment.CheckBatchSize,
	})
	notificationService := service.NewNotificationService(service.NotificationDependencies{
		Dispatcher:       dispatcher,
		NotificationRepo: notificationRepo,
		UserRepo:         userRepo,
		TenantRepo:       tenantRepo,
		Renderer:         renderer,
		EmailQueue:       emailQueue,
		Metrics:          metrics,
		Logger:           logger,
		Config:           cfg.Notification,
	})

	worker.StartNotificationWorker(notificationService, mirror, dispatcher)

	var wg sync.WaitGroup
	emailWorker := worker.NewEmailWorker(emailQueue, notify.NewSMTPMailer(cfg.Notification), cfg.Notification.MaxRetries, metrics, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		emailWorker.Run(ctx)
	}()

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}),
		Auth:           handlers.NewAuthHandler(authService),
		Admin:          handlers.NewAdminHandler(tenantService, requestService, assignmentService),
		Partner:        handlers.NewPartnerHandler(assignmentService),
		Customer:       handlers.NewCustomerHandler(requestService),
		Notifications:  handlers.NewNotificationsHandler(notificationService),
		Internal:       handlers.NewInternalHandler(timeoutService, tenantService),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, userRepo, tenantRepo),
		InternalSecret: cfg.Internal.Secret,
		Metrics:        metrics,
	})

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	cancel()
	wg.Wait()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
