package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulseboard/pulseboard/internal/app"
	"github.com/pulseboard/pulseboard/internal/audit"
	audithttp "github.com/pulseboard/pulseboard/internal/audit/http"
	"github.com/pulseboard/pulseboard/internal/observability"
	"github.com/pulseboard/pulseboard/internal/platform/cache"
	"github.com/pulseboard/pulseboard/internal/platform/db"
	"github.com/pulseboard/pulseboard/internal/rbac"
	"github.com/pulseboard/pulseboard/internal/security"
	securityhttp "github.com/pulseboard/pulseboard/internal/security/http"
	"github.com/pulseboard/pulseboard/internal/shared"
	"github.com/pulseboard/pulseboard/internal/users"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	identity := shared.NewIdentityResolver(redisClient, cfg.SessionTTL)

	auditService := audit.NewService(audit.NewRepository(pool), logger)

	catalog := rbac.NewCatalog()
	rbacService := rbac.NewService(
		rbac.NewRepository(pool),
		rbac.NewCache(redisClient, cfg.PermCacheTTL),
		catalog,
		auditService,
		logger,
	)
	if err := rbacService.Bootstrap(ctx); err != nil {
		logger.Error("bootstrap rbac", slog.Any("error", err))
		os.Exit(1)
	}
	rbacMW := rbac.Middleware{Checker: rbacService}

	policy := cfg.SecurityPolicy()
	var secStore security.Store
	if cfg.RateLimitStore == "memory" {
		secStore = security.NewMemoryStore()
	} else {
		secStore = security.NewRedisStore(redisClient)
	}
	limiter := security.NewLimiter(secStore, policy, logger)
	banList := security.NewBanList(secStore, policy, auditService, logger)
	guard := security.NewGuard(limiter, banList, metrics, logger)

	usersService := users.NewService(users.NewRepository(pool), rbacService)

	router := app.NewRouter(app.RouterParams{
		Middleware: app.MiddlewareStack(app.MiddlewareConfig{
			Logger:   logger,
			Config:   cfg,
			Identity: identity,
			Metrics:  metrics,
		}),
		Guard:           guard,
		RBACMiddleware:  rbacMW,
		RBACHandler:     rbac.NewHandler(logger, rbacService, rbacMW),
		UsersHandler:    users.NewHandler(logger, usersService, rbacMW),
		AuditHandler:    audithttp.NewHandler(logger, auditService),
		SecurityHandler: securityhttp.NewHandler(logger, banList),
		Metrics:         metrics,
	})

	srv := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
