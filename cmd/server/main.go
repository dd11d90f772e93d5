package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/aryan0dhankhar/tenantcatalog/internal/domain"
	"github.com/aryan0dhankhar/tenantcatalog/internal/featureflags"
	"github.com/aryan0dhankhar/tenantcatalog/internal/handler"
	"github.com/aryan0dhankhar/tenantcatalog/internal/infrastructure/logger"
	"github.com/aryan0dhankhar/tenantcatalog/internal/infrastructure/redis"
	"github.com/aryan0dhankhar/tenantcatalog/internal/observability/metrics"
	"github.com/aryan0dhankhar/tenantcatalog/internal/observability/tracing"
	"github.com/aryan0dhankhar/tenantcatalog/internal/repository"
	"github.com/aryan0dhankhar/tenantcatalog/internal/result"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security/audit"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security/auth"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security/middleware"
	"github.com/aryan0dhankhar/tenantcatalog/internal/security/ratelimit"
	"github.com/aryan0dhankhar/tenantcatalog/internal/service"
	"github.com/aryan0dhankhar/tenantcatalog/internal/worker"
	"github.com/aryan0dhankhar/tenantcatalog/pkg/config"
	"github.com/aryan0dhankhar/tenantcatalog/pkg/database"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize structured logger
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)
	result.SetHookLogger(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	flags := featureflags.Parse(cfg.FeatureFlags)
	log.Info("starting tenantcatalog server",
		slog.String("environment", cfg.Environment),
		slog.Any("feature_flags", flags.Names()),
	)

	// 3. Tracing
	shutdownTracing, err := tracing.Init(ctx, log, cfg.OTLPEndpoint, "tenantcatalog", cfg.Environment)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("tracing shutdown failed", slog.String("error", err.Error()))
		}
	}()

	// 4. Database
	pool, err := database.NewConnectionPool(ctx, &database.Config{
		URL:             cfg.DatabaseURL,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnectAttempts: cfg.DBConnectAttempts,
	}, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// 5. Redis, only needed for the domain index
	checks := map[string]handler.Pinger{"postgres": handler.PingFunc(pool.Health), "redis": nil}
	var index domain.TenantDomainIndex
	if flags.Enabled(featureflags.RedisDomainIndex) {
		redisClient, err := redis.NewClient(ctx, cfg.RedisURL, log)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
		index = repository.NewRedisDomainIndex(redisClient, log)
		checks["redis"] = redisClient
	}

	// 6. Security components
	clock := clockwork.NewRealClock()
	auditLogger := audit.NewLogger(log)
	guard := security.NewTenantGuard(log, auditLogger)
	tokens, err := auth.NewTokenManager(cfg.JWTSecret, "tenantcatalog", clock)
	if err != nil {
		return fmt.Errorf("token manager: %w", err)
	}
	apiLimiter := ratelimit.NewLimiter(cfg.APIRateLimit, cfg.APIRateWindow, clock)
	defer apiLimiter.Stop()

	var throttle service.Throttle
	if flags.Enabled(featureflags.LoginThrottle) {
		loginLimiter := ratelimit.NewLimiter(cfg.LoginThrottleLimit, cfg.LoginThrottleWindow, clock)
		defer loginLimiter.Stop()
		throttle = loginLimiter
	}

	// 7. Repositories and services
	db := pool.GetDB()
	tenantRepo := repository.NewPostgresTenantRepository(db, log)
	productRepo := repository.NewPostgresProductRepository(db, log)
	userRepo := repository.NewPostgresUserRepository(db, log)

	tenants := service.NewTenantService(tenantRepo, index, guard, log, clock, cfg.DomainIndexTimeout)
	products := service.NewProductService(productRepo, tenantRepo, guard, log, clock)
	logins := service.NewLoginService(userRepo, tenantRepo, tokens, throttle, auditLogger, log, clock, service.LoginPolicy{
		MaxAttempts:     cfg.LoginMaxAttempts,
		LockoutDuration: cfg.LoginLockoutDuration,
		TokenTTL:        cfg.TokenTTL,
	})

	// 8. HTTP routes
	productHandler := handler.NewProductHandler(products, log)
	tenantHandler := handler.NewTenantHandler(tenants, log)
	loginHandler := handler.NewLoginHandler(logins, log)
	healthHandler := handler.NewHealthHandler(checks, log)

	api := http.NewServeMux()
	route := func(pattern string, h http.Handler) {
		api.Handle(pattern, metrics.InstrumentRoute(pattern, h))
	}
	route("POST /api/login", loginHandler)
	route("GET /api/resolve", http.HandlerFunc(tenantHandler.Resolve))
	route("GET /api/tenants/{id}", http.HandlerFunc(tenantHandler.Get))
	route("GET /api/products", http.HandlerFunc(productHandler.List))
	route("POST /api/products", http.HandlerFunc(productHandler.Create))
	route("GET /api/products/{id}", http.HandlerFunc(productHandler.Get))
	route("POST /api/products/{id}/stock", http.HandlerFunc(productHandler.AdjustStock))
	route("PUT /api/products/{id}/price", http.HandlerFunc(productHandler.UpdatePrice))

	// Chain: correlation id -> input checks -> JWT -> rate limit -> audit
	apiHandler := middleware.CorrelationID(
		middleware.SanitizeInputs(log)(
			middleware.ValidateJSONContentType(log)(
				middleware.JWTMiddleware(tokens, middleware.PublicPaths("/api/login", "/api/resolve"), log)(
					middleware.RateLimitMiddleware(apiLimiter, log)(
						middleware.AuditMiddleware(auditLogger)(api),
					),
				),
			),
		),
	)

	root := http.NewServeMux()
	root.Handle("/api/", otelhttp.NewHandler(apiHandler, "api"))
	root.Handle("GET /healthz", metrics.HTTPMetricsMiddleware(http.HandlerFunc(healthHandler.Health)))
	root.Handle("GET /readyz", metrics.HTTPMetricsMiddleware(http.HandlerFunc(healthHandler.Ready)))
	root.Handle("GET /metrics", promhttp.Handler())

	// 9. Subscription worker
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	if flags.Enabled(featureflags.SubscriptionSweep) {
		go worker.NewSubscriptionWorker(tenants, log, clock, cfg.SubscriptionSweep).Start(workerCtx)
	}

	// 10. HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting",
			slog.Int("port", cfg.ServerPort),
			slog.Int("rate_limit", cfg.APIRateLimit),
			slog.Duration("rate_limit_window", cfg.APIRateWindow),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cancelWorker()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
