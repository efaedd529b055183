package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"memberdash/internal/core/domain"
	"memberdash/internal/core/ports"
	"memberdash/internal/core/services"
	httphandlers "memberdash/internal/handlers/http"
	"memberdash/internal/infrastructure/authz"
	"memberdash/internal/infrastructure/backend"
	"memberdash/internal/infrastructure/locking"
	"memberdash/internal/infrastructure/middleware"
	"memberdash/internal/infrastructure/monitoring"
	redisinfra "memberdash/internal/infrastructure/redis"
	"memberdash/internal/infrastructure/revalidate"
	"memberdash/pkg/cache"
	"memberdash/pkg/circuitbreaker"
	"memberdash/pkg/config"
	"memberdash/pkg/logger"
	"memberdash/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func memberServiceConfig(cfg *config.Config) services.MemberServiceConfig {
	return services.MemberServiceConfig{
		CallTimeout:       cfg.Provisioning.CallTimeout,
		PermissionCleanup: domain.PermissionCleanup(cfg.Provisioning.PermissionCleanup),
		MembersRoute:      cfg.Provisioning.MembersRoute,
		FilteredOrder:     sortOrder(cfg.Listing.FilteredOrder),
		UnfilteredOrder:   sortOrder(cfg.Listing.UnfilteredOrder),
	}
}

func sortOrder(o config.SortOrder) domain.SortOrder {
	return domain.SortOrder{Table: domain.SortTable(o.Table), Column: o.Column, Descending: o.Descending}
}

func serve(ctx context.Context, cfg *config.Config) error {
	startTime := time.Now()

	zapLogger, log := newLogger(cfg)
	defer zapLogger.Sync()
	contextLogger := logger.NewContextLogger(zapLogger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "memberdash",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warnw("Error shutting down tracer", "error", err)
		}
	}()

	collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)

	clients, err := backend.NewClientFactory(ctx, cfg, log, func(state circuitbreaker.State) {
		collector.SetBreakerState(int(state))
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := clients.Close(); err != nil {
			log.Errorw("Error closing backend", "error", err)
		}
	}()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redisinfra.NewClient(ctx, redisinfra.Options{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, log)
		if err != nil {
			// Locks fall back to memory and revalidation stays local.
			log.Warnw("Redis unavailable", "address", cfg.Redis.Address, "error", err)
			redisClient = nil
		} else {
			defer redisinfra.Close(redisClient)
		}
	}

	locker := locking.NewLocker(cfg.Provisioning.LockBackend, redisClient, cfg.Provisioning.LockTTL, cfg.Provisioning.LockWait, log)

	authorizer, err := authz.NewAuthorizer(authz.DefaultPolicies())
	if err != nil {
		return err
	}

	var (
		listingCache *services.ListingCache
		purgers      []revalidate.Purger
	)
	if cfg.Listing.CacheEnabled {
		listingCache = cache.New[[]*domain.MemberPermission](cfg.Listing.CacheSize, cfg.Listing.CacheTTL)
		purgers = append(purgers, listingCache)
	}

	var bus *revalidate.EventBus
	if redisClient != nil {
		bus = revalidate.NewEventBus(redisClient, uuid.NewString(), cfg.Revalidate.Channel, log)
	}
	hub := revalidate.NewHub(revalidate.Config{
		PingInterval:   cfg.Revalidate.PingInterval,
		WriteTimeout:   cfg.Revalidate.WriteTimeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, bus, log, purgers...)
	go hub.Run(ctx)

	var memberService ports.MemberService = services.NewMemberService(
		clients, authorizer, hub, locker, collector, log, memberServiceConfig(cfg),
	)
	if listingCache != nil {
		memberService = services.NewCachedMemberService(memberService, listingCache, cfg.Provisioning.MembersRoute)
	}
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.Issuer, clients)

	health := monitoring.NewHealthChecker()
	health.AddBackendCheck(cfg.Backend.Kind, clients, 3*time.Second)
	if redisClient != nil {
		health.AddRedisCheck(redisClient, 2*time.Second)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return fmt.Errorf("invalid trusted proxies: %w", err)
	}
	router.Use(
		middleware.RecoveryMiddleware(contextLogger),
		middleware.RequestIDMiddleware(),
		middleware.AccessLogMiddleware(contextLogger),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.AuthMiddleware(authService),
		middleware.TracingMiddleware(),
		collector.HTTPMiddleware(),
		middleware.ErrorHandlerMiddleware(contextLogger),
	)

	var gatherer prometheus.Gatherer
	if cfg.Monitoring.PrometheusEnabled {
		gatherer = prometheus.DefaultGatherer
	}
	httphandlers.NewOpsHandler(health, gatherer).SetupRoutes(router)
	httphandlers.NewAuthHandler(authService, cfg.Server.SecureCookies).SetupRoutes(router)
	httphandlers.NewMemberHandler(memberService).SetupRoutes(router)
	if cfg.Revalidate.WebSocketEnabled {
		router.GET("/api/v1/revalidate/ws", gin.WrapF(hub.HandleWebSocket))
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("Starting memberdash server", "address", cfg.Server.Address, "backend", cfg.Backend.Kind)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		log.Infow("Received shutdown signal", "uptime", time.Since(startTime).Round(time.Second).String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}
	return nil
}
