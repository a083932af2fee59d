package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/lab-result-api/api/swagger"
	"github.com/noah-isme/lab-result-api/internal/handler"
	"github.com/noah-isme/lab-result-api/internal/middleware"
	"github.com/noah-isme/lab-result-api/internal/models"
	"github.com/noah-isme/lab-result-api/internal/repository"
	"github.com/noah-isme/lab-result-api/internal/service"
	"github.com/noah-isme/lab-result-api/pkg/cache"
	"github.com/noah-isme/lab-result-api/pkg/config"
	"github.com/noah-isme/lab-result-api/pkg/database"
	"github.com/noah-isme/lab-result-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/lab-result-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/lab-result-api/pkg/middleware/requestid"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

type stores struct {
	results service.ResultStore
	rules   service.RuleRepository
	audit   service.AuditWriter
	checks  map[string]handler.ReadinessCheck
	close   func()
}

func openStores(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*stores, error) {
	if cfg.Engine.StoreDriver == config.StoreDriverMemory {
		logr.Warn("using in-memory result store; data does not survive restarts")
		return &stores{
			results: repository.NewMemoryResultStore(cfg.Engine.HistoryPriorLimit),
			rules:   repository.NewMemoryRuleRepository(),
			audit:   repository.NewMemoryAuditRepository(),
			checks:  map[string]handler.ReadinessCheck{},
			close:   func() {},
		}, nil
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &stores{
		results: repository.NewResultRepository(db, cfg.Engine.HistoryPriorLimit),
		rules:   repository.NewValidationRuleRepository(db),
		audit:   repository.NewAuditRepository(db),
		checks:  map[string]handler.ReadinessCheck{"database": db.PingContext},
		close:   func() { _ = db.Close() },
	}, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logr)
	if err != nil {
		return err
	}
	defer st.close()

	metrics := service.NewMetricsService()

	var redisClient *redis.Client
	if cfg.Rules.CacheEnabled || cfg.Notifications.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable; rule cache and notifications disabled", zap.Error(err))
		} else {
			defer redisClient.Close() //nolint:errcheck
			st.checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		}
	}

	var ruleCache *service.CacheService
	if redisClient != nil {
		ruleCache = service.NewCacheService(repository.NewCacheRepository(redisClient, logr), metrics, cfg.Rules.CacheTTL, logr, cfg.Rules.CacheEnabled)
	}

	var notifier service.NotificationDispatcher = service.NewLogNotificationDispatcher(logr)
	if cfg.Notifications.Enabled && redisClient != nil {
		dispatcher := service.NewQueueNotificationDispatcher(
			repository.NewRedisNotificationPublisher(redisClient, cfg.Notifications.Channel),
			cfg.Notifications, metrics, logr,
		)
		dispatcher.Start(ctx)
		defer dispatcher.Stop()
		notifier = dispatcher
	}

	clock := service.SystemClock{}
	ruleService := service.NewRuleService(st.rules, ruleCache, cfg.Rules.CacheTTL, metrics, logr)
	guard := service.NewConcurrencyGuard(st.results, cfg.Engine.MaxConflictRetries, metrics, logr)
	lifecycle := service.NewResultLifecycle(service.NewAmendmentRecorder(clock), clock, cfg.Engine.RequireOverrideNote)
	resultService := service.NewResultService(st.results, guard, lifecycle, ruleService, service.ResultServiceOptions{
		Clock:      clock,
		Metrics:    metrics,
		Audit:      st.audit,
		Notifier:   notifier,
		AuditTrail: cfg.Engine.TransitionAuditTrail,
		Logger:     logr,
	})

	router := newRouter(cfg, logr, routerDeps{
		metrics:  metrics,
		verifier: service.NewTokenVerifier(cfg.JWT),
		results:  handler.NewResultHandler(resultService),
		rules:    handler.NewRuleHandler(resultService, ruleService),
		health:   handler.NewMetricsHandler(metrics, st.checks),
		audit:    st.audit,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env), zap.String("store", cfg.Engine.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logr.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logr.Info("server stopped")
	return nil
}

type routerDeps struct {
	metrics  *service.MetricsService
	verifier *service.TokenVerifier
	results  *handler.ResultHandler
	rules    *handler.RuleHandler
	health   *handler.MetricsHandler
	audit    service.AuditWriter
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routerDeps) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metrics))

	r.GET("/health", deps.health.Health)
	r.GET("/ready", deps.health.Ready)
	r.GET("/metrics", deps.health.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(deps.verifier))

	results := api.Group("/results")
	results.GET("", deps.results.List)
	results.GET("/:id", deps.results.Get)
	results.GET("/:id/history", deps.results.History)
	results.POST("", middleware.RequireRoles(models.RoleTechnician), deps.results.Create)
	results.POST("/:id/transitions",
		middleware.RequireRoles(models.RoleTechnician, models.RoleReviewer, models.RolePathologist),
		deps.results.Transition,
	)

	api.POST("/evaluations", deps.rules.Evaluate)
	api.POST("/rules/:testId/invalidate",
		middleware.RequireRoles(models.RoleAdmin),
		middleware.Audit(deps.audit, models.AuditActionRuleInvalidate, models.AuditResourceRules, "testId"),
		deps.rules.Invalidate,
	)

	return r
}
