package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appbilling "github.com/academy/backend/internal/application/billing"
	"github.com/academy/backend/internal/infrastructure/auth"
	"github.com/academy/backend/internal/infrastructure/cache"
	"github.com/academy/backend/internal/infrastructure/config"
	"github.com/academy/backend/internal/infrastructure/logger"
	"github.com/academy/backend/internal/infrastructure/payment"
	"github.com/academy/backend/internal/infrastructure/persistence"
	"github.com/academy/backend/internal/infrastructure/scheduler"
	"github.com/academy/backend/internal/infrastructure/telemetry"
	"github.com/academy/backend/internal/interfaces/http/handler"
	"github.com/academy/backend/internal/interfaces/http/middleware"
	"github.com/academy/backend/internal/interfaces/http/router"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting academy billing",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	ctx := context.Background()

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize metrics", zap.Error(err))
	}
	meter := meterProvider.Meter(cfg.Telemetry.ServiceName)

	billingMetrics, err := telemetry.NewBillingMetrics(meter)
	if err != nil {
		log.Fatal("Failed to create billing metrics", zap.Error(err))
	}

	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connected")

	dbTracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
	}, log)
	if err := dbTracing.Register(db.DB); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}

	store := persistence.NewGormBillingStore(db.DB)

	gatewayConfig, err := payment.NewPaysSamConfigBuilder().
		SetBaseURL(cfg.PaysSam.BaseURL).
		SetCredentials(cfg.PaysSam.MemberID, cfg.PaysSam.APIKey).
		SetCallbackURL(cfg.PaysSam.CallbackURL).
		SetTimeout(cfg.PaysSam.Timeout).
		SetTokenTiming(cfg.PaysSam.TokenTTL, cfg.PaysSam.TokenSkew).
		SetTimezone(cfg.PaysSam.Timezone).
		Build()
	if err != nil {
		log.Fatal("Invalid PaysSam configuration", zap.Error(err))
	}
	gateway, err := payment.NewPaysSamAdapter(gatewayConfig,
		payment.WithMetrics(billingMetrics),
		payment.WithAdapterLogger(log.Named("payssam")),
	)
	if err != nil {
		log.Fatal("Failed to create PaysSam adapter", zap.Error(err))
	}

	guard, err := cache.NewGuardFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(!cfg.IsProduction()),
	).CreateGuard()
	if err != nil {
		log.Fatal("Failed to create operation guard", zap.Error(err))
	}

	reconciliation := appbilling.NewReconciliationService(appbilling.ReconciliationServiceConfig{
		Store:   store,
		Gateway: gateway,
		Guard:   guard,
		Metrics: billingMetrics,
		Logger:  log,
		Config: appbilling.ServiceConfig{
			SplitMinimum: cfg.Billing.SplitMinimum,
			GuardTTL:     cfg.Billing.GuardTTL,
		},
	})
	webhooks := appbilling.NewWebhookService(appbilling.WebhookServiceConfig{
		Store:   store,
		Decoder: gateway,
		Metrics: billingMetrics,
		Logger:  log,
	})

	sweeper := appbilling.NewStaleBillSweeper(reconciliation, appbilling.SweepConfig{
		StaleAfter: cfg.Sweep.StaleAfter,
		BatchSize:  cfg.Sweep.BatchSize,
	}, log.Named("sweeper"))
	sweepScheduler := scheduler.NewStaleBillScheduler(sweeper, log.Named("sweeper"), scheduler.StaleBillSchedulerConfig{
		Enabled:    cfg.Sweep.Enabled,
		Interval:   cfg.Sweep.Interval,
		RunTimeout: cfg.Sweep.RunTimeout,
	})
	if err := sweepScheduler.Start(ctx); err != nil {
		log.Fatal("Failed to start stale bill scheduler", zap.Error(err))
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// RequestID first so the recovery and access logs carry it
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))
	engine.Use(middleware.TracingAttributes())
	engine.Use(middleware.HTTPMetrics(meter))
	engine.Use(middleware.Secure())
	engine.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
		AllowMethods:     cfg.HTTP.CORSAllowMethods,
		AllowHeaders:     cfg.HTTP.CORSAllowHeaders,
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(middleware.RequestTimeout(cfg.HTTP.RequestTimeout))

	deps := map[string]handler.Pinger{"database": handler.PingFunc(db.Ping)}
	if p, ok := guard.(handler.Pinger); ok {
		deps["redis"] = p
	}
	health := handler.NewHealthHandler(cfg.App.Name, version, deps)
	engine.GET("/health", health.Live)
	engine.GET("/ready", health.Ready)

	jwtService := auth.NewJWTService(cfg.JWT)
	jwtConfig := middleware.DefaultJWTConfig(jwtService)
	jwtConfig.Logger = log

	r := router.NewRouter(engine, router.WithAPIVersion("v1"))
	r.Register(router.BillingRoutes(router.BillingRoutesConfig{
		Billing: handler.NewBillingHandler(reconciliation),
		Webhook: handler.NewPaymentWebhookHandler(webhooks),
		Auth:    middleware.JWTAuthMiddlewareWithConfig(jwtConfig),
		WebhookSignature: middleware.WebhookSignature(middleware.WebhookSignatureConfig{
			Secret:  cfg.PaysSam.WebhookSecret,
			Metrics: billingMetrics,
		}),
		MaxBodySize: cfg.HTTP.MaxBodySize,
	})...)
	r.Setup()

	if cfg.PaysSam.WebhookSecret == "" {
		log.Warn("paysam.webhook_secret is empty, webhook signatures are not checked")
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("Server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// stop taking requests before the scheduler and the stores go away
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shut down", zap.Error(err))
	}
	if err := sweepScheduler.Stop(shutdownCtx); err != nil {
		log.Error("Stale bill scheduler did not stop cleanly", zap.Error(err))
	}
	if err := guard.Close(); err != nil {
		log.Error("Error closing operation guard", zap.Error(err))
	}
	if stats, err := db.Stats(); err == nil {
		log.Info("Database pool at shutdown",
			zap.Int("open", stats.OpenConnections),
			zap.Int("in_use", stats.InUse),
			zap.Int64("wait_count", stats.WaitCount),
			zap.Duration("wait_duration", stats.WaitDuration))
	}
	if err := db.Close(); err != nil {
		log.Error("Error closing database", zap.Error(err))
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error flushing metrics", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error flushing traces", zap.Error(err))
	}

	log.Info("Server exited")
}
