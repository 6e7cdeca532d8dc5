package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/irfndi/celebrum-gem-go/internal/api"
	"github.com/irfndi/celebrum-gem-go/internal/api/handlers"
	"github.com/irfndi/celebrum-gem-go/internal/cache"
	"github.com/irfndi/celebrum-gem-go/internal/config"
	"github.com/irfndi/celebrum-gem-go/internal/database"
	"github.com/irfndi/celebrum-gem-go/internal/logging"
	"github.com/irfndi/celebrum-gem-go/internal/middleware"
	"github.com/irfndi/celebrum-gem-go/internal/pricing"
	"github.com/irfndi/celebrum-gem-go/internal/services"
	"github.com/irfndi/celebrum-gem-go/internal/telemetry"
	"github.com/irfndi/celebrum-gem-go/pkg/marketdata"
)

const (
	analyticsReportInterval = 5 * time.Minute
	shutdownTimeout         = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := telemetry.InitTelemetry(telemetryConfig(cfg)); err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to shutdown telemetry: %v\n", err)
		}
	}()

	logger := newLogger(cfg)
	defer func() { _ = logger.Shutdown(context.Background()) }()

	// logrus for the resilience and database layers
	logrusLogger := logging.NewLogrusLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db *database.PostgresDB
	if cfg.Database.Enabled {
		db, err = database.NewPostgresConnection(&cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
	}

	var redisClient *database.RedisClient
	if cfg.Redis.Enabled {
		redisClient, err = database.NewRedisConnection(cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer redisClient.Close()
	}

	var pool database.DatabasePool
	if db != nil {
		pool = db.Pool
	}
	store, err := newCacheStore(ctx, cfg, redisClient, pool)
	if err != nil {
		return err
	}

	client := marketdata.NewClient(&cfg.MarketData)
	providerConfig := resilienceConfig(cfg.MarketData)
	provider := services.NewResilientProvider(client, providerConfig, logrusLogger)

	var dbCheck, redisCheck handlers.HealthChecker
	analytics := services.NewCacheAnalyticsService(nil)
	if redisClient != nil {
		analytics = services.NewCacheAnalyticsService(redisClient.Client)
		redisCheck = redisClient
	}
	if db != nil {
		dbCheck = db
	}
	analytics.StartPeriodicReporting(ctx, analyticsReportInterval)

	marketCache := cache.NewMarketDataCache(store, provider, cache.MarketDataCacheConfig{
		TTL:          cfg.MarketData.CacheTTLDuration(),
		FetchTimeout: fetchTimeout(cfg.MarketData, providerConfig),
		Recorder:     analytics,
		Logger:       logger,
	})
	pricingService := pricing.NewService(marketCache, pricing.ServiceConfig{
		DefaultClarity: cfg.Pricing.DefaultClarity,
		Logger:         logger,
		Tracer:         telemetry.NewPricingTracer(),
	})

	warmer := services.NewCacheWarmingService(pricingService, cfg.MarketData.RefreshIntervalDuration(), logger)
	if cfg.MarketData.WarmOnStartup {
		// a cold start without data still serves once the provider recovers
		if err := warmer.WarmCache(ctx); err != nil {
			logger.WithError(err).Warn("Cache warming failed")
		}
	}
	warmer.Start(ctx)
	defer warmer.Stop()

	router := newRouter(cfg, logger, api.Dependencies{
		Pricing:        pricingService,
		Analytics:      analytics,
		Provider:       provider,
		Database:       dbCheck,
		Redis:          redisCheck,
		Breakers:       provider,
		Snapshots:      snapshotLister(store),
		Auth:           middleware.NewAuthMiddleware(cfg.Security.JWTSecret),
		Admin:          middleware.NewAdminMiddleware(cfg.Security.AdminAPIKey, cfg.Security.AdminAPIKeyHash),
		RequireAuth:    cfg.Security.RequireAuth,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
	})
	srv := newHTTPServer(cfg, router)

	serveErr := make(chan error, 1)
	go func() {
		logger.LogStartup(cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
		logger.LogShutdown(cfg.Telemetry.ServiceName, "signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logrusLogger.Info("Server exited gracefully")
	return nil
}

func newLogger(cfg *config.Config) *logging.StandardLogger {
	if cfg.Telemetry.LogsEnabled {
		return logging.NewStandardOTLPLogger(logging.OTLPConfig{
			Endpoint:       otlpLogEndpoint(cfg.Telemetry.OTLPEndpoint),
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: cfg.Telemetry.ServiceVersion,
			Environment:    cfg.Environment,
			LogLevel:       cfg.LogLevel,
		})
	}
	return logging.NewStandardLogger(cfg.LogLevel)
}

// otlpLogEndpoint reduces a collector URL to the host:port the log exporter
// expects.
func otlpLogEndpoint(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}

func telemetryConfig(cfg *config.Config) telemetry.TelemetryConfig {
	tc := *telemetry.DefaultConfig()
	tc.Enabled = cfg.Telemetry.Enabled
	if cfg.Telemetry.Exporter != "" {
		tc.Exporter = cfg.Telemetry.Exporter
	}
	tc.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	if cfg.Telemetry.ServiceName != "" {
		tc.ServiceName = cfg.Telemetry.ServiceName
	}
	if cfg.Telemetry.ServiceVersion != "" {
		tc.ServiceVersion = cfg.Telemetry.ServiceVersion
	}
	tc.Environment = cfg.Environment
	if cfg.Telemetry.SampleRatio > 0 {
		tc.SampleRate = cfg.Telemetry.SampleRatio
	}
	return tc
}

func resilienceConfig(md config.MarketDataConfig) services.ResilientProviderConfig {
	rc := services.DefaultResilientProviderConfig()
	rc.RateLimit = rate.Limit(md.RateLimitPerSecond)
	if md.RateBurst > 0 {
		rc.RateBurst = md.RateBurst
	}
	if md.MaxRetries >= 0 {
		rc.Retry.MaxRetries = md.MaxRetries
	}
	return rc
}

// fetchTimeout bounds a shared dataset fetch: every attempt at the client
// timeout plus the longest backoff between attempts.
func fetchTimeout(md config.MarketDataConfig, rc services.ResilientProviderConfig) time.Duration {
	attempt := marketdata.DefaultTimeout
	if md.Timeout > 0 {
		attempt = time.Duration(md.Timeout) * time.Second
	}
	retries := time.Duration(rc.Retry.MaxRetries)
	return attempt*(retries+1) + rc.Retry.MaxDelay*retries
}

// snapshotLister returns the store when it persists snapshots in postgres.
func snapshotLister(store cache.Store) handlers.SnapshotLister {
	if repo, ok := store.(*database.SnapshotRepository); ok {
		return repo
	}
	return nil
}

// newCacheStore builds the backend selected by cache.backend.
func newCacheStore(ctx context.Context, cfg *config.Config, redisClient *database.RedisClient, pool database.DatabasePool) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		if redisClient == nil || redisClient.Client == nil {
			return nil, errors.New("cache backend redis requires a redis connection")
		}
		return cache.NewRedisStore(redisClient.Client, cfg.Cache.KeyPrefix, cfg.Cache.RetentionDuration()), nil
	case config.CacheBackendPostgres:
		if pool == nil {
			return nil, errors.New("cache backend postgres requires a database connection")
		}
		repo := database.NewSnapshotRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to prepare snapshot table: %w", err)
		}
		return repo, nil
	default:
		return cache.NewMemoryStore(), nil
	}
}

func newRouter(cfg *config.Config, logger logging.Logger, deps api.Dependencies) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	router.Use(middleware.TelemetryMiddleware())
	router.Use(middleware.RequestLogger(logger))

	api.SetupRoutes(router, deps)
	return router
}

// newHTTPServer wraps the router with CORS and the server timeouts.
func newHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	})

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           corsHandler(handler),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       15 * time.Second,
	}
}
