package api

import (
	"github.com/gin-gonic/gin"
	"github.com/irfndi/celebrum-gem-go/internal/api/handlers"
	"github.com/irfndi/celebrum-gem-go/internal/middleware"
)

// PricingService is everything the routes need from the pricing service.
type PricingService interface {
	handlers.QuoteService
	handlers.MarketDataController
}

// Dependencies wires the handlers. Provider, Database, Redis, Breakers,
// Snapshots, Auth and Admin are optional.
type Dependencies struct {
	Pricing        PricingService
	Analytics      handlers.CacheAnalyticsInterface
	Provider       handlers.HealthChecker
	Database       handlers.HealthChecker
	Redis          handlers.HealthChecker
	Breakers       handlers.BreakerReporter
	Snapshots      handlers.SnapshotLister
	Auth           *middleware.AuthMiddleware
	Admin          *middleware.AdminMiddleware
	RequireAuth    bool
	ServiceVersion string
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler(deps.Pricing, deps.Provider, deps.Database, deps.Redis, deps.ServiceVersion)
	pricingHandler := handlers.NewPricingHandler(deps.Pricing)
	cacheHandler := handlers.NewCacheHandler(deps.Analytics, deps.Pricing, deps.Breakers).WithSnapshots(deps.Snapshots)

	health := router.Group("")
	health.Use(middleware.HealthCheckTelemetryMiddleware())
	{
		health.GET("/health", healthHandler.HealthCheck)
		health.HEAD("/health", healthHandler.HealthCheck)
		health.GET("/ready", healthHandler.ReadinessCheck)
		health.GET("/live", healthHandler.LivenessCheck)
	}

	v1 := router.Group("/api/v1")
	{
		pricing := v1.Group("/pricing")
		if deps.Auth != nil {
			if deps.RequireAuth {
				pricing.Use(deps.Auth.RequireAuth())
			} else {
				pricing.Use(deps.Auth.OptionalAuth())
			}
		}
		{
			pricing.POST("/quote", pricingHandler.PostQuote)
			pricing.GET("/quote", pricingHandler.GetQuote)
			pricing.GET("/market/index", pricingHandler.GetMarketIndex)
		}

		cacheGroup := v1.Group("/cache")
		{
			cacheGroup.GET("/status", cacheHandler.GetCacheStatus)
			cacheGroup.GET("/stats", cacheHandler.GetCacheStats)
			cacheGroup.GET("/stats/:category", cacheHandler.GetCacheStatsByCategory)
			cacheGroup.GET("/metrics", cacheHandler.GetCacheMetrics)

			adminAuth := deps.Admin
			if adminAuth == nil {
				// no key configured: admin routes stay closed
				adminAuth = middleware.NewAdminMiddleware("", "")
			}
			admin := cacheGroup.Group("", adminAuth.RequireAdminAuth())
			admin.DELETE("", cacheHandler.ClearCache)
			admin.POST("/refresh", cacheHandler.RefreshCache)
			admin.POST("/stats/reset", cacheHandler.ResetCacheStats)
			admin.GET("/snapshots", cacheHandler.GetSnapshots)
		}
	}
}
