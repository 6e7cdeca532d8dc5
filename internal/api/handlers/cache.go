package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/celebrum-gem-go/internal/cache"
	"github.com/irfndi/celebrum-gem-go/internal/models"
	"github.com/irfndi/celebrum-gem-go/internal/services"
)

// CacheAnalyticsInterface defines the interface for cache analytics operations
type CacheAnalyticsInterface interface {
	GetStats(category string) services.CacheStats
	GetAllStats() map[string]services.CacheStats
	GetMetrics(ctx context.Context) (*services.CacheMetrics, error)
	ResetStats()
}

// MarketDataController exposes the cache-control operations of the pricing
// service.
type MarketDataController interface {
	CacheStatus(ctx context.Context) cache.Status
	ClearCache(ctx context.Context) error
	RefreshMarketData(ctx context.Context) (cache.Status, error)
}

// BreakerReporter reports circuit breaker state for upstream calls.
type BreakerReporter interface {
	BreakerStats() map[string]services.CircuitBreakerStats
}

// SnapshotLister lists persisted market data snapshots.
type SnapshotLister interface {
	List(ctx context.Context) ([]models.MarketDataSnapshot, error)
}

// CacheHandler handles cache monitoring and control endpoints
type CacheHandler struct {
	cacheAnalytics CacheAnalyticsInterface
	marketData     MarketDataController
	breakers       BreakerReporter
	snapshots      SnapshotLister
}

type snapshotSummary struct {
	Key       string    `json:"key"`
	SizeBytes int       `json:"size_bytes"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCacheHandler creates a new cache handler. breakers may be nil.
func NewCacheHandler(cacheAnalytics CacheAnalyticsInterface, marketData MarketDataController, breakers BreakerReporter) *CacheHandler {
	return &CacheHandler{
		cacheAnalytics: cacheAnalytics,
		marketData:     marketData,
		breakers:       breakers,
	}
}

// GetCacheStatus reports presence and age of each cached dataset
// @Summary Get market data cache status
// @Tags cache
// @Produce json
// @Success 200 {object} cache.Status
// @Router /api/v1/cache/status [get]
func (h *CacheHandler) GetCacheStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    h.marketData.CacheStatus(c.Request.Context()),
	})
}

// ClearCache drops every cached dataset
// @Summary Clear the market data cache
// @Tags cache
// @Produce json
// @Router /api/v1/cache [delete]
func (h *CacheHandler) ClearCache(c *gin.Context) {
	if err := h.marketData.ClearCache(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to clear cache: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Market data cache cleared",
	})
}

// RefreshCache force-refreshes every dataset from the provider
// @Summary Refresh market data
// @Tags cache
// @Produce json
// @Success 200 {object} cache.Status
// @Router /api/v1/cache/refresh [post]
func (h *CacheHandler) RefreshCache(c *gin.Context) {
	status, err := h.marketData.RefreshMarketData(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "Failed to refresh market data: " + err.Error(),
			"data":    status,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    status,
	})
}

// WithSnapshots enables the persisted snapshot listing.
func (h *CacheHandler) WithSnapshots(lister SnapshotLister) *CacheHandler {
	h.snapshots = lister
	return h
}

// GetSnapshots lists the snapshots persisted by the postgres cache backend
// @Summary List persisted market data snapshots
// @Tags cache
// @Produce json
// @Router /api/v1/cache/snapshots [get]
func (h *CacheHandler) GetSnapshots(c *gin.Context) {
	if h.snapshots == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Snapshot storage is not enabled",
		})
		return
	}

	snapshots, err := h.snapshots.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to list snapshots: " + err.Error(),
		})
		return
	}

	summaries := make([]snapshotSummary, 0, len(snapshots))
	for _, s := range snapshots {
		summaries = append(summaries, snapshotSummary{Key: s.Key, SizeBytes: len(s.Payload), UpdatedAt: s.UpdatedAt})
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    summaries,
	})
}

// GetCacheStats returns cache statistics for all datasets
// @Summary Get cache statistics
// @Tags cache
// @Produce json
// @Success 200 {object} map[string]services.CacheStats
// @Router /api/v1/cache/stats [get]
func (h *CacheHandler) GetCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    h.cacheAnalytics.GetAllStats(),
	})
}

// GetCacheStatsByCategory returns cache statistics for one dataset
// @Summary Get cache statistics by dataset
// @Tags cache
// @Param category path string true "Dataset (matrix, index, depth, overall)"
// @Produce json
// @Success 200 {object} services.CacheStats
// @Router /api/v1/cache/stats/{category} [get]
func (h *CacheHandler) GetCacheStatsByCategory(c *gin.Context) {
	category := c.Param("category")
	if category == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Category parameter is required",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    h.cacheAnalytics.GetStats(category),
	})
}

// GetCacheMetrics returns cache metrics, Redis info and breaker state
// @Summary Get comprehensive cache metrics
// @Tags cache
// @Produce json
// @Success 200 {object} services.CacheMetrics
// @Router /api/v1/cache/metrics [get]
func (h *CacheHandler) GetCacheMetrics(c *gin.Context) {
	metrics, err := h.cacheAnalytics.GetMetrics(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to get cache metrics: " + err.Error(),
		})
		return
	}

	response := gin.H{
		"success": true,
		"data":    metrics,
	}
	if h.breakers != nil {
		response["circuit_breakers"] = h.breakers.BreakerStats()
	}
	c.JSON(http.StatusOK, response)
}

// ResetCacheStats resets all cache statistics
// @Summary Reset cache statistics
// @Tags cache
// @Produce json
// @Router /api/v1/cache/stats/reset [post]
func (h *CacheHandler) ResetCacheStats(c *gin.Context) {
	h.cacheAnalytics.ResetStats()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Cache statistics reset successfully",
	})
}
