package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/celebrum-gem-go/internal/cache"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

var startTime = time.Now()

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// HealthChecker is anything that can report its own reachability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CacheStatusReporter reports the market data cache contents.
type CacheStatusReporter interface {
	CacheStatus(ctx context.Context) cache.Status
}

// HealthHandler serves liveness, readiness and dependency health.
type HealthHandler struct {
	cache    CacheStatusReporter
	provider HealthChecker
	db       HealthChecker
	redis    HealthChecker
	version  string
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
	System    *SystemStats      `json:"system,omitempty"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
}

// SystemStats holds host resource usage.
type SystemStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
}

// NewHealthHandler creates a health handler. db and redis are nil when not
// configured.
func NewHealthHandler(cacheStatus CacheStatusReporter, provider HealthChecker, db HealthChecker, redis HealthChecker, version string) *HealthHandler {
	return &HealthHandler{
		cache:    cacheStatus,
		provider: provider,
		db:       db,
		redis:    redis,
		version:  version,
	}
}

// HealthCheck reports every dependency. Storage failures or a provider
// outage with nothing cached make the service unhealthy; a provider outage
// with cached data only degrades it.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx := c.Request.Context()
	services := make(map[string]string)
	status := statusHealthy

	if h.db != nil {
		services["database"] = checkStatus(ctx, h.db)
		if services["database"] != statusHealthy {
			status = statusUnhealthy
		}
	}
	if h.redis != nil {
		services["redis"] = checkStatus(ctx, h.redis)
		if services["redis"] != statusHealthy {
			status = statusUnhealthy
		}
	}

	matrixCached := false
	if h.cache != nil {
		cacheStatus := h.cache.CacheStatus(ctx)
		matrixCached = cacheStatus.Matrix.Cached
		switch {
		case cacheStatus.Matrix.Valid:
			services["market_data_cache"] = statusHealthy
		case matrixCached:
			services["market_data_cache"] = "stale"
		default:
			services["market_data_cache"] = "empty"
		}
	}

	if h.provider != nil {
		services["market_data_provider"] = checkStatus(ctx, h.provider)
		if services["market_data_provider"] != statusHealthy {
			if matrixCached {
				if status == statusHealthy {
					status = statusDegraded
				}
			} else {
				status = statusUnhealthy
			}
		}
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Services:  services,
		System:    systemStats(ctx),
		Version:   h.version,
		Uptime:    time.Since(startTime).String(),
	}

	code := http.StatusOK
	if status == statusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, response)
}

func checkStatus(ctx context.Context, checker HealthChecker) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := checker.HealthCheck(ctx); err != nil {
		return statusUnhealthy + ": " + err.Error()
	}
	return statusHealthy
}

func systemStats(ctx context.Context) *SystemStats {
	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil
	}
	stats := &SystemStats{
		MemoryPercent: memInfo.UsedPercent,
		MemoryUsedMB:  memInfo.Used / 1024 / 1024,
	}
	// interval 0 compares against the previous call
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		stats.CPUPercent = percents[0]
	}
	return stats
}

// ReadinessCheck reports whether a quote can be served right now: storage
// is reachable and a price matrix is cached.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	ctx := c.Request.Context()
	services := make(map[string]string)
	ready := true

	for name, checker := range map[string]HealthChecker{"database": h.db, "redis": h.redis} {
		if checker == nil {
			continue
		}
		if checkStatus(ctx, checker) == statusHealthy {
			services[name] = "ready"
		} else {
			services[name] = "not ready"
			ready = false
		}
	}

	if h.cache != nil {
		if h.cache.CacheStatus(ctx).Matrix.Cached {
			services["market_data_cache"] = "ready"
		} else {
			services["market_data_cache"] = "not ready"
			ready = false
		}
	}

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"ready":    ready,
		"services": services,
	})
}

// LivenessCheck reports that the process is responsive.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
