package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// OverallCategory aggregates every dataset's hits and misses.
const OverallCategory = "overall"

// AnalyticsStatsKey is the Redis key the periodic reporter writes to.
const AnalyticsStatsKey = "cache:analytics:stats"

// CacheStats represents cache statistics
type CacheStats struct {
	Hits        int64     `json:"hits"`
	Misses      int64     `json:"misses"`
	HitRate     float64   `json:"hit_rate"`
	TotalOps    int64     `json:"total_ops"`
	LastUpdated time.Time `json:"last_updated"`
}

// CacheMetrics represents detailed cache metrics by category
type CacheMetrics struct {
	Overall          CacheStats            `json:"overall"`
	ByCategory       map[string]CacheStats `json:"by_category"`
	RedisInfo        map[string]string     `json:"redis_info,omitempty"`
	ConnectedClients int64                 `json:"connected_clients"`
	KeyCount         int64                 `json:"key_count"`
}

// CacheAnalyticsService tracks market data cache hits and misses per dataset.
// The Redis client is optional; without it metrics omit server info and
// reports are skipped.
type CacheAnalyticsService struct {
	redisClient *redis.Client
	stats       map[string]*CacheStats
	now         func() time.Time
	mu          sync.RWMutex
}

// NewCacheAnalyticsService creates a new cache analytics service
func NewCacheAnalyticsService(redisClient *redis.Client) *CacheAnalyticsService {
	return &CacheAnalyticsService{
		redisClient: redisClient,
		stats:       make(map[string]*CacheStats),
		now:         time.Now,
	}
}

// RecordHit records a cache hit for the given dataset
func (c *CacheAnalyticsService) RecordHit(category string) {
	c.record(category, true)
}

// RecordMiss records a cache miss for the given dataset
func (c *CacheAnalyticsService) RecordMiss(category string) {
	c.record(category, false)
}

func (c *CacheAnalyticsService) record(category string, hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, name := range []string{category, OverallCategory} {
		stats := c.stats[name]
		if stats == nil {
			stats = &CacheStats{}
			c.stats[name] = stats
		}
		if hit {
			stats.Hits++
		} else {
			stats.Misses++
		}
		stats.TotalOps++
		stats.HitRate = float64(stats.Hits) / float64(stats.TotalOps)
		stats.LastUpdated = now
	}
}

// GetStats returns cache statistics for a specific category
func (c *CacheAnalyticsService) GetStats(category string) CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if stats, exists := c.stats[category]; exists {
		return *stats
	}
	return CacheStats{}
}

// GetAllStats returns all cache statistics
func (c *CacheAnalyticsService) GetAllStats() map[string]CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]CacheStats, len(c.stats))
	for category, stats := range c.stats {
		result[category] = *stats
	}
	return result
}

// GetMetrics returns the per-dataset counters and, when Redis is configured,
// server info.
func (c *CacheAnalyticsService) GetMetrics(ctx context.Context) (*CacheMetrics, error) {
	allStats := c.GetAllStats()
	metrics := &CacheMetrics{
		Overall:    allStats[OverallCategory],
		ByCategory: allStats,
	}
	delete(metrics.ByCategory, OverallCategory)

	if c.redisClient == nil {
		return metrics, nil
	}

	redisInfo, err := c.redisClient.Info(ctx, "clients", "keyspace").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read redis info: %w", err)
	}
	metrics.RedisInfo = parseRedisInfo(redisInfo)

	if keyCount, err := c.redisClient.DBSize(ctx).Result(); err == nil {
		metrics.KeyCount = keyCount
	}
	if clients, ok := metrics.RedisInfo["connected_clients"]; ok {
		_, _ = fmt.Sscanf(clients, "%d", &metrics.ConnectedClients)
	}

	return metrics, nil
}

// parseRedisInfo parses Redis INFO command output
func parseRedisInfo(info string) map[string]string {
	result := make(map[string]string)

	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, ":", 2)
		if len(parts) == 2 {
			result[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}

	return result
}

// ResetStats resets all cache statistics
func (c *CacheAnalyticsService) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = make(map[string]*CacheStats)
}

// StartPeriodicReporting persists the counters to Redis every interval until
// ctx is done. It is a no-op without Redis.
func (c *CacheAnalyticsService) StartPeriodicReporting(ctx context.Context, interval time.Duration) {
	if c.redisClient == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = c.ReportStats(ctx)
			}
		}
	}()
}

// ReportStats writes the current counters to Redis with a 24 hour TTL.
func (c *CacheAnalyticsService) ReportStats(ctx context.Context) error {
	if c.redisClient == nil {
		return errors.New("cache analytics has no redis client")
	}
	statsJSON, err := json.Marshal(c.GetAllStats())
	if err != nil {
		return fmt.Errorf("failed to marshal cache stats: %w", err)
	}
	return c.redisClient.Set(ctx, AnalyticsStatsKey, statsJSON, 24*time.Hour).Err()
}
