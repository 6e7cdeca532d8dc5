package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/irfndi/celebrum-gem-go/internal/cache"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ cache.Recorder = (*CacheAnalyticsService)(nil)

func TestCacheAnalyticsService_RecordsPerDataset(t *testing.T) {
	service := NewCacheAnalyticsService(nil)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return fixed }

	service.RecordHit(cache.DatasetMatrix)
	service.RecordHit(cache.DatasetMatrix)
	service.RecordMiss(cache.DatasetMatrix)
	service.RecordMiss(cache.DatasetDepth)

	matrix := service.GetStats(cache.DatasetMatrix)
	assert.Equal(t, int64(2), matrix.Hits)
	assert.Equal(t, int64(1), matrix.Misses)
	assert.Equal(t, int64(3), matrix.TotalOps)
	assert.InDelta(t, 2.0/3.0, matrix.HitRate, 1e-9)
	assert.Equal(t, fixed, matrix.LastUpdated)

	overall := service.GetStats(OverallCategory)
	assert.Equal(t, int64(2), overall.Hits)
	assert.Equal(t, int64(2), overall.Misses)
	assert.Equal(t, 0.5, overall.HitRate)

	assert.Equal(t, CacheStats{}, service.GetStats(cache.DatasetIndex))
	assert.Len(t, service.GetAllStats(), 3)
}

func TestCacheAnalyticsService_ConcurrentRecording(t *testing.T) {
	service := NewCacheAnalyticsService(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			service.RecordHit(cache.DatasetIndex)
		}()
		go func() {
			defer wg.Done()
			service.RecordMiss(cache.DatasetIndex)
		}()
	}
	wg.Wait()

	stats := service.GetStats(cache.DatasetIndex)
	assert.Equal(t, int64(100), stats.TotalOps)
	assert.Equal(t, 0.5, stats.HitRate)
}

func TestCacheAnalyticsService_Reset(t *testing.T) {
	service := NewCacheAnalyticsService(nil)
	service.RecordHit(cache.DatasetMatrix)

	service.ResetStats()
	assert.Empty(t, service.GetAllStats())
}

func TestCacheAnalyticsService_MetricsWithoutRedis(t *testing.T) {
	service := NewCacheAnalyticsService(nil)
	service.RecordHit(cache.DatasetMatrix)
	service.RecordMiss(cache.DatasetDepth)

	metrics, err := service.GetMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), metrics.Overall.TotalOps)
	assert.Len(t, metrics.ByCategory, 2)
	assert.NotContains(t, metrics.ByCategory, OverallCategory)
	assert.Nil(t, metrics.RedisInfo)
}

func TestCacheAnalyticsService_MetricsRedisUnavailable(t *testing.T) {
	redisServer := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: redisServer.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	redisServer.Close()

	service := NewCacheAnalyticsService(client)
	_, err := service.GetMetrics(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read redis info")
}

func TestCacheAnalyticsService_ReportStats(t *testing.T) {
	redisServer := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: redisServer.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	service := NewCacheAnalyticsService(client)
	service.RecordHit(cache.DatasetMatrix)
	require.NoError(t, service.ReportStats(context.Background()))

	raw, err := redisServer.Get(AnalyticsStatsKey)
	require.NoError(t, err)

	var persisted map[string]CacheStats
	require.NoError(t, json.Unmarshal([]byte(raw), &persisted))
	assert.Equal(t, int64(1), persisted[cache.DatasetMatrix].Hits)
	assert.Equal(t, 24*time.Hour, redisServer.TTL(AnalyticsStatsKey))

	assert.Error(t, NewCacheAnalyticsService(nil).ReportStats(context.Background()))
}

func TestCacheAnalyticsService_PeriodicReporting(t *testing.T) {
	redisServer := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: redisServer.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	service := NewCacheAnalyticsService(client)
	service.RecordMiss(cache.DatasetDepth)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service.StartPeriodicReporting(ctx, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return redisServer.Exists(AnalyticsStatsKey)
	}, time.Second, 10*time.Millisecond)
}

func TestParseRedisInfo(t *testing.T) {
	info := "# Clients\r\nconnected_clients:3\r\nblocked_clients:0\r\n\r\n# Keyspace\r\ndb0:keys=4,expires=1\r\n"
	parsed := parseRedisInfo(info)

	assert.Equal(t, "3", parsed["connected_clients"])
	assert.Equal(t, "keys=4,expires=1", parsed["db0"])
	assert.Len(t, parsed, 3)
	assert.Empty(t, parseRedisInfo(""))
}
