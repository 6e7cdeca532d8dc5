package services

import (
	"context"
	"sync"
	"time"

	"github.com/irfndi/celebrum-gem-go/internal/cache"
	"github.com/irfndi/celebrum-gem-go/internal/logging"
)

// MarketDataRefresher is the part of the pricing service the warmer drives.
type MarketDataRefresher interface {
	RefreshMarketData(ctx context.Context) (cache.Status, error)
	CacheStatus(ctx context.Context) cache.Status
}

// CacheWarmingService prefetches the market datasets on startup and keeps
// them fresh in the background.
type CacheWarmingService struct {
	refresher MarketDataRefresher
	interval  time.Duration
	logger    logging.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastRun time.Time
	lastErr error
}

// NewCacheWarmingService creates a warmer. An interval of zero disables the
// background refresh.
func NewCacheWarmingService(refresher MarketDataRefresher, interval time.Duration, logger logging.Logger) *CacheWarmingService {
	return &CacheWarmingService{
		refresher: refresher,
		interval:  interval,
		logger:    logger,
	}
}

// WarmCache loads every dataset that is missing or expired. Datasets still
// valid in a persistent backend are left alone.
func (c *CacheWarmingService) WarmCache(ctx context.Context) error {
	status := c.refresher.CacheStatus(ctx)
	if status.Matrix.Valid && status.Index.Valid && status.Depth.Valid {
		c.logger.WithComponent("cache_warming").Info("Market data cache already warm")
		return nil
	}
	return c.refresh(ctx, "warm")
}

func (c *CacheWarmingService) refresh(ctx context.Context, operation string) error {
	logger := c.logger.WithComponent("cache_warming")
	start := time.Now()

	status, err := c.refresher.RefreshMarketData(ctx)

	c.mu.Lock()
	c.lastRun = start
	c.lastErr = err
	c.mu.Unlock()

	if err != nil {
		logger.Warn("Market data refresh failed",
			"operation", operation,
			"error", err.Error(),
			"matrix_cached", status.Matrix.Cached,
		)
		return err
	}

	logger.Info("Market data refresh completed",
		"operation", operation,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Start runs the periodic refresh until Stop is called or ctx is done.
func (c *CacheWarmingService) Start(ctx context.Context) {
	if c.interval <= 0 {
		return
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	ticker := time.NewTicker(c.interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = c.refresh(ctx, "scheduled")
			}
		}
	}()
}

// Stop cancels the periodic refresh and waits for it to exit.
func (c *CacheWarmingService) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// LastRun reports when the last refresh started and how it ended.
func (c *CacheWarmingService) LastRun() (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRun, c.lastErr
}
