package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/irfndi/celebrum-gem-go/internal/logging"
	"github.com/irfndi/celebrum-gem-go/internal/telemetry"
	"github.com/irfndi/celebrum-gem-go/pkg/marketdata"
)

// Dataset keys, also used as storage keys and analytics categories.
const (
	DatasetMatrix = "matrix"
	DatasetIndex  = "index"
	DatasetDepth  = "depth"
)

// DefaultTTL applies to all three datasets unless configured otherwise.
const DefaultTTL = 24 * time.Hour

// DefaultFetchTimeout bounds a shared provider fetch, retries included.
const DefaultFetchTimeout = 2 * time.Minute

// Datasets lists the cached dataset keys in a fixed order.
var Datasets = []string{DatasetMatrix, DatasetIndex, DatasetDepth}

// ErrNoDataAvailable is returned when a fetch fails and nothing is cached.
var ErrNoDataAvailable = errors.New("no market data available")

// Recorder receives hit and miss events per dataset.
type Recorder interface {
	RecordHit(category string)
	RecordMiss(category string)
}

// MarketDataCacheConfig configures a MarketDataCache. Zero values fall back to
// DefaultTTL, DefaultFetchTimeout, time.Now and a discarding logger.
type MarketDataCacheConfig struct {
	TTL          time.Duration
	FetchTimeout time.Duration
	Now          func() time.Time
	Recorder     Recorder
	Logger       logging.Logger
}

// MarketDataCache serves the price matrix, market index and market depth from
// storage while their entries are valid, and from the provider otherwise.
// When the provider fails, an expired entry is served instead.
type MarketDataCache struct {
	store        Store
	provider     marketdata.Provider
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
	recorder     Recorder
	logger       logging.Logger
	group        singleflight.Group
}

// NewMarketDataCache creates a cache over store that refreshes from provider.
func NewMarketDataCache(store Store, provider marketdata.Provider, cfg MarketDataCacheConfig) *MarketDataCache {
	c := &MarketDataCache{
		store:        store,
		provider:     provider,
		ttl:          cfg.TTL,
		fetchTimeout: cfg.FetchTimeout,
		now:          cfg.Now,
		recorder:     cfg.Recorder,
		logger:       cfg.Logger,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.fetchTimeout <= 0 {
		c.fetchTimeout = DefaultFetchTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = logging.NewStandardLoggerWithWriter("error", io.Discard)
	}
	return c
}

// TTL returns the entry time-to-live.
func (c *MarketDataCache) TTL() time.Duration {
	return c.ttl
}

// Matrix returns the price matrix entry. force skips a valid cached entry.
func (c *MarketDataCache) Matrix(ctx context.Context, force bool) (*Entry[*marketdata.PriceMatrix], error) {
	return getOrFetch(ctx, c, DatasetMatrix, force, c.provider.GetPriceMatrix)
}

// Index returns the composite market index entry.
func (c *MarketDataCache) Index(ctx context.Context, force bool) (*Entry[*marketdata.MarketIndex], error) {
	return getOrFetch(ctx, c, DatasetIndex, force, c.provider.GetMarketIndex)
}

// Depth returns the market depth entry.
func (c *MarketDataCache) Depth(ctx context.Context, force bool) (*Entry[*marketdata.MarketDepth], error) {
	return getOrFetch(ctx, c, DatasetDepth, force, c.provider.GetMarketDepth)
}

func getOrFetch[T any](ctx context.Context, c *MarketDataCache, dataset string, force bool, fetch func(context.Context) (T, error)) (*Entry[T], error) {
	start := c.now()
	cached, err := load[T](ctx, c.store, dataset)
	if err != nil {
		c.logger.WithDataset(dataset).Warn("Ignoring unreadable cache entry", "error", err.Error())
		cached = nil
	}

	if !force && cached != nil && cached.Valid(start) {
		c.recordHit(dataset)
		c.logger.LogCacheOperation("get", dataset, true, c.now().Sub(start).Milliseconds())
		return cached, nil
	}
	c.recordMiss(dataset)

	// Concurrent refreshes of one dataset share a single provider call. It
	// runs detached from any one caller; each caller stops waiting when its
	// own ctx ends.
	results := c.group.DoChan(dataset, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		data, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		entry := NewEntry(data, c.now(), c.ttl)
		if err := save(fetchCtx, c.store, dataset, entry); err != nil {
			c.logger.WithDataset(dataset).Warn("Failed to persist market data", "error", err.Error())
		}
		return entry, nil
	})

	var v interface{}
	select {
	case res := <-results:
		v, err = res.Val, res.Err
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err == nil {
		c.logger.LogCacheOperation("refresh", dataset, false, c.now().Sub(start).Milliseconds())
		return v.(*Entry[T]), nil
	}

	if cached != nil {
		c.logger.WithDataset(dataset).Warn("Market data fetch failed, serving cached copy",
			"error", err.Error(),
			"cached_at", cached.CachedAt,
			"expired", !cached.Valid(c.now()),
		)
		return cached, nil
	}

	return nil, fmt.Errorf("%w for %s: %w", ErrNoDataAvailable, dataset, err)
}

func load[T any](ctx context.Context, store Store, key string) (*Entry[T], error) {
	data, ok, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}

	var entry Entry[T]
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return &entry, nil
}

func save[T any](ctx context.Context, store Store, key string, entry *Entry[T]) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return store.Set(ctx, key, data)
}

// Clear removes all cached datasets. Missing entries are not an error.
func (c *MarketDataCache) Clear(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, telemetry.GetCacheTracer(), "market_data_cache.clear")
	defer span.End()

	if err := c.store.Delete(ctx, Datasets...); err != nil {
		err = fmt.Errorf("failed to clear market data cache: %w", err)
		telemetry.RecordError(span, err)
		return err
	}
	c.logger.WithComponent("market_data_cache").Info("Market data cache cleared")
	return nil
}

// DatasetStatus describes one cached dataset.
type DatasetStatus struct {
	Cached   bool       `json:"cached"`
	Valid    bool       `json:"valid"`
	AgeHours *int       `json:"age_hours,omitempty"`
	CachedAt *time.Time `json:"cached_at,omitempty"`
}

// Status describes all three cached datasets.
type Status struct {
	Matrix DatasetStatus `json:"matrix"`
	Index  DatasetStatus `json:"index"`
	Depth  DatasetStatus `json:"depth"`
}

// Status reports presence and age of each dataset without fetching.
// Unreadable entries are reported as not cached.
func (c *MarketDataCache) Status(ctx context.Context) Status {
	return Status{
		Matrix: c.datasetStatus(ctx, DatasetMatrix),
		Index:  c.datasetStatus(ctx, DatasetIndex),
		Depth:  c.datasetStatus(ctx, DatasetDepth),
	}
}

func (c *MarketDataCache) datasetStatus(ctx context.Context, dataset string) DatasetStatus {
	entry, err := load[json.RawMessage](ctx, c.store, dataset)
	if err != nil || entry == nil {
		return DatasetStatus{}
	}

	now := c.now()
	hours := int(entry.Age(now) / time.Hour)
	if hours < 0 {
		hours = 0
	}
	cachedAt := entry.CachedAt
	return DatasetStatus{
		Cached:   true,
		Valid:    entry.Valid(now),
		AgeHours: &hours,
		CachedAt: &cachedAt,
	}
}

func (c *MarketDataCache) recordHit(dataset string) {
	if c.recorder != nil {
		c.recorder.RecordHit(dataset)
	}
}

func (c *MarketDataCache) recordMiss(dataset string) {
	if c.recorder != nil {
		c.recorder.RecordMiss(dataset)
	}
}
