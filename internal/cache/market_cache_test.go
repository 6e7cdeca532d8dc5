package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/celebrum-gem-go/pkg/marketdata"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeProvider struct {
	matrixCalls atomic.Int32
	indexCalls  atomic.Int32
	depthCalls  atomic.Int32
	err         atomic.Pointer[error]
	release     chan struct{}
}

func (p *fakeProvider) fail(err error) {
	p.err.Store(&err)
}

func (p *fakeProvider) recover() {
	p.err.Store(nil)
}

func (p *fakeProvider) currentErr() error {
	if e := p.err.Load(); e != nil {
		return *e
	}
	return nil
}

func (p *fakeProvider) GetPriceMatrix(ctx context.Context) (*marketdata.PriceMatrix, error) {
	n := p.matrixCalls.Add(1)
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := p.currentErr(); err != nil {
		return nil, err
	}
	return &marketdata.PriceMatrix{
		Timestamp: time.Unix(int64(n), 0).UTC(),
		Grids: map[string]*marketdata.PriceGrid{
			"1.0": {Rows: 1, Cols: 1, Colors: []string{"E"}, Clarities: []string{"VS2"}, LogPrices: []float64{9}},
		},
	}, nil
}

func (p *fakeProvider) GetMarketIndex(ctx context.Context) (*marketdata.MarketIndex, error) {
	p.indexCalls.Add(1)
	if err := p.currentErr(); err != nil {
		return nil, err
	}
	return &marketdata.MarketIndex{Trend24h: 1.5}, nil
}

func (p *fakeProvider) GetMarketDepth(ctx context.Context) (*marketdata.MarketDepth, error) {
	p.depthCalls.Add(1)
	if err := p.currentErr(); err != nil {
		return nil, err
	}
	return &marketdata.MarketDepth{ByColorClarity: marketdata.DepthTable{"E": {"VS2": 80}}}, nil
}

type countingRecorder struct {
	mu     sync.Mutex
	hits   map[string]int
	misses map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{hits: map[string]int{}, misses: map[string]int{}}
}

func (r *countingRecorder) RecordHit(category string) {
	r.mu.Lock()
	r.hits[category]++
	r.mu.Unlock()
}

func (r *countingRecorder) RecordMiss(category string) {
	r.mu.Lock()
	r.misses[category]++
	r.mu.Unlock()
}

func newTestCache(provider *fakeProvider, clock *fakeClock, recorder Recorder) (*MarketDataCache, *MemoryStore) {
	store := NewMemoryStore()
	return NewMarketDataCache(store, provider, MarketDataCacheConfig{
		Now:      clock.Now,
		Recorder: recorder,
	}), store
}

func TestMarketDataCache_ServesValidEntry(t *testing.T) {
	provider := &fakeProvider{}
	clock := newFakeClock()
	recorder := newCountingRecorder()
	c, _ := newTestCache(provider, clock, recorder)
	ctx := context.Background()

	first, err := c.Matrix(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), first.CachedAt)
	assert.Equal(t, clock.Now().Add(DefaultTTL), first.ExpiresAt)

	clock.Advance(23 * time.Hour)
	second, err := c.Matrix(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), provider.matrixCalls.Load())
	assert.True(t, first.Data.Timestamp.Equal(second.Data.Timestamp))

	assert.Equal(t, 1, recorder.hits[DatasetMatrix])
	assert.Equal(t, 1, recorder.misses[DatasetMatrix])
}

func TestMarketDataCache_RefreshesExpiredEntry(t *testing.T) {
	provider := &fakeProvider{}
	clock := newFakeClock()
	c, _ := newTestCache(provider, clock, nil)
	ctx := context.Background()

	_, err := c.Index(ctx, false)
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	entry, err := c.Index(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), provider.indexCalls.Load())
	assert.Equal(t, clock.Now(), entry.CachedAt)
}

func TestMarketDataCache_ForceRefresh(t *testing.T) {
	provider := &fakeProvider{}
	clock := newFakeClock()
	c, _ := newTestCache(provider, clock, nil)
	ctx := context.Background()

	_, err := c.Depth(ctx, false)
	require.NoError(t, err)
	_, err = c.Depth(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), provider.depthCalls.Load())
}

func TestMarketDataCache_StaleServeOnFetchError(t *testing.T) {
	provider := &fakeProvider{}
	clock := newFakeClock()
	c, _ := newTestCache(provider, clock, nil)
	ctx := context.Background()

	fresh, err := c.Matrix(ctx, false)
	require.NoError(t, err)

	provider.fail(errors.New("provider down"))
	clock.Advance(48 * time.Hour)

	stale, err := c.Matrix(ctx, false)
	require.NoError(t, err)
	assert.False(t, stale.Valid(clock.Now()))
	assert.True(t, fresh.CachedAt.Equal(stale.CachedAt))

	// a forced refresh also falls back
	forced, err := c.Matrix(ctx, true)
	require.NoError(t, err)
	assert.True(t, fresh.CachedAt.Equal(forced.CachedAt))
}

func TestMarketDataCache_NoDataAvailable(t *testing.T) {
	provider := &fakeProvider{}
	provider.fail(errors.New("provider down"))
	c, _ := newTestCache(provider, newFakeClock(), nil)

	_, err := c.Matrix(context.Background(), false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoDataAvailable))
	assert.Contains(t, err.Error(), "provider down")
	assert.Contains(t, err.Error(), DatasetMatrix)
}

func TestMarketDataCache_RecoversAfterOutage(t *testing.T) {
	provider := &fakeProvider{}
	provider.fail(errors.New("provider down"))
	clock := newFakeClock()
	c, _ := newTestCache(provider, clock, nil)
	ctx := context.Background()

	_, err := c.Depth(ctx, false)
	require.Error(t, err)

	provider.recover()
	entry, err := c.Depth(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 80, entry.Data.ByColorClarity.Count("E", "VS2"))
}

func TestMarketDataCache_UnreadableEntryIsRefetched(t *testing.T) {
	provider := &fakeProvider{}
	c, store := newTestCache(provider, newFakeClock(), nil)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, DatasetIndex, []byte("not json")))

	entry, err := c.Index(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1.5, entry.Data.Trend24h)
	assert.Equal(t, int32(1), provider.indexCalls.Load())
}

func TestMarketDataCache_ConcurrentRefreshIsCollapsed(t *testing.T) {
	provider := &fakeProvider{release: make(chan struct{})}
	c, _ := newTestCache(provider, newFakeClock(), nil)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Matrix(context.Background(), true)
			errs <- err
		}()
	}

	// let the first call reach the provider before releasing it
	require.Eventually(t, func() bool { return provider.matrixCalls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(provider.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.LessOrEqual(t, provider.matrixCalls.Load(), int32(5))
	assert.GreaterOrEqual(t, provider.matrixCalls.Load(), int32(1))
}

func TestMarketDataCache_CancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	provider := &fakeProvider{release: make(chan struct{})}
	c, store := newTestCache(provider, newFakeClock(), nil)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()

	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Matrix(firstCtx, false)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return provider.matrixCalls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		entry *Entry[*marketdata.PriceMatrix]
		err   error
	}
	second := make(chan result, 1)
	go func() {
		entry, err := c.Matrix(context.Background(), false)
		second <- result{entry, err}
	}()
	// let the second caller join the in-flight fetch
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	err := <-firstErr
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrNoDataAvailable)

	close(provider.release)
	res := <-second
	require.NoError(t, res.err)
	require.NotNil(t, res.entry)
	assert.NotNil(t, res.entry.Data)
	assert.Equal(t, int32(1), provider.matrixCalls.Load())

	// the shared fetch still persisted its result
	_, ok, err := store.Get(context.Background(), DatasetMatrix)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMarketDataCache_FetchTimeoutBoundsSharedFetch(t *testing.T) {
	provider := &fakeProvider{release: make(chan struct{})}
	defer close(provider.release)
	c := NewMarketDataCache(NewMemoryStore(), provider, MarketDataCacheConfig{
		FetchTimeout: 20 * time.Millisecond,
	})

	_, err := c.Matrix(context.Background(), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrNoDataAvailable)
}

func TestMarketDataCache_ClearAndStatus(t *testing.T) {
	provider := &fakeProvider{}
	clock := newFakeClock()
	c, _ := newTestCache(provider, clock, nil)
	ctx := context.Background()

	status := c.Status(ctx)
	assert.False(t, status.Matrix.Cached)
	assert.Nil(t, status.Matrix.AgeHours)

	_, err := c.Matrix(ctx, false)
	require.NoError(t, err)
	clock.Advance(5*time.Hour + 59*time.Minute)
	_, err = c.Index(ctx, false)
	require.NoError(t, err)
	clock.Advance(time.Hour)

	status = c.Status(ctx)
	require.True(t, status.Matrix.Cached)
	require.NotNil(t, status.Matrix.AgeHours)
	assert.Equal(t, 6, *status.Matrix.AgeHours)
	assert.True(t, status.Matrix.Valid)
	require.True(t, status.Index.Cached)
	assert.Equal(t, 1, *status.Index.AgeHours)
	assert.False(t, status.Depth.Cached)

	require.NoError(t, c.Clear(ctx))
	require.NoError(t, c.Clear(ctx))

	status = c.Status(ctx)
	assert.False(t, status.Matrix.Cached)
	assert.False(t, status.Index.Cached)
	assert.False(t, status.Depth.Cached)
	assert.Equal(t, int32(1), provider.matrixCalls.Load(), "status never fetches")
}

func TestMarketDataCache_RedisBackend(t *testing.T) {
	_, client := setupRedis(t)
	provider := &fakeProvider{}
	clock := newFakeClock()
	store := NewRedisStore(client, "market_data:", 0)
	c := NewMarketDataCache(store, provider, MarketDataCacheConfig{TTL: time.Hour, Now: clock.Now})
	ctx := context.Background()

	_, err := c.Matrix(ctx, false)
	require.NoError(t, err)

	// a second cache over the same store sees the entry
	other := NewMarketDataCache(store, provider, MarketDataCacheConfig{TTL: time.Hour, Now: clock.Now})
	entry, err := other.Matrix(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), provider.matrixCalls.Load())

	grid, ok := entry.Data.Grid(1.0)
	require.True(t, ok)
	v, err := grid.Get("E", "VS2")
	require.NoError(t, err)
	assert.Equal(t, 9.0, v)
	assert.Equal(t, time.Hour, other.TTL())
}
