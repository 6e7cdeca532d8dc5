package pricing

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/celebrum-gem-go/internal/cache"
	"github.com/irfndi/celebrum-gem-go/internal/models"
	"github.com/irfndi/celebrum-gem-go/internal/utils"
	"github.com/irfndi/celebrum-gem-go/pkg/marketdata"
)

var (
	gridColors    = []string{"D", "E", "F", "G", "H", "I", "J", "K", "L", "M"}
	gridClarities = []string{"VS1", "VS2", "SI1"}
)

// bandGrid builds a D-M by VS1/VS2/SI1 grid whose E/VS2 cell is base.
func bandGrid(base float64) *marketdata.PriceGrid {
	values := make([]float64, 0, len(gridColors)*len(gridClarities))
	for row := range gridColors {
		for col := range gridClarities {
			values = append(values, base-0.05*float64(row-1)-0.1*float64(col-1))
		}
	}
	return &marketdata.PriceGrid{
		Rows:      len(gridColors),
		Cols:      len(gridClarities),
		Colors:    gridColors,
		Clarities: gridClarities,
		LogPrices: values,
	}
}

type stubProvider struct {
	mu          sync.Mutex
	matrix      *marketdata.PriceMatrix
	index       *marketdata.MarketIndex
	depth       *marketdata.MarketDepth
	err         error
	matrixCalls atomic.Int32
	matrixGate  chan struct{}
}

func (p *stubProvider) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *stubProvider) currentErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *stubProvider) GetPriceMatrix(ctx context.Context) (*marketdata.PriceMatrix, error) {
	p.matrixCalls.Add(1)
	if p.matrixGate != nil {
		select {
		case <-p.matrixGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := p.currentErr(); err != nil {
		return nil, err
	}
	return p.matrix, nil
}

func (p *stubProvider) GetMarketIndex(ctx context.Context) (*marketdata.MarketIndex, error) {
	if err := p.currentErr(); err != nil {
		return nil, err
	}
	return p.index, nil
}

func (p *stubProvider) GetMarketDepth(ctx context.Context) (*marketdata.MarketDepth, error) {
	if err := p.currentErr(); err != nil {
		return nil, err
	}
	return p.depth, nil
}

type testEnv struct {
	provider *stubProvider
	service  *Service
	now      time.Time
	clockMu  sync.Mutex
}

func (e *testEnv) Now() time.Time {
	e.clockMu.Lock()
	defer e.clockMu.Unlock()
	return e.now
}

func (e *testEnv) advance(d time.Duration) {
	e.clockMu.Lock()
	e.now = e.now.Add(d)
	e.clockMu.Unlock()
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	start := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	env := &testEnv{now: start}
	env.provider = &stubProvider{
		matrix: &marketdata.PriceMatrix{
			Timestamp: start,
			Grids: map[string]*marketdata.PriceGrid{
				"1.0": bandGrid(9.0),
				"1.5": bandGrid(9.4),
			},
		},
		index: &marketdata.MarketIndex{
			DCX:       decimal.RequireFromString("5820.10"),
			Trend24h:  -0.4,
			Timestamp: start,
		},
		depth: &marketdata.MarketDepth{
			ByColorClarity: marketdata.DepthTable{"E": {"VS2": 250}},
		},
	}

	store := cache.NewMemoryStore()
	marketCache := cache.NewMarketDataCache(store, env.provider, cache.MarketDataCacheConfig{Now: env.Now})
	env.service = NewService(marketCache, ServiceConfig{Now: env.Now})
	return env
}

func TestService_Quote_Interpolated(t *testing.T) {
	env := newTestEnv(t)

	quote, err := env.service.Quote(context.Background(), models.QuoteRequest{
		Carat: 1.25,
		Color: "Colorless",
		Shape: "Round",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, quote.ID)
	assert.InDelta(t, math.Exp(9.2), quote.PricePerCarat.InexactFloat64(), 0.01)
	assert.InDelta(t, 12371.41, quote.TotalPrice.InexactFloat64(), 0.01)
	assert.Equal(t, 90, quote.Confidence)
	assert.Equal(t, "11629", quote.PriceRange.Min.String())
	assert.Equal(t, "13114", quote.PriceRange.Max.String())
	assert.Equal(t, "5820.1", quote.DCX.String())
	assert.Equal(t, -0.4, quote.Trend24h)
	require.NotNil(t, quote.MarketDepth)
	assert.Equal(t, 250, *quote.MarketDepth)
	assert.Equal(t, env.Now(), quote.CreatedAt)

	require.NotNil(t, quote.Details)
	assert.Equal(t, models.QuoteDetails{
		LowerBand:     1.0,
		UpperBand:     1.5,
		Lambda:        0.5,
		Color:         "E",
		Clarity:       "VS2",
		ShapeCategory: models.ShapeRound,
		Interpolated:  true,
		DepthSource:   "color_clarity",
	}, *quote.Details)
}

func TestService_Quote_ExactBandFancyShape(t *testing.T) {
	env := newTestEnv(t)

	quote, err := env.service.Quote(context.Background(), models.QuoteRequest{
		Carat:   1.0,
		Color:   "E",
		Shape:   "Oval",
		Clarity: "vs2",
	})
	require.NoError(t, err)

	assert.InDelta(t, 8103.08, quote.PricePerCarat.InexactFloat64(), 0.01)
	assert.Equal(t, 100, quote.Confidence)
	assert.Equal(t, 0.0, quote.Details.Lambda)
	assert.False(t, quote.Details.Interpolated)
	assert.Equal(t, models.ShapeFancy, quote.Details.ShapeCategory)
	assert.True(t, quote.Details.ShapeApproximated)
}

func TestService_Quote_ClampsColor(t *testing.T) {
	env := newTestEnv(t)

	quote, err := env.service.Quote(context.Background(), models.QuoteRequest{Carat: 1.0, Color: "Z", Shape: "round"})
	require.NoError(t, err)
	assert.Equal(t, "M", quote.Details.Color)

	// M/VS2 sits eight rows below E/VS2
	assert.InDelta(t, math.Exp(9.0-0.05*8), quote.PricePerCarat.InexactFloat64(), 0.01)
}

func TestService_Quote_NoDepth(t *testing.T) {
	env := newTestEnv(t)
	env.provider.depth = &marketdata.MarketDepth{}

	quote, err := env.service.Quote(context.Background(), models.QuoteRequest{Carat: 1.0, Color: "E", Shape: "round"})
	require.NoError(t, err)

	assert.Nil(t, quote.MarketDepth)
	assert.Empty(t, quote.Details.DepthSource)
	assert.Equal(t, 85, quote.Confidence)
}

func TestService_Quote_DepthFallsBackToCaratKey(t *testing.T) {
	env := newTestEnv(t)
	env.provider.depth = &marketdata.MarketDepth{
		ByCaratClarity: marketdata.DepthTable{"1.25": {"VS2": 120}},
	}

	quote, err := env.service.Quote(context.Background(), models.QuoteRequest{Carat: 1.25, Color: "E", Shape: "round"})
	require.NoError(t, err)

	require.NotNil(t, quote.MarketDepth)
	assert.Equal(t, 120, *quote.MarketDepth)
	assert.Equal(t, "carat_clarity", quote.Details.DepthSource)
	assert.Equal(t, 85, quote.Confidence)
}

func TestService_Quote_NoDataAvailable(t *testing.T) {
	env := newTestEnv(t)
	env.provider.setErr(errors.New("connection refused"))

	_, err := env.service.Quote(context.Background(), models.QuoteRequest{Carat: 1.25, Color: "E", Shape: "round"})
	require.Error(t, err)

	var pricingErr *PricingError
	require.True(t, errors.As(err, &pricingErr))
	assert.Equal(t, StageFetch, pricingErr.Stage)
	assert.True(t, errors.Is(err, cache.ErrNoDataAvailable))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestService_Quote_StaleDataStillPrices(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := models.QuoteRequest{Carat: 1.25, Color: "E", Shape: "round"}

	_, err := env.service.Quote(ctx, req)
	require.NoError(t, err)

	env.provider.setErr(errors.New("provider down"))
	env.advance(30 * time.Hour)

	quote, err := env.service.Quote(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 80, quote.Confidence)
	assert.Equal(t, 30.0, quote.Details.DataAgeHours)
	assert.InDelta(t, 12371.41, quote.TotalPrice.InexactFloat64(), 0.01)
}

func TestService_Quote_AgeFallsBackToCaptureTime(t *testing.T) {
	env := newTestEnv(t)
	env.provider.matrix.Timestamp = time.Time{}
	ctx := context.Background()

	_, err := env.service.Quote(ctx, models.QuoteRequest{Carat: 1.0, Color: "E", Shape: "round"})
	require.NoError(t, err)

	env.advance(7 * time.Hour)
	quote, err := env.service.Quote(ctx, models.QuoteRequest{Carat: 1.0, Color: "E", Shape: "round"})
	require.NoError(t, err)
	assert.Equal(t, 7.0, quote.Details.DataAgeHours)
	assert.Equal(t, 95, quote.Confidence)
}

func TestService_Quote_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		req  models.QuoteRequest
	}{
		{"zero carat", models.QuoteRequest{Carat: 0, Color: "E"}},
		{"negative carat", models.QuoteRequest{Carat: -1, Color: "E"}},
		{"NaN carat", models.QuoteRequest{Carat: math.NaN(), Color: "E"}},
		{"infinite carat", models.QuoteRequest{Carat: math.Inf(1), Color: "E"}},
		{"missing color", models.QuoteRequest{Carat: 1, Color: "  "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.service.Quote(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, utils.IsValidationError(err))

			var pricingErr *PricingError
			require.True(t, errors.As(err, &pricingErr))
			assert.Equal(t, StageValidate, pricingErr.Stage)
		})
	}
	assert.Equal(t, int32(0), env.provider.matrixCalls.Load())
}

func TestService_Quote_GradeNotInGrid(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.Quote(context.Background(), models.QuoteRequest{Carat: 1.25, Color: "E", Clarity: "I3"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, marketdata.ErrGradeNotInGrid))

	var pricingErr *PricingError
	require.True(t, errors.As(err, &pricingErr))
	assert.Equal(t, StageInterpolate, pricingErr.Stage)
}

func TestService_Quote_EmptyMatrix(t *testing.T) {
	env := newTestEnv(t)
	env.provider.matrix = &marketdata.PriceMatrix{}

	_, err := env.service.Quote(context.Background(), models.QuoteRequest{Carat: 1.25, Color: "E"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoCaratBands))
}

func TestService_CacheControl(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	status := env.service.CacheStatus(ctx)
	assert.False(t, status.Matrix.Cached)

	status, err := env.service.RefreshMarketData(ctx)
	require.NoError(t, err)
	assert.True(t, status.Matrix.Cached)
	assert.True(t, status.Index.Cached)
	assert.True(t, status.Depth.Cached)

	_, err = env.service.RefreshMarketData(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), env.provider.matrixCalls.Load())

	require.NoError(t, env.service.ClearCache(ctx))
	status = env.service.CacheStatus(ctx)
	assert.False(t, status.Matrix.Cached)
	assert.False(t, status.Index.Cached)
	assert.False(t, status.Depth.Cached)
}

func TestService_RefreshWithoutData(t *testing.T) {
	env := newTestEnv(t)
	env.provider.setErr(errors.New("provider down"))

	_, err := env.service.RefreshMarketData(context.Background())
	assert.True(t, errors.Is(err, cache.ErrNoDataAvailable))
}

func TestService_CancelledRefreshDoesNotFailConcurrentQuote(t *testing.T) {
	env := newTestEnv(t)
	env.provider.matrixGate = make(chan struct{})

	refreshCtx, cancelRefresh := context.WithCancel(context.Background())
	defer cancelRefresh()

	refreshErr := make(chan error, 1)
	go func() {
		_, err := env.service.RefreshMarketData(refreshCtx)
		refreshErr <- err
	}()
	require.Eventually(t, func() bool { return env.provider.matrixCalls.Load() == 1 }, time.Second, time.Millisecond)

	quoteErr := make(chan error, 1)
	go func() {
		_, err := env.service.Quote(context.Background(), models.QuoteRequest{Carat: 1.25, Color: "E", Clarity: "VS2"})
		quoteErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelRefresh()
	err := <-refreshErr
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	close(env.provider.matrixGate)
	require.NoError(t, <-quoteErr)
	assert.Equal(t, int32(1), env.provider.matrixCalls.Load())
}

func TestService_MarketIndex(t *testing.T) {
	env := newTestEnv(t)

	entry, err := env.service.MarketIndex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "5820.1", entry.Data.DCX.String())

	env.provider.index = nil
	require.NoError(t, env.service.ClearCache(context.Background()))
	_, err = env.service.MarketIndex(context.Background())
	assert.Error(t, err)
}

func TestPricingError(t *testing.T) {
	err := newPricingError(StageFetch, cache.ErrNoDataAvailable)
	assert.Equal(t, "pricing failed at fetch: no market data available", err.Error())
	assert.True(t, errors.Is(err, cache.ErrNoDataAvailable))
}
