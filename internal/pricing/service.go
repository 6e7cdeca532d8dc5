// Package pricing turns graded diamond attributes and market data into a
// price quote with a confidence score and price range.
package pricing

import (
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/irfndi/celebrum-gem-go/internal/cache"
	"github.com/irfndi/celebrum-gem-go/internal/logging"
	"github.com/irfndi/celebrum-gem-go/internal/models"
	"github.com/irfndi/celebrum-gem-go/internal/telemetry"
	"github.com/irfndi/celebrum-gem-go/internal/utils"
	"github.com/irfndi/celebrum-gem-go/pkg/marketdata"
)

// MarketDataSource is the cache-aware view of the three market datasets.
type MarketDataSource interface {
	Matrix(ctx context.Context, force bool) (*cache.Entry[*marketdata.PriceMatrix], error)
	Index(ctx context.Context, force bool) (*cache.Entry[*marketdata.MarketIndex], error)
	Depth(ctx context.Context, force bool) (*cache.Entry[*marketdata.MarketDepth], error)
	Clear(ctx context.Context) error
	Status(ctx context.Context) cache.Status
}

var _ MarketDataSource = (*cache.MarketDataCache)(nil)

// ServiceConfig configures a Service. Zero values use VS2 as the default
// clarity, the default depth strategies, time.Now and the global tracer.
type ServiceConfig struct {
	DefaultClarity  string
	DepthStrategies []DepthStrategy
	Logger          logging.Logger
	Tracer          *telemetry.PricingTracer
	Now             func() time.Time
}

// Service is the pricing entry point.
type Service struct {
	data       MarketDataSource
	normalizer *Normalizer
	strategies []DepthStrategy
	logger     logging.Logger
	tracer     *telemetry.PricingTracer
	now        func() time.Time
}

func NewService(data MarketDataSource, cfg ServiceConfig) *Service {
	s := &Service{
		data:       data,
		normalizer: NewNormalizer(cfg.DefaultClarity),
		strategies: cfg.DepthStrategies,
		logger:     cfg.Logger,
		tracer:     cfg.Tracer,
		now:        cfg.Now,
	}
	if len(s.strategies) == 0 {
		s.strategies = DefaultDepthStrategies
	}
	if s.logger == nil {
		s.logger = logging.NewStandardLoggerWithWriter("error", io.Discard)
	}
	if s.tracer == nil {
		s.tracer = telemetry.NewPricingTracer()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type marketSnapshot struct {
	matrix *cache.Entry[*marketdata.PriceMatrix]
	index  *cache.Entry[*marketdata.MarketIndex]
	depth  *cache.Entry[*marketdata.MarketDepth]
}

// Quote prices a stone. Every failure is returned as a *PricingError.
func (s *Service) Quote(ctx context.Context, req models.QuoteRequest) (*models.PriceQuote, error) {
	ctx, span := s.tracer.TraceQuote(ctx, req.Carat, req.Color, req.Shape)
	defer span.End()

	fail := func(stage string, err error) error {
		s.tracer.RecordFailure(span, stage, err)
		s.logger.WithOperation("quote").Warn("Pricing failed", "stage", stage, "error", err.Error())
		return newPricingError(stage, err)
	}

	if err := validateRequest(req); err != nil {
		return nil, fail(StageValidate, err)
	}

	snap, err := s.fetchAll(ctx, false)
	if err != nil {
		return nil, fail(StageFetch, err)
	}

	matrix := snap.matrix.Data
	ref, ok := matrix.ReferenceGrid()
	if !ok {
		return nil, fail(StageNormalize, ErrNoCaratBands)
	}
	grades := s.normalizer.Normalize(req, ref.MinColor(), ref.MaxColor())

	interp, err := Interpolate(matrix, req.Carat, grades.Color, grades.Clarity)
	if err != nil {
		return nil, fail(StageInterpolate, err)
	}

	var depthData *marketdata.MarketDepth
	if snap.depth != nil {
		depthData = snap.depth.Data
	}
	depth, depthSource := ResolveDepth(depthData, DepthQuery{
		Carat:   req.Carat,
		Color:   grades.Color,
		Clarity: grades.Clarity,
	}, s.strategies)

	now := s.now()
	age := dataAge(snap.matrix, now)
	confidence := Confidence(ConfidenceInputs{
		Interpolated: interp.Interpolated(),
		Depth:        depth,
		DataAge:      age,
	})
	low, high := PriceRange(interp.TotalPrice, confidence)

	quote := &models.PriceQuote{
		ID:            uuid.NewString(),
		PricePerCarat: decimal.NewFromFloat(interp.PricePerCarat).Round(2),
		TotalPrice:    decimal.NewFromFloat(interp.TotalPrice).Round(2),
		PriceRange: models.PriceRange{
			Min: decimal.NewFromFloat(low),
			Max: decimal.NewFromFloat(high),
		},
		Confidence: confidence,
		CreatedAt:  now,
		Details: &models.QuoteDetails{
			LowerBand:         interp.Lower,
			UpperBand:         interp.Upper,
			Lambda:            interp.Lambda,
			Color:             grades.Color,
			Clarity:           grades.Clarity,
			ShapeCategory:     grades.Shape,
			ShapeApproximated: grades.ShapeApproximated,
			Interpolated:      interp.Interpolated(),
			Extrapolated:      interp.Extrapolated,
			DepthSource:       depthSource,
			DataAgeHours:      math.Round(age.Hours()*100) / 100,
		},
	}
	if snap.index != nil && snap.index.Data != nil {
		quote.DCX = snap.index.Data.DCX
		quote.Trend24h = snap.index.Data.Trend24h
	}
	if depth > 0 {
		quote.MarketDepth = &depth
	}

	if interp.Extrapolated {
		s.logger.WithOperation("quote").Info("Carat weight outside grid, extrapolating",
			"carat", req.Carat,
			"lower_band", interp.Lower,
			"upper_band", interp.Upper,
		)
	}

	s.tracer.RecordQuote(span, telemetry.QuoteSpanData{
		NormalizedColor:   grades.Color,
		Clarity:           grades.Clarity,
		ShapeCategory:     grades.Shape,
		LowerBand:         interp.Lower,
		UpperBand:         interp.Upper,
		Lambda:            interp.Lambda,
		Extrapolated:      interp.Extrapolated,
		ShapeApproximated: grades.ShapeApproximated,
		MarketDepth:       depth,
		Confidence:        confidence,
		TotalPrice:        interp.TotalPrice,
	})
	s.logger.LogBusinessEvent("quote_issued", map[string]interface{}{
		"quote_id":   quote.ID,
		"carat":      req.Carat,
		"color":      grades.Color,
		"clarity":    grades.Clarity,
		"shape":      grades.Shape,
		"confidence": confidence,
		"total":      quote.TotalPrice.String(),
	})

	return quote, nil
}

func validateRequest(req models.QuoteRequest) error {
	if math.IsNaN(req.Carat) || math.IsInf(req.Carat, 0) || req.Carat <= 0 {
		return utils.NewFieldError("carat", "must be a positive number, got %v", req.Carat)
	}
	if strings.TrimSpace(req.Color) == "" {
		return utils.NewFieldError("color", "is required")
	}
	return nil
}

// dataAge measures staleness from the provider's matrix timestamp, falling
// back to the cache capture time when the provider sent none.
func dataAge(entry *cache.Entry[*marketdata.PriceMatrix], now time.Time) time.Duration {
	captured := entry.CachedAt
	if entry.Data != nil && !entry.Data.Timestamp.IsZero() {
		captured = entry.Data.Timestamp
	}
	age := now.Sub(captured)
	if age < 0 {
		return 0
	}
	return age
}

func (s *Service) fetchAll(ctx context.Context, force bool) (*marketSnapshot, error) {
	snap := &marketSnapshot{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		entry, err := traced(gctx, s.tracer, cache.DatasetMatrix, force, s.data.Matrix)
		snap.matrix = entry
		return err
	})
	g.Go(func() error {
		entry, err := traced(gctx, s.tracer, cache.DatasetIndex, force, s.data.Index)
		snap.index = entry
		return err
	})
	g.Go(func() error {
		entry, err := traced(gctx, s.tracer, cache.DatasetDepth, force, s.data.Depth)
		snap.depth = entry
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if snap.matrix == nil {
		return nil, cache.ErrNoDataAvailable
	}
	return snap, nil
}

func traced[T any](ctx context.Context, tracer *telemetry.PricingTracer, dataset string, force bool, get func(context.Context, bool) (*cache.Entry[T], error)) (*cache.Entry[T], error) {
	ctx, span := tracer.TraceDatasetFetch(ctx, dataset, force)
	defer span.End()

	entry, err := get(ctx, force)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return entry, nil
}

// RefreshMarketData force-refreshes all three datasets. A dataset whose
// fetch fails keeps serving its cached copy. An error is returned when a
// dataset has no data at all, or when ctx ends before a dataset without a
// cached copy arrives; fetches shared with other callers still complete.
func (s *Service) RefreshMarketData(ctx context.Context) (cache.Status, error) {
	if _, err := s.fetchAll(ctx, true); err != nil {
		return s.data.Status(ctx), err
	}
	s.logger.WithOperation("refresh").Info("Market data refreshed")
	return s.data.Status(ctx), nil
}

// MarketIndex returns the cached composite index, refreshing it if expired.
func (s *Service) MarketIndex(ctx context.Context) (*cache.Entry[*marketdata.MarketIndex], error) {
	entry, err := traced(ctx, s.tracer, cache.DatasetIndex, false, s.data.Index)
	if err != nil {
		return nil, newPricingError(StageFetch, err)
	}
	if entry.Data == nil {
		return nil, newPricingError(StageFetch, errors.New("market index is empty"))
	}
	return entry, nil
}

// ClearCache drops every cached dataset.
func (s *Service) ClearCache(ctx context.Context) error {
	return s.data.Clear(ctx)
}

// CacheStatus reports presence and age of the cached datasets.
func (s *Service) CacheStatus(ctx context.Context) cache.Status {
	return s.data.Status(ctx)
}
