package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PricingTracer provides spans for the pricing pipeline and its market data fetches.
type PricingTracer struct {
	tracer trace.Tracer
}

// QuoteSpanData is the outcome of a quote, recorded onto its span.
type QuoteSpanData struct {
	NormalizedColor   string
	Clarity           string
	ShapeCategory     string
	LowerBand         float64
	UpperBand         float64
	Lambda            float64
	Extrapolated      bool
	ShapeApproximated bool
	MarketDepth       int
	Confidence        int
	TotalPrice        float64
}

// NewPricingTracer creates a PricingTracer on the global provider.
func NewPricingTracer() *PricingTracer {
	return &PricingTracer{tracer: GetPricingTracer()}
}

// NewPricingTracerWith is used by tests that install their own provider.
func NewPricingTracerWith(tracer trace.Tracer) *PricingTracer {
	return &PricingTracer{tracer: tracer}
}

// TraceQuote starts the root span for a single price quote.
func (pt *PricingTracer) TraceQuote(ctx context.Context, carat float64, color, shape string) (context.Context, trace.Span) {
	return pt.tracer.Start(ctx, "pricing.quote", trace.WithAttributes(
		attribute.Float64("diamond.carat", carat),
		attribute.String("diamond.color", color),
		attribute.String("diamond.shape", shape),
	))
}

// RecordQuote adds the resolved quote details to span.
func (pt *PricingTracer) RecordQuote(span trace.Span, data QuoteSpanData) {
	span.SetAttributes(
		attribute.String("pricing.color", data.NormalizedColor),
		attribute.String("pricing.clarity", data.Clarity),
		attribute.String("pricing.shape_category", data.ShapeCategory),
		attribute.Float64("pricing.lower_band", data.LowerBand),
		attribute.Float64("pricing.upper_band", data.UpperBand),
		attribute.Float64("pricing.lambda", data.Lambda),
		attribute.Bool("pricing.extrapolated", data.Extrapolated),
		attribute.Bool("pricing.shape_approximated", data.ShapeApproximated),
		attribute.Int("pricing.market_depth", data.MarketDepth),
		attribute.Int("pricing.confidence", data.Confidence),
		attribute.Float64("pricing.total_price", data.TotalPrice),
	)
	span.SetStatus(codes.Ok, "")
}

// TraceDatasetFetch starts a span around a cache-aware dataset fetch.
func (pt *PricingTracer) TraceDatasetFetch(ctx context.Context, dataset string, force bool) (context.Context, trace.Span) {
	return pt.tracer.Start(ctx, "market_data.fetch", trace.WithAttributes(
		attribute.String("market_data.dataset", dataset),
		attribute.Bool("market_data.force_refresh", force),
	))
}

// RecordFailure records err on span with the pipeline stage that produced it.
func (pt *PricingTracer) RecordFailure(span trace.Span, stage string, err error) {
	span.SetAttributes(attribute.String("pricing.failed_stage", stage))
	RecordError(span, err)
}
