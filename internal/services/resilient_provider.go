package services

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/irfndi/celebrum-gem-go/internal/cache"
	"github.com/irfndi/celebrum-gem-go/internal/telemetry"
	"github.com/irfndi/celebrum-gem-go/pkg/marketdata"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

// ResilientProviderConfig tunes the protection around provider calls.
type ResilientProviderConfig struct {
	RateLimit      rate.Limit
	RateBurst      int
	Retry          RetryPolicy
	CircuitBreaker CircuitBreakerConfig
}

// DefaultResilientProviderConfig returns conservative defaults for a remote
// provider that publishes a few times a day.
func DefaultResilientProviderConfig() ResilientProviderConfig {
	return ResilientProviderConfig{
		RateLimit: rate.Limit(5),
		RateBurst: 3,
		Retry:     DefaultRetryPolicy(),
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 1,
			Timeout:          30 * time.Second,
			MaxRequests:      1,
			ResetTimeout:     5 * time.Minute,
		},
	}
}

// ResilientProvider wraps a market data provider with a token bucket rate
// limit, bounded retries for transient failures, and a circuit breaker per
// dataset.
type ResilientProvider struct {
	next     marketdata.Provider
	limiter  *rate.Limiter
	breakers *CircuitBreakerManager
	config   ResilientProviderConfig
	logger   *logrus.Logger
}

var (
	_ marketdata.Provider      = (*ResilientProvider)(nil)
	_ marketdata.HealthChecker = (*ResilientProvider)(nil)
)

// NewResilientProvider wraps next. A zero RateLimit disables rate limiting.
func NewResilientProvider(next marketdata.Provider, config ResilientProviderConfig, logger *logrus.Logger) *ResilientProvider {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	limit := config.RateLimit
	if limit <= 0 {
		limit = rate.Inf
	}
	burst := config.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &ResilientProvider{
		next:     next,
		limiter:  rate.NewLimiter(limit, burst),
		breakers: NewCircuitBreakerManager(logger),
		config:   config,
		logger:   logger,
	}
}

func (p *ResilientProvider) GetPriceMatrix(ctx context.Context) (*marketdata.PriceMatrix, error) {
	return call(ctx, p, cache.DatasetMatrix, p.next.GetPriceMatrix)
}

func (p *ResilientProvider) GetMarketIndex(ctx context.Context) (*marketdata.MarketIndex, error) {
	return call(ctx, p, cache.DatasetIndex, p.next.GetMarketIndex)
}

func (p *ResilientProvider) GetMarketDepth(ctx context.Context) (*marketdata.MarketDepth, error) {
	return call(ctx, p, cache.DatasetDepth, p.next.GetMarketDepth)
}

// HealthCheck probes the wrapped provider directly, bypassing breakers.
func (p *ResilientProvider) HealthCheck(ctx context.Context) error {
	if hc, ok := p.next.(marketdata.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// BreakerStats returns the state of every dataset breaker.
func (p *ResilientProvider) BreakerStats() map[string]CircuitBreakerStats {
	return p.breakers.GetAllStats()
}

// ResetBreakers closes every dataset breaker.
func (p *ResilientProvider) ResetBreakers() {
	p.breakers.ResetAll()
}

func call[T any](ctx context.Context, p *ResilientProvider, dataset string, fetch func(context.Context) (T, error)) (T, error) {
	breaker := p.breakers.GetOrCreate(dataset, p.config.CircuitBreaker)

	ctx, span := telemetry.StartSpan(ctx, telemetry.GetExternalTracer(), "market_data.fetch",
		attribute.String("market_data.dataset", dataset),
		attribute.String("circuit_breaker.state", breaker.GetState().String()),
	)
	defer span.End()

	var result T
	err := ExecuteWithRetry(ctx, p.logger, "fetch_"+dataset, p.config.Retry, isRetryable, func(ctx context.Context) error {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		return breaker.Execute(ctx, func(ctx context.Context) error {
			v, err := fetch(ctx)
			if err != nil {
				return err
			}
			result = v
			return nil
		})
	})
	if err != nil {
		telemetry.RecordError(span, err)
		var zero T
		return zero, err
	}
	return result, nil
}

// isRetryable accepts transport failures and temporary provider answers.
func isRetryable(err error) bool {
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}

	var providerErr *marketdata.ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Temporary()
	}

	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
