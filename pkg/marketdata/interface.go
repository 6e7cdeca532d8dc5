package marketdata

import "context"

// Provider supplies the three market datasets. Implementations must be safe
// to call concurrently and to retry.
type Provider interface {
	GetPriceMatrix(ctx context.Context) (*PriceMatrix, error)
	GetMarketIndex(ctx context.Context) (*MarketIndex, error)
	GetMarketDepth(ctx context.Context) (*MarketDepth, error)
}

// HealthChecker is implemented by providers that expose a liveness probe.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

var (
	_ Provider      = (*Client)(nil)
	_ HealthChecker = (*Client)(nil)
)
