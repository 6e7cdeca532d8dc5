package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/irfndi/celebrum-gem-go/internal/config"
)

const (
	DefaultTimeout = 10 * time.Second

	matrixPath = "/api/v1/market/matrix"
	indexPath  = "/api/v1/market/index"
	depthPath  = "/api/v1/market/depth"
	healthPath = "/health"
)

// Client is the HTTP client for the market data provider
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
}

// NewClient creates a new market data client
func NewClient(cfg *config.MarketDataConfig) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		BaseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
	}
}

// GetPriceMatrix retrieves the carat-banded price grid
func (c *Client) GetPriceMatrix(ctx context.Context) (*PriceMatrix, error) {
	var matrix PriceMatrix
	if err := c.makeRequest(ctx, matrixPath, &matrix); err != nil {
		return nil, err
	}
	for key, grid := range matrix.Grids {
		if grid == nil {
			continue
		}
		if err := grid.Validate(); err != nil {
			return nil, fmt.Errorf("invalid price grid for band %s: %w", key, err)
		}
	}
	return &matrix, nil
}

// GetMarketIndex retrieves the composite market index
func (c *Client) GetMarketIndex(ctx context.Context) (*MarketIndex, error) {
	var index MarketIndex
	if err := c.makeRequest(ctx, indexPath, &index); err != nil {
		return nil, err
	}
	return &index, nil
}

// GetMarketDepth retrieves listing counts by grade combination
func (c *Client) GetMarketDepth(ctx context.Context) (*MarketDepth, error) {
	var depth MarketDepth
	if err := c.makeRequest(ctx, depthPath, &depth); err != nil {
		return nil, err
	}
	return &depth, nil
}

// HealthCheck checks if the provider is reachable
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.makeRequest(ctx, healthPath, nil)
}

func (c *Client) makeRequest(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Celebrum-Gem-Go/1.0")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Error closing response body: %v", err)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errorResp ErrorResponse
		if err := json.Unmarshal(respBody, &errorResp); err == nil && errorResp.Error != "" {
			return &ProviderError{StatusCode: resp.StatusCode, Message: errorResp.Error}
		}
		return &ProviderError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

// ProviderError is a non-2xx answer from the provider.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("market data provider error (%d): %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the request may succeed.
func (e *ProviderError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}
