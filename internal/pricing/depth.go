package pricing

import (
	"strconv"

	"github.com/irfndi/celebrum-gem-go/pkg/marketdata"
)

// DepthQuery identifies the grade combination whose listing depth is wanted.
type DepthQuery struct {
	Carat   float64
	Color   string
	Clarity string
}

// CaratKey is the literal requested weight, not the band, as the provider
// keys its carat tables.
func (q DepthQuery) CaratKey() string {
	return strconv.FormatFloat(q.Carat, 'f', -1, 64)
}

// DepthStrategy is one lookup in the depth fallback chain.
type DepthStrategy interface {
	Name() string
	Lookup(depth *marketdata.MarketDepth, q DepthQuery) int
}

type ColorClarityDepth struct{}

func (ColorClarityDepth) Name() string { return "color_clarity" }

func (ColorClarityDepth) Lookup(depth *marketdata.MarketDepth, q DepthQuery) int {
	return depth.ByColorClarity.Count(q.Color, q.Clarity)
}

type CaratClarityDepth struct{}

func (CaratClarityDepth) Name() string { return "carat_clarity" }

func (CaratClarityDepth) Lookup(depth *marketdata.MarketDepth, q DepthQuery) int {
	return depth.ByCaratClarity.Count(q.CaratKey(), q.Clarity)
}

type CaratColorDepth struct{}

func (CaratColorDepth) Name() string { return "carat_color" }

func (CaratColorDepth) Lookup(depth *marketdata.MarketDepth, q DepthQuery) int {
	return depth.ByCaratColor.Count(q.CaratKey(), q.Color)
}

// DefaultDepthStrategies is the resolution order used by the service.
var DefaultDepthStrategies = []DepthStrategy{
	ColorClarityDepth{},
	CaratClarityDepth{},
	CaratColorDepth{},
}

// ResolveDepth returns the first non-zero count and the strategy that found
// it, or 0 and "" when no strategy has data.
func ResolveDepth(depth *marketdata.MarketDepth, q DepthQuery, strategies []DepthStrategy) (int, string) {
	if depth == nil {
		return 0, ""
	}
	for _, s := range strategies {
		if n := s.Lookup(depth, q); n > 0 {
			return n, s.Name()
		}
	}
	return 0, ""
}
