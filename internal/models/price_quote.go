package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Shape categories used for pricing lookups.
const (
	ShapeRound = "round"
	ShapeFancy = "fancy"
)

// QuoteRequest carries the graded attributes of a stone to price.
type QuoteRequest struct {
	Carat   float64 `json:"carat" form:"carat" binding:"required"`
	Color   string  `json:"color" form:"color" binding:"required"`
	Shape   string  `json:"shape" form:"shape"`
	Clarity string  `json:"clarity,omitempty" form:"clarity"`
}

// PriceQuote is the estimated value of a stone at the time of the request.
type PriceQuote struct {
	ID            string          `json:"id"`
	PricePerCarat decimal.Decimal `json:"price_per_carat"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	PriceRange    PriceRange      `json:"price_range"`
	DCX           decimal.Decimal `json:"dcx"`
	Trend24h      float64         `json:"trend_24h"`
	Confidence    int             `json:"confidence"`
	MarketDepth   *int            `json:"market_depth,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	Details       *QuoteDetails   `json:"details,omitempty"`
}

// PriceRange is the low/high estimate around TotalPrice.
type PriceRange struct {
	Min decimal.Decimal `json:"min"`
	Max decimal.Decimal `json:"max"`
}

// QuoteDetails records which grid data was used to build a quote.
type QuoteDetails struct {
	LowerBand         float64 `json:"lower_band"`
	UpperBand         float64 `json:"upper_band"`
	Lambda            float64 `json:"lambda"`
	Color             string  `json:"color"`
	Clarity           string  `json:"clarity"`
	ShapeCategory     string  `json:"shape_category"`
	ShapeApproximated bool    `json:"shape_approximated"`
	Interpolated      bool    `json:"interpolated"`
	Extrapolated      bool    `json:"extrapolated"`
	DepthSource       string  `json:"depth_source,omitempty"`
	DataAgeHours      float64 `json:"data_age_hours"`
}
