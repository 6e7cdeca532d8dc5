package marketdata

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// ErrGradeNotInGrid is returned when a color or clarity label is absent from
// a grid's row or column labels.
var ErrGradeNotInGrid = errors.New("grade not found in grid")

// PriceMatrix is the sparse price grid keyed by carat band. Band keys carry
// one decimal place ("0.5", "1.0", "1.5").
type PriceMatrix struct {
	Timestamp time.Time             `json:"timestamp"`
	Grids     map[string]*PriceGrid `json:"grids"`
}

// PriceGrid holds ln(price per carat) for one carat band in row-major order:
// LogPrices[colorIndex*Cols+clarityIndex].
type PriceGrid struct {
	Rows      int       `json:"rows"`
	Cols      int       `json:"cols"`
	Colors    []string  `json:"colors"`
	Clarities []string  `json:"clarities"`
	LogPrices []float64 `json:"log_prices"`
	Timestamp time.Time `json:"timestamp"`
}

// BandKey formats a carat band the way the provider keys its grids.
func BandKey(band float64) string {
	return strconv.FormatFloat(band, 'f', 1, 64)
}

// Bands returns the carat bands present in the matrix in ascending order.
// Keys that do not parse as numbers are ignored.
func (m *PriceMatrix) Bands() []float64 {
	if m == nil {
		return nil
	}
	bands := make([]float64, 0, len(m.Grids))
	for key, grid := range m.Grids {
		if grid == nil {
			continue
		}
		band, err := strconv.ParseFloat(key, 64)
		if err != nil {
			continue
		}
		bands = append(bands, band)
	}
	sort.Float64s(bands)
	return bands
}

// Grid returns the grid registered for a carat band.
func (m *PriceMatrix) Grid(band float64) (*PriceGrid, bool) {
	if m == nil {
		return nil, false
	}
	if grid, ok := m.Grids[BandKey(band)]; ok && grid != nil {
		return grid, true
	}
	// keys written with other precision ("1", "1.00") still resolve
	for key, grid := range m.Grids {
		if v, err := strconv.ParseFloat(key, 64); err == nil && v == band && grid != nil {
			return grid, true
		}
	}
	return nil, false
}

// ReferenceGrid returns the grid of the lowest band. Every band shares the
// same label vocabulary, so it is used to read the supported grade range.
func (m *PriceMatrix) ReferenceGrid() (*PriceGrid, bool) {
	bands := m.Bands()
	if len(bands) == 0 {
		return nil, false
	}
	return m.Grid(bands[0])
}

// Validate checks the row-major layout invariants.
func (g *PriceGrid) Validate() error {
	if g.Rows <= 0 || g.Cols <= 0 {
		return fmt.Errorf("invalid grid dimensions %dx%d", g.Rows, g.Cols)
	}
	if len(g.Colors) != g.Rows {
		return fmt.Errorf("grid has %d rows but %d color labels", g.Rows, len(g.Colors))
	}
	if len(g.Clarities) != g.Cols {
		return fmt.Errorf("grid has %d cols but %d clarity labels", g.Cols, len(g.Clarities))
	}
	if len(g.LogPrices) != g.Rows*g.Cols {
		return fmt.Errorf("grid has %d values, expected %d", len(g.LogPrices), g.Rows*g.Cols)
	}
	return nil
}

// At returns the log price at a row and column, bounds-checked against both
// the declared dimensions and the backing slice.
func (g *PriceGrid) At(row, col int) (float64, error) {
	if row < 0 || row >= g.Rows || col < 0 || col >= g.Cols {
		return 0, fmt.Errorf("grid index (%d,%d) out of range %dx%d", row, col, g.Rows, g.Cols)
	}
	idx := row*g.Cols + col
	if idx >= len(g.LogPrices) {
		return 0, fmt.Errorf("grid index (%d,%d) beyond %d values", row, col, len(g.LogPrices))
	}
	return g.LogPrices[idx], nil
}

// Get returns the log price for a color and clarity label.
func (g *PriceGrid) Get(color, clarity string) (float64, error) {
	row := indexOf(g.Colors, color)
	if row < 0 {
		return 0, fmt.Errorf("%w: color %q", ErrGradeNotInGrid, color)
	}
	col := indexOf(g.Clarities, clarity)
	if col < 0 {
		return 0, fmt.Errorf("%w: clarity %q", ErrGradeNotInGrid, clarity)
	}
	return g.At(row, col)
}

// MinColor and MaxColor return the lexicographic bounds of the row labels.
func (g *PriceGrid) MinColor() string {
	lowest := ""
	for i, c := range g.Colors {
		if i == 0 || c < lowest {
			lowest = c
		}
	}
	return lowest
}

func (g *PriceGrid) MaxColor() string {
	highest := ""
	for _, c := range g.Colors {
		if c > highest {
			highest = c
		}
	}
	return highest
}

func indexOf(labels []string, label string) int {
	for i, l := range labels {
		if l == label {
			return i
		}
	}
	return -1
}

// MarketIndex is the composite per-carat market price.
type MarketIndex struct {
	DCX       decimal.Decimal `json:"dcx"`
	Trend24h  float64         `json:"trend_24h"`
	Timestamp time.Time       `json:"timestamp"`
	Specs     []IndexSpec     `json:"specs,omitempty"`
}

// IndexSpec is a representative stone backing the index. Informational only.
type IndexSpec struct {
	Carat   float64         `json:"carat"`
	Color   string          `json:"color"`
	Clarity string          `json:"clarity"`
	Price   decimal.Decimal `json:"price"`
}

// DepthTable maps an outer key to inner key to listing count.
type DepthTable map[string]map[string]int

// Count returns the listing count or 0 when either key is missing.
func (t DepthTable) Count(outer, inner string) int {
	if t == nil {
		return 0
	}
	row, ok := t[outer]
	if !ok {
		return 0
	}
	return row[inner]
}

// MarketDepth carries listing volume used as a liquidity signal.
type MarketDepth struct {
	ByColorClarity DepthTable `json:"by_color_clarity"`
	ByCaratClarity DepthTable `json:"by_carat_clarity"`
	ByCaratColor   DepthTable `json:"by_carat_color"`
	Timestamp      time.Time  `json:"timestamp"`
}

// ErrorResponse is the provider's error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
