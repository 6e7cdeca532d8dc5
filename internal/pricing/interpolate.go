package pricing

import (
	"fmt"
	"math"
	"sort"

	"github.com/irfndi/celebrum-gem-go/pkg/marketdata"
)

// Bracket is the pair of carat bands used to price a weight.
type Bracket struct {
	Lower        float64
	Upper        float64
	Exact        bool
	Extrapolated bool
}

// FindBracket locates the bands around weight. An exact band match returns
// that band twice. Weights outside the grid use the two nearest bands at that
// end and are flagged as extrapolated.
func FindBracket(bands []float64, weight float64) (Bracket, error) {
	if len(bands) == 0 {
		return Bracket{}, ErrNoCaratBands
	}

	sorted := make([]float64, len(bands))
	copy(sorted, bands)
	sort.Float64s(sorted)

	i := sort.SearchFloat64s(sorted, weight)
	if i < len(sorted) && sorted[i] == weight {
		return Bracket{Lower: weight, Upper: weight, Exact: true}, nil
	}

	if len(sorted) == 1 {
		return Bracket{Lower: sorted[0], Upper: sorted[0], Extrapolated: true}, nil
	}

	switch {
	case i == 0:
		return Bracket{Lower: sorted[0], Upper: sorted[1], Extrapolated: true}, nil
	case i == len(sorted):
		n := len(sorted)
		return Bracket{Lower: sorted[n-2], Upper: sorted[n-1], Extrapolated: true}, nil
	default:
		return Bracket{Lower: sorted[i-1], Upper: sorted[i]}, nil
	}
}

// Lambda is the interpolation fraction of weight between the bracket bands.
func (b Bracket) Lambda(weight float64) float64 {
	if b.Upper == b.Lower {
		return 0
	}
	return (weight - b.Lower) / (b.Upper - b.Lower)
}

// Interpolation is a per-carat price derived from the grid.
type Interpolation struct {
	Bracket
	Lambda        float64
	LowerLog      float64
	UpperLog      float64
	LogPrice      float64
	PricePerCarat float64
	TotalPrice    float64
}

// Interpolated reports whether the weight fell between bands rather than on one.
func (i Interpolation) Interpolated() bool {
	return !i.Exact
}

// Interpolate prices weight at (color, clarity) by linear interpolation of the
// log per-carat prices of the bracketing bands.
func Interpolate(matrix *marketdata.PriceMatrix, weight float64, color, clarity string) (Interpolation, error) {
	bracket, err := FindBracket(matrix.Bands(), weight)
	if err != nil {
		return Interpolation{}, err
	}

	lowerLog, err := logPriceAt(matrix, bracket.Lower, color, clarity)
	if err != nil {
		return Interpolation{}, err
	}
	upperLog, err := logPriceAt(matrix, bracket.Upper, color, clarity)
	if err != nil {
		return Interpolation{}, err
	}

	lambda := bracket.Lambda(weight)
	logPrice := (1-lambda)*lowerLog + lambda*upperLog
	perCarat := math.Exp(logPrice)

	return Interpolation{
		Bracket:       bracket,
		Lambda:        lambda,
		LowerLog:      lowerLog,
		UpperLog:      upperLog,
		LogPrice:      logPrice,
		PricePerCarat: perCarat,
		TotalPrice:    perCarat * weight,
	}, nil
}

func logPriceAt(matrix *marketdata.PriceMatrix, band float64, color, clarity string) (float64, error) {
	grid, ok := matrix.Grid(band)
	if !ok {
		return 0, fmt.Errorf("%w: band %s", ErrNoCaratBands, marketdata.BandKey(band))
	}
	v, err := grid.Get(color, clarity)
	if err != nil {
		return 0, fmt.Errorf("band %s: %w", marketdata.BandKey(band), err)
	}
	return v, nil
}
