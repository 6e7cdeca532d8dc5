package pricing

import (
	"math"
	"time"
)

const (
	maxConfidence = 100
	minConfidence = 50

	interpolationPenalty = 10

	lowDepthThreshold = 50
	midDepthThreshold = 200
	lowDepthPenalty   = 15
	midDepthPenalty   = 5

	staleAfter   = 12 * time.Hour
	agingAfter   = 6 * time.Hour
	stalePenalty = 10
	agingPenalty = 5

	baseSpread  = 0.05
	extraSpread = 0.10
)

// ConfidenceInputs are the signals that reduce quote confidence.
type ConfidenceInputs struct {
	Interpolated bool
	Depth        int
	DataAge      time.Duration
}

// Confidence scores a quote from 100 down to a floor of 50.
func Confidence(in ConfidenceInputs) int {
	score := maxConfidence

	if in.Interpolated {
		score -= interpolationPenalty
	}

	switch {
	case in.Depth < lowDepthThreshold:
		score -= lowDepthPenalty
	case in.Depth < midDepthThreshold:
		score -= midDepthPenalty
	}

	switch {
	case in.DataAge > staleAfter:
		score -= stalePenalty
	case in.DataAge >= agingAfter:
		score -= agingPenalty
	}

	if score < minConfidence {
		return minConfidence
	}
	return score
}

// Spread is the fractional half-width of the price range: 5% at full
// confidence widening linearly to 15% at 50.
func Spread(confidence int) float64 {
	return baseSpread + extraSpread*float64(maxConfidence-confidence)/maxConfidence
}

// PriceRange returns the rounded low and high estimates around total. The
// bounds never cross total, which matters once the spread is under half a
// unit.
func PriceRange(total float64, confidence int) (low, high float64) {
	spread := Spread(confidence)
	low = math.Min(math.Round(total*(1-spread)), math.Floor(total))
	high = math.Max(math.Round(total*(1+spread)), math.Ceil(total))
	return low, high
}
