package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfidence(t *testing.T) {
	tests := []struct {
		name string
		in   ConfidenceInputs
		want int
	}{
		{"exact, deep, fresh", ConfidenceInputs{Depth: 250}, 100},
		{"interpolated", ConfidenceInputs{Interpolated: true, Depth: 250}, 90},
		{"no depth", ConfidenceInputs{Depth: 0}, 85},
		{"depth 49", ConfidenceInputs{Depth: 49}, 85},
		{"depth 50", ConfidenceInputs{Depth: 50}, 95},
		{"depth 199", ConfidenceInputs{Depth: 199}, 95},
		{"depth 200", ConfidenceInputs{Depth: 200}, 100},
		{"age just under 6h", ConfidenceInputs{Depth: 200, DataAge: 6*time.Hour - time.Second}, 100},
		{"age 6h", ConfidenceInputs{Depth: 200, DataAge: 6 * time.Hour}, 95},
		{"age 12h", ConfidenceInputs{Depth: 200, DataAge: 12 * time.Hour}, 95},
		{"age over 12h", ConfidenceInputs{Depth: 200, DataAge: 12*time.Hour + time.Second}, 90},
		{"every penalty", ConfidenceInputs{Interpolated: true, Depth: 0, DataAge: 48 * time.Hour}, 65},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Confidence(tt.in))
		})
	}
}

func TestConfidence_Bounds(t *testing.T) {
	for _, interpolated := range []bool{false, true} {
		for _, depth := range []int{-5, 0, 10, 49, 50, 120, 199, 200, 10000} {
			for _, age := range []time.Duration{0, time.Hour, 6 * time.Hour, 12 * time.Hour, 72 * time.Hour} {
				c := Confidence(ConfidenceInputs{Interpolated: interpolated, Depth: depth, DataAge: age})
				assert.GreaterOrEqual(t, c, 50)
				assert.LessOrEqual(t, c, 100)
			}
		}
	}
}

func TestSpread(t *testing.T) {
	assert.InDelta(t, 0.05, Spread(100), 1e-12)
	assert.InDelta(t, 0.10, Spread(50), 1e-12)
	assert.InDelta(t, 0.06, Spread(90), 1e-12)
}

func TestPriceRange(t *testing.T) {
	low, high := PriceRange(10000, 100)
	assert.Equal(t, 9500.0, low)
	assert.Equal(t, 10500.0, high)

	low, high = PriceRange(10000, 50)
	assert.Equal(t, 9000.0, low)
	assert.Equal(t, 11000.0, high)

	low, high = PriceRange(12371.41, 90)
	assert.Equal(t, 11629.0, low)
	assert.Equal(t, 13114.0, high)

	// sub-unit totals round to whole units around the total
	low, high = PriceRange(0.45, 100)
	assert.Equal(t, 0.0, low)
	assert.Equal(t, 1.0, high)
}

func TestPriceRange_Ordering(t *testing.T) {
	for _, total := range []float64{0.45, 3.2, 250, 8103.08, 12371.41, 95000} {
		previousWidth := -1.0
		for confidence := 100; confidence >= 50; confidence -= 5 {
			low, high := PriceRange(total, confidence)
			assert.LessOrEqual(t, low, total)
			assert.GreaterOrEqual(t, high, total)

			width := (high - low) / total
			assert.GreaterOrEqual(t, width, previousWidth, "total %v confidence %d", total, confidence)
			previousWidth = width
		}
	}
}
