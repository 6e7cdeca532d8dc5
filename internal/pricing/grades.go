package pricing

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/irfndi/celebrum-gem-go/internal/models"
)

// DefaultClarity is used when a request carries no clarity grade.
const DefaultClarity = "VS2"

// colorCategories maps category names and GIA letter ranges to the middle
// letter of their range.
var colorCategories = map[string]string{
	"Colorless":      "E",
	"Near Colorless": "H",
	"Faint":          "L",
	"Very Light":     "P",
	"Light":          "W",
	"D-F":            "E",
	"G-J":            "H",
	"K-M":            "L",
	"N-R":            "P",
	"S-Z":            "W",
}

// Casers are stateful, so each call builds its own.
func toUpper(s string) string {
	return cases.Upper(language.Und).String(s)
}

func foldCase(s string) string {
	return cases.Fold().String(s)
}

// NormalizeColor resolves a category, range or letter grade to a single
// letter within [minGrade, maxGrade]. Empty bounds disable clamping on that side.
func NormalizeColor(input, minGrade, maxGrade string) string {
	grade, ok := colorCategories[input]
	if !ok {
		grade = toUpper(strings.TrimSpace(input))
	}

	if minGrade != "" && grade < minGrade {
		return minGrade
	}
	if maxGrade != "" && grade > maxGrade {
		return maxGrade
	}
	return grade
}

// NormalizeClarity upper-cases a clarity grade, substituting fallback when
// the input is blank.
func NormalizeClarity(input, fallback string) string {
	grade := strings.TrimSpace(input)
	if grade == "" {
		return fallback
	}
	return toUpper(grade)
}

// NormalizeShape returns the pricing category for a shape label. Only round
// data exists, so every other shape is priced from the round grid and
// reported as approximated.
func NormalizeShape(input string) (category string, approximated bool) {
	switch foldCase(strings.TrimSpace(input)) {
	case "round", "brilliant":
		return models.ShapeRound, false
	default:
		return models.ShapeFancy, true
	}
}

// Grades is the normalized form of a request's grade inputs.
type Grades struct {
	Color             string
	Clarity           string
	Shape             string
	ShapeApproximated bool
}

// Normalizer turns caller grade labels into grid vocabulary.
type Normalizer struct {
	DefaultClarity string
}

func NewNormalizer(defaultClarity string) *Normalizer {
	if defaultClarity == "" {
		defaultClarity = DefaultClarity
	}
	return &Normalizer{DefaultClarity: toUpper(defaultClarity)}
}

// Normalize never fails; out-of-range colors are clamped to the grid bounds.
func (n *Normalizer) Normalize(req models.QuoteRequest, minColor, maxColor string) Grades {
	shape, approximated := NormalizeShape(req.Shape)
	return Grades{
		Color:             NormalizeColor(req.Color, minColor, maxColor),
		Clarity:           NormalizeClarity(req.Clarity, n.DefaultClarity),
		Shape:             shape,
		ShapeApproximated: approximated,
	}
}
