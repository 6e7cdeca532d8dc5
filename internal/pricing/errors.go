package pricing

import (
	"errors"
	"fmt"
)

// ErrNoCaratBands is returned when the price matrix has no usable carat bands.
var ErrNoCaratBands = errors.New("price matrix has no carat bands")

// Pipeline stages reported by PricingError.
const (
	StageValidate    = "validate"
	StageFetch       = "fetch"
	StageNormalize   = "normalize"
	StageInterpolate = "interpolate"
)

// PricingError is the single failure type returned by Quote. Err keeps the
// underlying cause for errors.Is and errors.As.
type PricingError struct {
	Stage string
	Err   error
}

func (e *PricingError) Error() string {
	return fmt.Sprintf("pricing failed at %s: %v", e.Stage, e.Err)
}

func (e *PricingError) Unwrap() error {
	return e.Err
}

func newPricingError(stage string, err error) *PricingError {
	return &PricingError{Stage: stage, Err: err}
}
