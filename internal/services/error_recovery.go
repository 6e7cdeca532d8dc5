package services

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryPolicy defines retry behavior for failed operations
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// DefaultRetryPolicy returns the policy used for market data provider calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    2,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// Delay returns the wait before retry number attempt (zero based), capped
// at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	delay := float64(p.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= factor
		if p.MaxDelay > 0 && delay >= float64(p.MaxDelay) {
			delay = float64(p.MaxDelay)
			break
		}
	}

	if p.JitterEnabled {
		// up to 25% either way
		delay += delay * 0.25 * (rand.Float64()*2 - 1)
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// ExecuteWithRetry runs operation until it succeeds, returns an error that
// retryable rejects, exhausts the policy, or ctx is done. A nil retryable
// retries every error.
func ExecuteWithRetry(
	ctx context.Context,
	logger *logrus.Logger,
	operationName string,
	policy RetryPolicy,
	retryable func(error) bool,
	operation func(context.Context) error,
) error {
	start := time.Now()
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := operation(ctx)
		if err == nil {
			if attempt > 0 {
				logger.WithFields(logrus.Fields{
					"operation": operationName,
					"attempts":  attempt + 1,
					"duration":  time.Since(start),
				}).Info("Operation recovered after retry")
			}
			return nil
		}
		lastErr = err

		if attempt == policy.MaxRetries || (retryable != nil && !retryable(err)) {
			break
		}

		delay := policy.Delay(attempt)
		logger.WithFields(logrus.Fields{
			"operation": operationName,
			"attempt":   attempt + 1,
			"error":     err.Error(),
			"delay":     delay,
		}).Warn("Operation failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}

	logger.WithFields(logrus.Fields{
		"operation": operationName,
		"duration":  time.Since(start),
		"error":     lastErr.Error(),
	}).Error("Operation failed after all retries")

	return lastErr
}
