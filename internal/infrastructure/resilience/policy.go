package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/kirillkom/case-documents/internal/core/domain"
)

// Config tunes retries and the per-operation circuit breakers.
type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

// DefaultConfig fits short calls such as one entity lookup or one event publish.
// Retries stay well under a request timeout.
func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 50 * time.Millisecond,
		RetryMaxBackoff:     400 * time.Millisecond,
		RetryMultiplier:     2.0,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      15 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

// WithLimits applies deployment overrides. A non-positive attempt count keeps the current one.
func (c Config) WithLimits(maxAttempts int, breakerEnabled bool) Config {
	if maxAttempts > 0 {
		c.RetryMaxAttempts = maxAttempts
	}
	c.BreakerEnabled = breakerEnabled
	return c
}

func (c Config) normalize() Config {
	def := DefaultConfig()

	if c.RetryMaxAttempts <= 0 {
		c.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if c.RetryInitialBackoff <= 0 {
		c.RetryInitialBackoff = def.RetryInitialBackoff
	}
	if c.RetryMaxBackoff < c.RetryInitialBackoff {
		c.RetryMaxBackoff = max(def.RetryMaxBackoff, c.RetryInitialBackoff)
	}
	if c.RetryMultiplier < 1.0 {
		c.RetryMultiplier = def.RetryMultiplier
	}

	if c.BreakerMinRequests == 0 {
		c.BreakerMinRequests = def.BreakerMinRequests
	}
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		c.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if c.BreakerOpenTimeout <= 0 {
		c.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if c.BreakerHalfOpenMaxCalls == 0 {
		c.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}
	return c
}

var (
	transientFailure = ErrorClassification{Retryable: true, RecordFailure: true}
	permanentFailure = ErrorClassification{RecordFailure: true}
)

// Classify runs the rules every backend shares, then the backend's own.
// Cancellation and requests the backend rejected on their merits are neither
// retried nor counted against the breaker; transient failures are both.
func Classify(err error, transient, rejected func(error) bool) ErrorClassification {
	switch {
	case err == nil:
		return ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorClassification{}
	case IsCircuitOpen(err):
		return transientFailure
	case rejected != nil && rejected(err):
		return ErrorClassification{}
	case transient != nil && transient(err):
		return transientFailure
	default:
		return permanentFailure
	}
}

// WrapTemporary tags err with domain.ErrTemporary when classifier deems it retryable,
// so callers can answer 503 instead of 500.
func WrapTemporary(operation string, err error, classifier ErrorClassifier) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifier(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
