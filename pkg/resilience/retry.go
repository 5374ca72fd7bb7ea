package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/agentrelay/agentrelay/pkg/errors"
	"github.com/agentrelay/agentrelay/pkg/logging"
)

// BackoffStrategy selects how retry delays grow between attempts
type BackoffStrategy string

const (
	// BackoffLinear - delay grows as initialDelay × attempt
	BackoffLinear BackoffStrategy = "linear"
	// BackoffExponential - delay grows as initialDelay × 2^(attempt-1)
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryPolicy holds retry configuration. Policies are immutable per endpoint;
// the value semantics make every Execute work on its own copy.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts, including the first
	MaxAttempts int
	// Strategy selects linear or exponential backoff
	Strategy BackoffStrategy
	// InitialDelay seeds the backoff computation
	InitialDelay time.Duration
	// MaxDelay clamps the computed delay
	MaxDelay time.Duration
	// Jitter multiplies the delay by a uniform factor in [0.5, 1.0]
	Jitter bool
	// RetryableErrors overrides the default retryability classification
	RetryableErrors func(error) bool
	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryPolicy returns the default retry configuration
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		Strategy:     BackoffExponential,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Jitter:       true,
	}
}

// Delay computes the backoff for the given 1-based attempt number, without
// jitter. Exponential: initialDelay × 2^(attempt-1); linear: initialDelay ×
// attempt. The result is clamped to MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var delay float64
	switch p.Strategy {
	case BackoffLinear:
		delay = float64(p.InitialDelay) * float64(attempt)
	default:
		delay = float64(p.InitialDelay) * math.Pow(2, float64(attempt-1))
	}

	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// Retrier executes operations under a retry policy
type Retrier struct {
	policy RetryPolicy
	logger *logging.Logger
}

// NewRetrier creates a new retrier with the given policy
func NewRetrier(policy RetryPolicy) *Retrier {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 10 * time.Second
	}
	if policy.Strategy != BackoffLinear && policy.Strategy != BackoffExponential {
		policy.Strategy = BackoffExponential
	}
	if policy.RetryableErrors == nil {
		policy.RetryableErrors = errors.IsRetryable
	}

	return &Retrier{
		policy: policy,
		logger: logging.GetLogger(),
	}
}

// Policy returns a copy of the retrier's policy
func (r *Retrier) Policy() RetryPolicy {
	return r.policy
}

// Execute runs the operation up to MaxAttempts times, returning the number of
// attempts made and the final attempt's error unchanged. Non-retryable errors
// abort immediately without consuming remaining attempts. A context cancelled
// after a failed attempt surfaces that attempt's error; only a cancellation
// before any attempt produces a TIMEOUT error of its own, with zero attempts.
func (r *Retrier) Execute(ctx context.Context, operation func(context.Context) error) (int, error) {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return attempt - 1, lastErr
			}
			return 0, errors.NewTimeoutError("retry wait").WithCause(ctx.Err())
		}

		err := operation(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("Operation succeeded after retry",
					"attempt", attempt,
					"max_attempts", r.policy.MaxAttempts,
				)
			}
			return attempt, nil
		}

		lastErr = err

		if !r.policy.RetryableErrors(err) {
			r.logger.Debug("Error is not retryable, stopping",
				"error", err.Error(),
				"attempt", attempt,
			)
			return attempt, err
		}

		if attempt == r.policy.MaxAttempts {
			break
		}

		delay := r.policy.Delay(attempt)
		if r.policy.Jitter {
			delay = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
		}

		r.logger.Debug("Operation failed, retrying",
			"error", err.Error(),
			"attempt", attempt,
			"max_attempts", r.policy.MaxAttempts,
			"delay", delay.String(),
		)

		if r.policy.OnRetry != nil {
			r.policy.OnRetry(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			// The attempt already failed; its error, not the cancellation,
			// is what the caller acts on.
			return attempt, lastErr
		case <-time.After(delay):
		}
	}

	r.logger.Warn("Operation failed after all retry attempts",
		"error", lastErr.Error(),
		"attempts", r.policy.MaxAttempts,
	)

	return r.policy.MaxAttempts, lastErr
}

// ExecuteWithResult runs the operation with retry logic and returns a result
func (r *Retrier) ExecuteWithResult(ctx context.Context, operation func(context.Context) (interface{}, error)) (interface{}, int, error) {
	var result interface{}
	attempts, err := r.Execute(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = operation(ctx)
		return opErr
	})
	return result, attempts, err
}
