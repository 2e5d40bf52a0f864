package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// ErrRetriesExhausted wraps the final error after all attempts failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Operation is the unit of work the orchestrator retries.
type Operation func(ctx context.Context) (any, error)

// Policy specifies how failures are retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the wait before the first retry; attempt n waits
	// BaseDelay * Multiplier^(n-1).
	BaseDelay  time.Duration
	Multiplier float64

	// MaxDelay caps the computed delay. Zero means uncapped.
	MaxDelay time.Duration

	// Jitter scales each delay by a random factor in [0.5, 1.5).
	Jitter bool

	// RetryIf decides whether an error is transient. Nil retries all
	// failures.
	RetryIf func(error) bool
}

// DefaultPolicy returns a policy with three attempts and exponential
// backoff from one second.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2.0,
		MaxDelay:    time.Minute,
	}
}

// Delay returns the backoff before retry number attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter {
		d = time.Duration(float64(d) * (0.5 + rand.Float64()))
	}
	return d
}

// retryable applies the policy predicate, defaulting to retry-all.
func (p Policy) retryable(err error) bool {
	if p.RetryIf == nil {
		return true
	}
	return p.RetryIf(err)
}

// Orchestrator executes operations under a retry policy, optionally
// guarded by a circuit breaker shared across calls.
type Orchestrator struct {
	policy  Policy
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// NewOrchestrator creates an orchestrator. breaker may be nil when no
// circuit breaking is wanted.
func NewOrchestrator(policy Policy, breaker *CircuitBreaker, logger *slog.Logger) *Orchestrator {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Orchestrator{
		policy:  policy,
		breaker: breaker,
		logger:  logger,
	}
}

// Policy returns the orchestrator's retry policy.
func (o *Orchestrator) Policy() Policy { return o.policy }

// Execute runs op, retrying transient failures per the policy. When the
// circuit is open the call is rejected immediately with ErrCircuitOpen.
// The final failure is wrapped in ErrRetriesExhausted once attempts run
// out.
func (o *Orchestrator) Execute(ctx context.Context, op Operation) (any, error) {
	var lastErr error

	for attempt := 1; attempt <= o.policy.MaxAttempts; attempt++ {
		if o.breaker != nil {
			if err := o.breaker.Allow(); err != nil {
				if lastErr != nil {
					return nil, fmt.Errorf("%w (after %d attempts: %w)", err, attempt-1, lastErr)
				}
				return nil, err
			}
		}

		result, err := op(ctx)
		if err == nil {
			if o.breaker != nil {
				o.breaker.RecordSuccess()
			}
			if attempt > 1 {
				o.logger.Info("operation succeeded after retry",
					"attempt", attempt,
					"max_attempts", o.policy.MaxAttempts)
			}
			return result, nil
		}

		if o.breaker != nil {
			o.breaker.RecordFailure()
		}
		lastErr = err

		if !o.policy.retryable(err) {
			return nil, err
		}
		if attempt == o.policy.MaxAttempts {
			break
		}

		delay := o.policy.Delay(attempt)
		o.logger.Warn("operation failed, retrying",
			"attempt", attempt,
			"max_attempts", o.policy.MaxAttempts,
			"retry_delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, o.policy.MaxAttempts, lastErr)
}
