// Package retry implements exponential backoff with a bounded failure budget.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// ErrStopped is returned when a wait is interrupted by the stop channel.
var ErrStopped = errors.New("retry stopped")

// Policy defines how many failures are tolerated and how long to wait between attempts.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool
	// Retryable decides whether an error consumes budget or ends the loop; nil retries everything.
	Retryable func(error) bool
}

// DefaultPolicy mirrors the shipped pipeline defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	return p
}

// Delay returns the wait before retry number attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	// ±25%
	if p.Jitter {
		jitter := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitter
	}

	return time.Duration(delay)
}

// Wait sleeps for d unless ctx ends or stop closes first.
func Wait(ctx context.Context, stop <-chan struct{}, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return ErrStopped
	case <-timer.C:
		return nil
	}
}

// Budget counts failures for one unit of work (an entity) across all of its calls.
type Budget struct {
	policy   Policy
	failures int
}

// NewBudget starts an empty budget under policy.
func NewBudget(policy Policy) *Budget {
	return &Budget{policy: policy.normalized()}
}

// Fail records err and reports whether another attempt is allowed and how long to wait first.
func (b *Budget) Fail(err error) (time.Duration, bool) {
	if b.policy.Retryable != nil && !b.policy.Retryable(err) {
		return 0, false
	}
	b.failures++
	if b.failures > b.policy.MaxRetries {
		return 0, false
	}
	return b.policy.Delay(b.failures), true
}

// Failures returns the number of recorded retryable failures.
func (b *Budget) Failures() int {
	return b.failures
}

// Do runs fn until it succeeds, returns a non-retryable error, or the budget is spent.
func Do(ctx context.Context, policy Policy, logger *slog.Logger, fn func(attempt int) error) error {
	budget := NewBudget(policy)
	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			if attempt > 1 && logger != nil {
				logger.Info("retry succeeded", "attempt", attempt)
			}
			return nil
		}

		delay, ok := budget.Fail(err)
		if !ok {
			if logger != nil {
				logger.Warn("giving up", "attempts", attempt, "error", err)
			}
			return fmt.Errorf("after %d attempts: %w", attempt, err)
		}

		if logger != nil {
			logger.Debug("retrying", "attempt", attempt, "delay", delay, "error", err)
		}
		if werr := Wait(ctx, nil, delay); werr != nil {
			return fmt.Errorf("retry cancelled: %w", werr)
		}
	}
}
