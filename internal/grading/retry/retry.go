// Package retry runs a unit of work under an explicit retry policy.
package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"autograde/pkg/utils/logger"
)

// Decision is the classification of a failed attempt.
type Decision int

const (
	Fatal Decision = iota
	Retry
)

// Policy bounds how a unit of work is retried.
type Policy struct {
	Name        string
	MaxAttempts int
	Classify    func(error) Decision
	Backoff     func(attempt int) time.Duration
}

// Do runs fn until it succeeds, fails fatally or runs out of attempts.
// The last error is returned unchanged.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if p.Classify == nil || p.Classify(err) != Retry || attempt == attempts {
			return err
		}
		logger.Warn(ctx, "retrying after error",
			zap.String("policy", p.Name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
		if p.Backoff == nil {
			continue
		}
		if err := sleep(ctx, p.Backoff(attempt)); err != nil {
			return err
		}
	}
	return err
}

// Exponential doubles base per attempt up to max.
func Exponential(base, max time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if base <= 0 {
			return 0
		}
		delay := base
		for i := 1; i < attempt; i++ {
			if max > 0 && delay >= max/2 {
				return max
			}
			delay *= 2
		}
		if max > 0 && delay > max {
			return max
		}
		return delay
	}
}

type attemptKey struct{}

// WithFinalAttempt marks whether the caller will retry the task when this
// attempt fails.
func WithFinalAttempt(ctx context.Context, final bool) context.Context {
	return context.WithValue(ctx, attemptKey{}, final)
}

// FinalAttempt reports whether a failure in ctx is the last word on the
// task. Contexts without a marker are final.
func FinalAttempt(ctx context.Context) bool {
	final, ok := ctx.Value(attemptKey{}).(bool)
	return !ok || final
}

// Always classifies every error as retryable.
func Always(error) Decision { return Retry }

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
