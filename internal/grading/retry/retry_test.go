package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func classifyTransient(err error) Decision {
	if errors.Is(err, errTransient) {
		return Retry
	}
	return Fatal
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 5, Classify: classifyTransient}
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnFatal(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	p := Policy{MaxAttempts: 5, Classify: classifyTransient}
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 3, Classify: Always}
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Policy{Classify: Always}.Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoNeverRetriesCancellation(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 3, Classify: Always}
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoStopsWhenContextDoneDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 3, Classify: Always, Backoff: func(int) time.Duration { return time.Hour }}
	err := p.Do(ctx, func(context.Context) error {
		cancel()
		return errTransient
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExponential(t *testing.T) {
	t.Parallel()

	backoff := Exponential(100*time.Millisecond, time.Second)
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: 100 * time.Millisecond},
		{attempt: 2, want: 200 * time.Millisecond},
		{attempt: 4, want: 800 * time.Millisecond},
		{attempt: 5, want: time.Second},
		{attempt: 20, want: time.Second},
	}
	for _, tt := range tests {
		if got := backoff(tt.attempt); got != tt.want {
			t.Fatalf("attempt %d: expected %v, got %v", tt.attempt, tt.want, got)
		}
	}
	if got := Exponential(0, time.Second)(3); got != 0 {
		t.Fatalf("expected 0 for zero base, got %v", got)
	}
}

func TestFinalAttempt(t *testing.T) {
	if !FinalAttempt(context.Background()) {
		t.Fatalf("expected unmarked context to be final")
	}
	if FinalAttempt(WithFinalAttempt(context.Background(), false)) {
		t.Fatalf("expected retried attempt not to be final")
	}
	if !FinalAttempt(WithFinalAttempt(context.Background(), true)) {
		t.Fatalf("expected last attempt to be final")
	}
}
