package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testPolicy(attempts int, slept *[]time.Duration) Policy {
	return Policy{
		MaxAttempts: attempts,
		Delay:       Linear(time.Second),
		sleep: func(_ context.Context, d time.Duration) error {
			*slept = append(*slept, d)
			return nil
		},
	}
}

func TestDoRetriesWithLinearDelay(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(3, &slept)

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("connection refused")
	})

	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	// attempt×base: 1s before the 2nd try, 2s before the 3rd.
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), slept)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Fatalf("sleep %d: expected %v got %v", i, want[i], slept[i])
		}
	}
}

func TestDoStopsOnSuccess(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(3, &slept)

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestDoPermanentErrorNotRetried(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(3, &slept)

	base := errors.New("malformed payload")
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return MarkPermanent(base)
	})

	if !errors.Is(err, base) {
		t.Fatalf("expected underlying error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("permanent error must not be retried, got %d attempts", calls)
	}
}

func TestDoRespectsRetryablePredicate(t *testing.T) {
	var slept []time.Duration
	p := testPolicy(3, &slept)
	p.Retryable = func(err error) bool { return false }

	calls := 0
	_ = p.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("nope")
	})
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	p := Policy{
		MaxAttempts: 3,
		Delay:       Linear(time.Second),
		sleep: func(ctx context.Context, _ time.Duration) error {
			return ctx.Err()
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := p.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls)
	}
}
