package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTemporary = errors.New("temporary error")

func fastPolicy() Policy {
	return Policy{Initial: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2}
}

func TestPolicyDelay(t *testing.T) {
	policy := Policy{Initial: 100 * time.Millisecond, Max: time.Second, Factor: 2, Jitter: 0.5}

	tests := []struct {
		name        string
		attempt     int
		randomValue float64
		want        time.Duration
	}{
		{"first attempt", 1, 0, 100 * time.Millisecond},
		{"second attempt doubles", 2, 0, 200 * time.Millisecond},
		{"jitter adds up to half", 2, 1, 300 * time.Millisecond},
		{"capped at max", 10, 0, time.Second},
		{"attempt zero treated as first", 0, 0, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.delayWithRand(tt.attempt, tt.randomValue); got != tt.want {
				t.Errorf("delay = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetry(t *testing.T) {
	t.Run("succeeds first attempt", func(t *testing.T) {
		calls := 0
		got, err := Retry(context.Background(), fastPolicy(), 3, nil, func(context.Context, int) (string, error) {
			calls++
			return "ok", nil
		})
		if err != nil || got != "ok" || calls != 1 {
			t.Fatalf("got %q, %v after %d calls", got, err, calls)
		}
	})

	t.Run("succeeds after retries", func(t *testing.T) {
		got, err := Retry(context.Background(), fastPolicy(), 5, nil, func(_ context.Context, attempt int) (int, error) {
			if attempt < 3 {
				return 0, errTemporary
			}
			return attempt, nil
		})
		if err != nil || got != 3 {
			t.Fatalf("got %d, %v", got, err)
		}
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		permanent := errors.New("unauthorized")
		calls := 0
		_, err := Retry(context.Background(), fastPolicy(), 5,
			func(err error) bool { return errors.Is(err, errTemporary) },
			func(context.Context, int) (int, error) {
				calls++
				return 0, permanent
			})
		if !errors.Is(err, permanent) || calls != 1 {
			t.Fatalf("err = %v after %d calls", err, calls)
		}
		if errors.Is(err, ErrMaxAttemptsExhausted) {
			t.Fatal("non-retryable error should not report exhaustion")
		}
	})

	t.Run("exhaustion keeps the last error", func(t *testing.T) {
		calls := 0
		_, err := Retry(context.Background(), fastPolicy(), 3, nil, func(context.Context, int) (int, error) {
			calls++
			return 0, errTemporary
		})
		if calls != 3 {
			t.Fatalf("calls = %d, want 3", calls)
		}
		if !errors.Is(err, ErrMaxAttemptsExhausted) || !errors.Is(err, errTemporary) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("zero attempts runs once", func(t *testing.T) {
		calls := 0
		_, _ = Retry(context.Background(), fastPolicy(), 0, nil, func(context.Context, int) (int, error) {
			calls++
			return 0, errTemporary
		})
		if calls != 1 {
			t.Fatalf("calls = %d, want 1", calls)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Retry(ctx, fastPolicy(), 3, nil, func(context.Context, int) (int, error) {
			t.Fatal("fn must not run on a cancelled context")
			return 0, nil
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	})
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Fatalf("zero sleep: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Sleep(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("Sleep ignored cancellation")
	}
}
