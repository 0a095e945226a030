package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoff_Delay(t *testing.T) {
	noJitter := Backoff{Base: time.Second, Max: 30 * time.Second, Jitter: 0.1, Rand: func() float64 { return 0 }}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{40, 30 * time.Second},
		{-1, time.Second},
	}
	for _, tt := range tests {
		if got := noJitter.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	maxJitter := noJitter
	maxJitter.Rand = func() float64 { return 0.999999 }
	got := maxJitter.Delay(2)
	if got < 4*time.Second || got >= 4*time.Second+400*time.Millisecond {
		t.Errorf("Delay(2) with jitter = %v, want in [4s, 4.4s)", got)
	}

	if got := (Backoff{Rand: func() float64 { return 0 }}).Delay(0); got != time.Second {
		t.Errorf("zero Backoff Delay(0) = %v, want defaults", got)
	}
}

func TestRetry(t *testing.T) {
	fast := Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond}

	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		var retries []int
		err := Retry(context.Background(), fast, 5, func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		}, func(attempt int, delay time.Duration, err error) {
			retries = append(retries, attempt)
		})
		if err != nil {
			t.Fatalf("Retry() error = %v", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
		if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
			t.Errorf("retries = %v, want [1 2]", retries)
		}
	})

	t.Run("returns last error", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), fast, 5, func(ctx context.Context) error {
			calls++
			return errors.New("attempt failed")
		}, nil)
		if err == nil || err.Error() != "attempt failed" {
			t.Fatalf("Retry() error = %v", err)
		}
		if calls != 5 {
			t.Errorf("calls = %d, want 5", calls)
		}
	})

	t.Run("permanent stops early", func(t *testing.T) {
		calls := 0
		sentinel := errors.New("bad input")
		err := Retry(context.Background(), fast, 5, func(ctx context.Context) error {
			calls++
			return Permanent(sentinel)
		}, nil)
		if !errors.Is(err, sentinel) {
			t.Fatalf("Retry() error = %v, want %v", err, sentinel)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})

	t.Run("stops on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := Backoff{Base: time.Hour, Max: time.Hour}
		calls := 0
		err := Retry(ctx, slow, 5, func(ctx context.Context) error {
			calls++
			cancel()
			return errors.New("fail")
		}, nil)
		if err == nil {
			t.Fatal("expected error")
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})
}
