package providers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMockService(t *testing.T) {
	ctx := context.Background()

	t.Run("register and split", func(t *testing.T) {
		m := NewMockService()
		m.SplitSegments = []SplitSegment{{Category: "income", Pages: []int{1, 2}, ConfidenceCategory: "high"}}

		handle, err := m.RegisterFile(ctx, "loan.pdf", []byte("pdf"), PurposeSplit)
		if err != nil {
			t.Fatalf("RegisterFile() error = %v", err)
		}
		jobID, err := m.CreateSplitJob(ctx, handle, nil)
		if err != nil {
			t.Fatalf("CreateSplitJob() error = %v", err)
		}
		job, err := m.GetSplitJob(ctx, jobID)
		if err != nil {
			t.Fatalf("GetSplitJob() error = %v", err)
		}
		if !job.Done() || len(job.Segments) != 1 {
			t.Errorf("job = %+v, want completed with 1 segment", job)
		}
		if got := m.Registered(); len(got) != 1 || got[0].Purpose != PurposeSplit || got[0].Size != 3 {
			t.Errorf("Registered() = %+v", got)
		}
	})

	t.Run("pending polls", func(t *testing.T) {
		m := NewMockService()
		m.PendingPolls = 2
		for i := 0; i < 2; i++ {
			job, _ := m.GetSplitJob(ctx, "split-1")
			if job.Done() {
				t.Fatalf("poll %d: expected processing", i)
			}
		}
		job, _ := m.GetSplitJob(ctx, "split-1")
		if job.Status != SplitStatusCompleted {
			t.Errorf("status = %q, want completed", job.Status)
		}
	})

	t.Run("default classify picks first rule", func(t *testing.T) {
		m := NewMockService()
		res, err := m.Classify(ctx, &ClassifyRequest{Rules: []ClassifyRule{{Type: "w2"}, {Type: "paystub"}}})
		if err != nil {
			t.Fatalf("Classify() error = %v", err)
		}
		if res.Type == nil || *res.Type != "w2" || res.Confidence != 0.9 {
			t.Errorf("result = %+v", res)
		}
		if m.ClassifyCount() != 1 {
			t.Errorf("ClassifyCount() = %d, want 1", m.ClassifyCount())
		}
	})

	t.Run("register failure", func(t *testing.T) {
		m := NewMockService()
		m.RegisterErr = errors.New("boom")
		if _, err := m.RegisterFile(ctx, "x.pdf", nil, PurposeClassify); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestWaitForSplit(t *testing.T) {
	ctx := context.Background()
	fast := PollConfig{Interval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Timeout: time.Second}

	t.Run("completes after polling", func(t *testing.T) {
		m := NewMockService()
		m.PendingPolls = 3
		job, err := WaitForSplit(ctx, m, "split-1", fast)
		if err != nil {
			t.Fatalf("WaitForSplit() error = %v", err)
		}
		if job.Status != SplitStatusCompleted {
			t.Errorf("status = %q", job.Status)
		}
	})

	t.Run("failed status is terminal", func(t *testing.T) {
		m := NewMockService()
		m.SplitStatus = SplitStatusFailed
		job, err := WaitForSplit(ctx, m, "split-1", fast)
		if err != nil {
			t.Fatalf("WaitForSplit() error = %v", err)
		}
		if job.Status != SplitStatusFailed {
			t.Errorf("status = %q", job.Status)
		}
	})

	t.Run("times out", func(t *testing.T) {
		m := NewMockService()
		m.PendingPolls = 1 << 20
		_, err := WaitForSplit(ctx, m, "split-1", PollConfig{Interval: 5 * time.Millisecond, MaxInterval: 5 * time.Millisecond, Timeout: 20 * time.Millisecond})
		if err == nil || !strings.Contains(err.Error(), "did not finish") {
			t.Fatalf("expected timeout error, got %v", err)
		}
	})

	t.Run("respects cancellation", func(t *testing.T) {
		m := NewMockService()
		m.PendingPolls = 1 << 20
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := WaitForSplit(cctx, m, "split-1", PollConfig{Interval: time.Second, Timeout: time.Minute})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}

func TestRateLimiter(t *testing.T) {
	t.Run("allows initial burst", func(t *testing.T) {
		limiter := NewRateLimiter(600)
		start := time.Now()
		for i := 0; i < 5; i++ {
			if err := limiter.Wait(context.Background()); err != nil {
				t.Fatalf("request %d failed: %v", i, err)
			}
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("took too long: %v", elapsed)
		}
	})

	t.Run("status", func(t *testing.T) {
		limiter := NewRateLimiter(60)
		status := limiter.Status()
		if status.TokensLimit != 60 {
			t.Errorf("TokensLimit = %d, want 60", status.TokensLimit)
		}
		if status.TokensAvailable <= 0 {
			t.Error("expected positive tokens available")
		}
	})

	t.Run("429 pauses until retry-after", func(t *testing.T) {
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		limiter := NewRateLimiter(60)
		limiter.now = func() time.Time { return now }
		limiter.lastUpdate = now

		limiter.Record429(2 * time.Second)
		if limiter.TryConsume() {
			t.Fatal("TryConsume should fail while paused")
		}
		if limiter.Status().Last429Time.IsZero() {
			t.Error("Last429Time should be set")
		}

		now = now.Add(3 * time.Second)
		if !limiter.TryConsume() {
			t.Error("TryConsume should succeed after the pause and refill")
		}
	})

	t.Run("respects cancellation", func(t *testing.T) {
		limiter := NewRateLimiter(1)
		_ = limiter.Wait(context.Background())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := limiter.Wait(ctx); err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("concurrent requests", func(t *testing.T) {
		limiter := NewRateLimiter(6000)
		var wg sync.WaitGroup
		var failures atomic.Int32
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := limiter.Wait(context.Background()); err != nil {
					failures.Add(1)
				}
			}()
		}
		wg.Wait()

		if failures.Load() > 0 {
			t.Errorf("had %d errors", failures.Load())
		}
		if got := limiter.Status().TotalConsumed; got != 10 {
			t.Errorf("TotalConsumed = %d, want 10", got)
		}
	})
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{" 1.5 ", 1500 * time.Millisecond},
		{"-1", 0},
		{"Wed, 21 Oct 2015 07:28:00 GMT", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
