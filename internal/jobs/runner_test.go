package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

type funcJob struct {
	id  string
	run func(ctx context.Context) error
}

func (j *funcJob) ID() string                        { return j.id }
func (j *funcJob) Type() string                      { return "test" }
func (j *funcJob) Execute(ctx context.Context) error { return j.run(ctx) }

func TestRunner(t *testing.T) {
	t.Run("runs and reports result", func(t *testing.T) {
		r := NewRunner(context.Background(), RunnerConfig{})
		want := errors.New("boom")
		handle, err := r.Submit(&funcJob{id: "job-1", run: func(ctx context.Context) error { return want }})
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		if err := r.Wait(context.Background(), handle); !errors.Is(err, want) {
			t.Errorf("Wait() error = %v, want %v", err, want)
		}
		if err := r.Cancel(handle); !errors.Is(err, ErrRunNotFound) {
			t.Errorf("Cancel() on finished run = %v, want ErrRunNotFound", err)
		}
	})

	t.Run("cancel stops run", func(t *testing.T) {
		r := NewRunner(context.Background(), RunnerConfig{})
		started := make(chan struct{})
		handle, _ := r.Submit(&funcJob{id: "job-2", run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}})
		<-started

		active := r.Active()
		if len(active) != 1 || active[0].JobID != "job-2" {
			t.Fatalf("Active() = %+v", active)
		}
		if err := r.Cancel(handle); err != nil {
			t.Fatalf("Cancel() error = %v", err)
		}
		if err := r.Wait(context.Background(), handle); !errors.Is(err, context.Canceled) {
			t.Errorf("Wait() error = %v, want context.Canceled", err)
		}
		if len(r.Active()) != 0 {
			t.Error("expected no active runs")
		}
	})

	t.Run("unknown handle", func(t *testing.T) {
		r := NewRunner(context.Background(), RunnerConfig{})
		if err := r.Cancel("run_missing"); !errors.Is(err, ErrRunNotFound) {
			t.Errorf("Cancel() = %v", err)
		}
	})

	t.Run("shutdown", func(t *testing.T) {
		r := NewRunner(context.Background(), RunnerConfig{})
		_, _ = r.Submit(&funcJob{id: "job-3", run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.Shutdown(ctx); err != nil {
			t.Fatalf("Shutdown() error = %v", err)
		}
		if _, err := r.Submit(&funcJob{id: "job-4", run: func(context.Context) error { return nil }}); !errors.Is(err, ErrRunnerClosed) {
			t.Errorf("Submit() after shutdown = %v", err)
		}
	})
}
