package jobs

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Runner executes jobs in the background, one goroutine per run, and keeps a
// handle per run so callers can cancel it.
type Runner struct {
	mu     sync.Mutex
	runs   map[string]*run
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

type run struct {
	handle   string
	job      Job
	started  time.Time
	finished time.Time
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
}

// finishedRetention is how long a finished run stays visible to Wait.
const finishedRetention = 10 * time.Minute

// RunStatus describes an active run.
type RunStatus struct {
	Handle    string    `json:"handle"`
	JobID     string    `json:"job_id"`
	JobType   string    `json:"job_type"`
	StartedAt time.Time `json:"started_at"`
}

// RunnerConfig configures a new runner.
type RunnerConfig struct {
	Logger *slog.Logger
}

// NewRunner creates a runner. Runs inherit values from ctx and stop when it
// is cancelled or Shutdown is called.
func NewRunner(ctx context.Context, cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rctx, cancel := context.WithCancel(ctx)
	return &Runner{
		runs:   make(map[string]*run),
		ctx:    rctx,
		cancel: cancel,
		logger: logger,
	}
}

// Submit starts job in the background and returns its run handle.
func (r *Runner) Submit(job Job) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrRunnerClosed
	}

	r.pruneLocked(time.Now())
	ctx, cancel := context.WithCancel(r.ctx)
	rn := &run{
		handle:  "run_" + uuid.NewString(),
		job:     job,
		started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	r.runs[rn.handle] = rn
	r.wg.Add(1)

	r.logger.Info("run submitted", "run", rn.handle, "job_id", job.ID(), "type", job.Type())
	go r.execute(ctx, rn)
	return rn.handle, nil
}

func (r *Runner) execute(ctx context.Context, rn *run) {
	defer r.wg.Done()
	defer rn.cancel()

	err := rn.job.Execute(ctx)

	r.mu.Lock()
	rn.err = err
	rn.finished = time.Now()
	r.mu.Unlock()
	close(rn.done)

	logger := r.logger.With("run", rn.handle, "job_id", rn.job.ID(), "duration", time.Since(rn.started))
	if err != nil {
		logger.Warn("run failed", "error", err)
		return
	}
	logger.Info("run finished")
}

// Cancel stops a run. It returns ErrRunNotFound when the handle is unknown
// or the run has already finished.
func (r *Runner) Cancel(handle string) error {
	r.mu.Lock()
	rn, ok := r.runs[handle]
	active := ok && rn.finished.IsZero()
	r.mu.Unlock()
	if !active {
		return ErrRunNotFound
	}
	rn.cancel()
	r.logger.Info("run cancelled", "run", handle, "job_id", rn.job.ID())
	return nil
}

// Wait blocks until the run finishes and returns its error. Finished runs
// are forgotten after a while, after which Wait returns ErrRunNotFound.
func (r *Runner) Wait(ctx context.Context, handle string) error {
	r.mu.Lock()
	rn, ok := r.runs[handle]
	r.mu.Unlock()
	if !ok {
		return ErrRunNotFound
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-rn.done:
		return rn.err
	}
}

// Active returns the runs in progress, oldest first.
func (r *Runner) Active() []RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RunStatus, 0, len(r.runs))
	for _, rn := range r.runs {
		if !rn.finished.IsZero() {
			continue
		}
		out = append(out, RunStatus{
			Handle:    rn.handle,
			JobID:     rn.job.ID(),
			JobType:   rn.job.Type(),
			StartedAt: rn.started,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (r *Runner) pruneLocked(now time.Time) {
	for h, rn := range r.runs {
		if !rn.finished.IsZero() && now.Sub(rn.finished) > finishedRetention {
			delete(r.runs, h)
		}
	}
}

// Shutdown cancels every run and waits for them to return or ctx to end.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
