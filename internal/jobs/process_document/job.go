package process_document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackzampolin/docsplit/internal/jobs"
	"github.com/jackzampolin/docsplit/internal/store"
	"github.com/jackzampolin/docsplit/internal/types"
)

// Job drives one source document through ingest, split, classify and
// finalize, or through the later stages only when resumed.
//
// A Job is bound to one attempt of its job record. Every write it makes is
// fenced on that attempt, so a run that was cancelled or superseded by a
// retry stops writing as soon as it notices.
type Job struct {
	cfg     Config
	jobID   string
	attempt int
	from    types.Stage
	logger  *slog.Logger

	sourceMu   sync.Mutex
	sourceData []byte
}

// NewJob creates a run for attempt of jobID, where attempt is the job's
// retry count. from is StageAll for a full run.
func NewJob(cfg Config, jobID string, attempt int, from types.Stage) *Job {
	cfg.Tunables = cfg.Tunables.withDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("job_id", jobID, "job_type", JobType, "attempt", attempt)
	if from != types.StageAll {
		logger = logger.With("from", string(from))
	}
	return &Job{cfg: cfg, jobID: jobID, attempt: attempt, from: from, logger: logger}
}

func (j *Job) ID() string   { return j.jobID }
func (j *Job) Type() string { return JobType }

// Execute runs the stages in order. A stage error marks the job FAILED with
// the error message and is returned. A cancelled job is left CANCELLED.
func (j *Job) Execute(ctx context.Context) error {
	started := time.Now()
	j.logger.Info("processing started")

	if err := j.run(ctx); err != nil {
		return j.fail(ctx, err)
	}

	j.logger.Info("processing completed", "duration", time.Since(started).Round(time.Millisecond))
	return nil
}

func (j *Job) run(ctx context.Context) error {
	if j.from == types.StageAll {
		job, err := j.enter(ctx, types.JobIngesting)
		if err != nil {
			return err
		}
		if err := j.ingest(ctx, job); err != nil {
			return err
		}

		job, err = j.enter(ctx, types.JobSplitting)
		if err != nil {
			return err
		}
		if err := j.split(ctx, job); err != nil {
			return err
		}
	}

	if j.from != types.StageFinalizing {
		job, err := j.enter(ctx, types.JobClassifying)
		if err != nil {
			return err
		}
		if err := j.classify(ctx, job); err != nil {
			return err
		}
	}

	job, err := j.enter(ctx, types.JobFinalizing)
	if err != nil {
		return err
	}
	if err := j.finalize(ctx, job); err != nil {
		return err
	}

	_, err = j.enter(ctx, types.JobCompleted)
	return err
}

// enter moves the job to status and returns its current record. It refuses
// to move a job this run no longer owns.
func (j *Job) enter(ctx context.Context, status types.JobStatus) (*types.Job, error) {
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	job, err := j.cfg.Store.GetJob(ctx, j.jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	if err := j.cfg.Store.SetJobStatus(ctx, j.jobID, j.attempt, status); err != nil {
		if errors.Is(err, store.ErrStaleRun) {
			return nil, ErrCancelled
		}
		return nil, fmt.Errorf("failed to set status %s: %w", status, err)
	}
	job.Status = status
	j.logger.Debug("stage entered", "status", string(status))
	return job, nil
}

// fail records err on the job unless the run no longer owns it. Persistence
// errors are logged, never returned in place of err.
func (j *Job) fail(ctx context.Context, err error) error {
	if stale(err) {
		j.logger.Info("processing stopped, job cancelled or superseded", "error", err)
		return ErrCancelled
	}

	msg := err.Error()
	if ctx.Err() != nil {
		msg = fmt.Sprintf("Processing interrupted: %v", err)
	}
	ferr := j.cfg.Store.FailJob(context.WithoutCancel(ctx), j.jobID, j.attempt, msg)
	if errors.Is(ferr, store.ErrStaleRun) {
		j.logger.Info("processing stopped, job cancelled or superseded", "error", err)
		return ErrCancelled
	}
	if ferr != nil {
		j.logger.Error("failed to record job failure", "error", ferr)
	}
	j.logger.Error("processing failed", "error", err)
	return err
}

// source downloads the source PDF once per run.
func (j *Job) source(ctx context.Context, job *types.Job) ([]byte, error) {
	j.sourceMu.Lock()
	defer j.sourceMu.Unlock()
	if j.sourceData != nil {
		return j.sourceData, nil
	}
	data, err := j.cfg.Objects.Get(ctx, job.SourceFileKey)
	if err != nil {
		return nil, fmt.Errorf("S3 download failed for %q: %w", job.SourceFileKey, err)
	}
	j.sourceData = data
	return data, nil
}

func (j *Job) onRetry(logger *slog.Logger) jobs.RetryFunc {
	return func(attempt int, delay time.Duration, err error) {
		logger.Warn("attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", j.cfg.Attempts,
			"delay", delay.Round(time.Millisecond),
			"error", err)
	}
}

// stale reports whether err means this run lost the job.
func stale(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, store.ErrStaleRun)
}

func anyStale(results []jobs.Result[*types.Segment]) bool {
	for _, r := range results {
		if r.Err != nil && stale(r.Err) {
			return true
		}
	}
	return false
}

// persist wraps a run-owned write error so retries stop once the run no
// longer owns the job.
func persist(err error) error {
	if errors.Is(err, store.ErrStaleRun) {
		return jobs.Permanent(err)
	}
	return err
}

// checkCancelled returns an error if the context is cancelled.
func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
