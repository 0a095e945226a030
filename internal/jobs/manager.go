package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackzampolin/docsplit/internal/objectstore"
	"github.com/jackzampolin/docsplit/internal/store"
	"github.com/jackzampolin/docsplit/internal/types"
)

// MaxStatusBatch caps the ids accepted by StatusBatch.
const MaxStatusBatch = 50

// Launcher starts a background pipeline run for a job and returns its run
// handle. attempt is the job's retry count the run is bound to.
type Launcher interface {
	Launch(ctx context.Context, jobID string, attempt int, from types.Stage) (string, error)
}

// Canceller stops a background run by handle.
type Canceller interface {
	Cancel(handle string) error
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Store    store.Store
	Objects  objectstore.Store
	Launcher Launcher
	Runs     Canceller
	Logger   *slog.Logger
	Now      func() time.Time
}

// Manager handles job creation, retry, cancellation and queries for the
// request layer. It does not execute jobs; the Launcher does.
type Manager struct {
	store    store.Store
	objects  objectstore.Store
	launcher Launcher
	runs     Canceller
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager creates a new job manager.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store:    cfg.Store,
		objects:  cfg.Objects,
		launcher: cfg.Launcher,
		runs:     cfg.Runs,
		logger:   logger,
		now:      now,
	}
}

// CreateRequest describes an uploaded source file.
type CreateRequest struct {
	UserID        string `json:"-"`
	LoanID        string `json:"loan_id"`
	FileKey       string `json:"file_key"`
	FileName      string `json:"file_name"`
	FileSizeBytes int64  `json:"file_size_bytes"`
}

func (r CreateRequest) validate() error {
	var missing []string
	if strings.TrimSpace(r.LoanID) == "" {
		missing = append(missing, "loan_id")
	}
	if strings.TrimSpace(r.FileKey) == "" {
		missing = append(missing, "file_key")
	}
	if strings.TrimSpace(r.FileName) == "" {
		missing = append(missing, "file_name")
	}
	if len(missing) > 0 {
		return types.Validationf("Missing required fields: %s", strings.Join(missing, ", "))
	}
	if r.FileSizeBytes <= 0 {
		return types.Validationf("file_size_bytes must be positive")
	}
	return nil
}

// Create registers a job for an uploaded file and starts processing it. A
// second call for the same file key returns the existing job.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}

	existing, err := m.store.FindJobBySourceKey(ctx, req.FileKey)
	if err == nil {
		m.logger.Info("job already exists for source", "job_id", existing.ID, "key", req.FileKey)
		return existing.ID, nil
	}
	if !types.IsNotFound(err) {
		return "", fmt.Errorf("failed to look up job by source: %w", err)
	}

	ok, err := objectstore.Exists(ctx, m.objects, req.FileKey)
	if err != nil || !ok {
		if err != nil {
			m.logger.Warn("source head failed", "key", req.FileKey, "error", err)
		}
		return "", types.Validationf("Uploaded file not found in storage")
	}

	job := &types.Job{
		UserID:          req.UserID,
		LoanID:          req.LoanID,
		SourceFileKey:   req.FileKey,
		SourceFileName:  req.FileName,
		SourceSizeBytes: req.FileSizeBytes,
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		if errors.Is(err, store.ErrDuplicateSource) {
			if existing, ferr := m.store.FindJobBySourceKey(ctx, req.FileKey); ferr == nil {
				return existing.ID, nil
			}
		}
		return "", fmt.Errorf("failed to create job: %w", err)
	}
	m.logger.Info("job created", "job_id", job.ID, "loan_id", job.LoanID, "key", job.SourceFileKey)

	m.launch(ctx, job.ID, job.RetryCount, types.StageAll)
	return job.ID, nil
}

// launch triggers a run and records its handle. A failed trigger marks the
// job FAILED rather than returning an error to the caller.
func (m *Manager) launch(ctx context.Context, jobID string, attempt int, from types.Stage) {
	logger := m.logger.With("job_id", jobID, "attempt", attempt, "from", string(from))
	handle, err := m.launcher.Launch(ctx, jobID, attempt, from)
	if err == nil {
		err = m.store.SetJobHandle(ctx, jobID, store.HandleRun, handle)
	}
	if err == nil {
		return
	}
	logger.Error("failed to start processing", "error", err)
	if ferr := m.store.FailJob(ctx, jobID, attempt, "Failed to start processing"); ferr != nil {
		logger.Error("failed to record launch failure", "error", ferr)
	}
}

// Get returns a job with its segments and summary.
func (m *Manager) Get(ctx context.Context, userID, jobID string) (*types.JobWithSegments, error) {
	job, err := store.OwnedJob(ctx, m.store, userID, jobID)
	if err != nil {
		return nil, err
	}
	segments, err := m.store.ListSegments(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	return &types.JobWithSegments{Job: job, Segments: segments, Summary: types.Summarize(segments)}, nil
}

// List returns a user's jobs, newest first.
func (m *Manager) List(ctx context.Context, userID string) ([]types.JobListItem, error) {
	return m.store.ListJobs(ctx, userID)
}

// StatusBatch returns statuses for up to MaxStatusBatch of a user's jobs.
// Unknown ids and other users' jobs are left out.
func (m *Manager) StatusBatch(ctx context.Context, userID string, ids []string) (map[string]types.JobStatus, error) {
	if len(ids) == 0 || len(ids) > MaxStatusBatch {
		return nil, types.Validationf("Provide between 1 and %d job ids", MaxStatusBatch)
	}
	return m.store.JobStatuses(ctx, userID, ids)
}

// Dashboard returns a user's job statistics.
func (m *Manager) Dashboard(ctx context.Context, userID string) (*types.DashboardStats, error) {
	return m.store.Dashboard(ctx, userID, m.now())
}

// Retry restarts a failed or cancelled job from the beginning. Completed
// segments keep their results.
func (m *Manager) Retry(ctx context.Context, userID, jobID string) error {
	job, err := store.OwnedJob(ctx, m.store, userID, jobID)
	if err != nil {
		return err
	}
	if !job.Status.CanRetry() {
		return types.Validationf("Only failed or cancelled jobs can be retried")
	}
	if err := m.store.ResetJobForRetry(ctx, jobID, types.StageAll); err != nil {
		return fmt.Errorf("failed to reset job: %w", err)
	}
	m.logger.Info("job retry", "job_id", jobID, "retry_count", job.RetryCount+1)
	m.launch(ctx, jobID, job.RetryCount+1, types.StageAll)
	return nil
}

// RetryFrom restarts a failed or cancelled job at CLASSIFYING or
// FINALIZING. The job must already have segments.
func (m *Manager) RetryFrom(ctx context.Context, userID, jobID string, from types.Stage) error {
	if from != types.StageClassifying && from != types.StageFinalizing {
		return types.Validationf("Invalid retry stage %q (expected CLASSIFYING or FINALIZING)", from)
	}
	job, err := store.OwnedJob(ctx, m.store, userID, jobID)
	if err != nil {
		return err
	}
	if !job.Status.CanRetry() {
		return types.Validationf("Only failed or cancelled jobs can be retried")
	}
	n, err := m.store.CountSegments(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to count segments: %w", err)
	}
	if n == 0 {
		return types.Validationf("No segments found — use full retry instead (split must complete first)")
	}
	if err := m.store.ResetJobForRetry(ctx, jobID, from); err != nil {
		return fmt.Errorf("failed to reset job: %w", err)
	}
	m.logger.Info("job retry from stage", "job_id", jobID, "from", string(from), "segments", n)
	m.launch(ctx, jobID, job.RetryCount+1, from)
	return nil
}

// Cancel stops an in-progress job. Cancelling the background run is best
// effort; the job is marked CANCELLED either way.
func (m *Manager) Cancel(ctx context.Context, userID, jobID string) error {
	job, err := store.OwnedJob(ctx, m.store, userID, jobID)
	if err != nil {
		return err
	}
	if !job.Status.IsInProgress() {
		return types.Validationf("Only in-progress jobs can be cancelled")
	}
	// Status first, so the run sees CANCELLED when its context ends.
	if err := m.store.CancelJob(ctx, jobID); err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	if job.RunHandle != nil && m.runs != nil {
		if err := m.runs.Cancel(*job.RunHandle); err != nil {
			m.logger.Debug("run cancel ignored", "job_id", jobID, "run", *job.RunHandle, "error", err)
		}
	}
	m.logger.Info("job cancelled", "job_id", jobID)
	return nil
}
