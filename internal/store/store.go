// Package store persists jobs, segments and taxonomy snapshots.
//
// Every multi-row write that must be atomic (segment creation with the job's
// page count, merges, retry resets) is a single Store method so each backend
// can run it in one transaction.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackzampolin/docsplit/internal/taxonomy"
	"github.com/jackzampolin/docsplit/internal/types"
)

// ErrDuplicateSource is returned when a job already exists for a source key.
var ErrDuplicateSource = errors.New("job already exists for source file")

// ErrStaleRun is returned by run-owned writes once the run no longer owns the
// job: it was cancelled, finished, or retried under a newer attempt.
var ErrStaleRun = errors.New("run no longer owns job")

// HandleKind names a nullable reference column on a job.
type HandleKind string

const (
	HandleRun              HandleKind = "run_handle"
	HandleExternalFile     HandleKind = "external_file_handle"
	HandleClassifyFile     HandleKind = "classify_file_handle"
	HandleSplitJob         HandleKind = "split_job_handle"
	HandleTaxonomySnapshot HandleKind = "taxonomy_snapshot_id"
)

// Valid reports whether k is a known handle column.
func (k HandleKind) Valid() bool {
	switch k {
	case HandleRun, HandleExternalFile, HandleClassifyFile, HandleSplitJob, HandleTaxonomySnapshot:
		return true
	}
	return false
}

// RecentWindow is how far back the dashboard counts newly created jobs.
const RecentWindow = 7 * 24 * time.Hour

// RecentActivityLimit caps the dashboard's finished-jobs list.
const RecentActivityLimit = 10

// Store is the persistence contract used by the pipeline and request layer.
//
// Methods taking an attempt are written on behalf of a pipeline run. They
// only apply while the job's retry_count equals attempt and its status is not
// terminal, and return ErrStaleRun otherwise. The check and the write are
// atomic with respect to CancelJob and ResetJobForRetry.
type Store interface {
	JobStore
	SegmentStore
	TaxonomyStore
}

// JobStore persists jobs.
type JobStore interface {
	// CreateJob inserts a PENDING job, assigning ID and timestamps when unset.
	CreateJob(ctx context.Context, job *types.Job) error
	GetJob(ctx context.Context, id string) (*types.Job, error)
	FindJobBySourceKey(ctx context.Context, key string) (*types.Job, error)
	// ListJobs returns a user's jobs, newest first.
	ListJobs(ctx context.Context, userID string) ([]types.JobListItem, error)
	// JobStatuses returns statuses for the given ids that belong to the user.
	JobStatuses(ctx context.Context, userID string, ids []string) (map[string]types.JobStatus, error)
	Dashboard(ctx context.Context, userID string, now time.Time) (*types.DashboardStats, error)

	// SetJobStatus moves a job to status. INGESTING stamps started_at;
	// COMPLETED and FAILED stamp completed_at.
	SetJobStatus(ctx context.Context, id string, attempt int, status types.JobStatus) error
	// FailJob sets FAILED with message and completed_at.
	FailJob(ctx context.Context, id string, attempt int, message string) error
	// CancelJob sets CANCELLED with completed_at.
	CancelJob(ctx context.Context, id string) error
	// SetJobHandle writes a handle column. An empty value clears it.
	SetJobHandle(ctx context.Context, id string, kind HandleKind, value string) error
	// ResetJobForRetry returns a job to PENDING, bumps retry_count, clears
	// error, completion and run handle, and resets segments for the stage the
	// retry will start from.
	ResetJobForRetry(ctx context.Context, id string, from types.Stage) error
}

// SegmentStore persists segments.
type SegmentStore interface {
	// CreateSegments inserts segments and sets the job's total_pages in one
	// transaction.
	CreateSegments(ctx context.Context, jobID string, attempt int, segments []types.NewSegment, totalPages int) error
	// ListSegments returns a job's segments ordered by segment_index.
	ListSegments(ctx context.Context, jobID string) ([]*types.Segment, error)
	GetSegment(ctx context.Context, id string) (*types.Segment, error)
	CountSegments(ctx context.Context, jobID string) (int, error)

	// ResetInterruptedSegments moves CLASSIFYING and FAILED segments back to
	// PENDING and clears their error.
	ResetInterruptedSegments(ctx context.Context, jobID string, attempt int) (int, error)
	// StartClassification marks a segment CLASSIFYING.
	StartClassification(ctx context.Context, segmentID string, attempt int) error
	// CompleteClassification writes a result and marks the segment COMPLETED.
	CompleteClassification(ctx context.Context, segmentID string, attempt int, c types.Classification) error
	// FailClassification marks a segment FAILED with message.
	FailClassification(ctx context.Context, segmentID string, attempt int, message string) error
	// SetSegmentOutput records the uploaded segment PDF.
	SetSegmentOutput(ctx context.Context, segmentID string, attempt int, key, filename string) error
	// ApplyMerge updates the keeper, deletes absorbed segments and renumbers
	// the job's segments by page_start, atomically.
	ApplyMerge(ctx context.Context, plan types.MergePlan) error
	// ApplyCorrection writes a manual classification.
	ApplyCorrection(ctx context.Context, segmentID string, c types.Correction) (*types.Segment, error)
}

// TaxonomyStore persists immutable taxonomy snapshots.
type TaxonomyStore interface {
	// SaveTaxonomySnapshot stores a snapshot; saving an existing ID is a no-op.
	SaveTaxonomySnapshot(ctx context.Context, snap *taxonomy.Snapshot) error
	GetTaxonomySnapshot(ctx context.Context, id string) (*taxonomy.Snapshot, error)
}

// JobNotFound is the error returned for a missing job.
func JobNotFound() error { return types.NotFound("Job") }

// SegmentNotFound is the error returned for a missing segment.
func SegmentNotFound() error { return types.NotFound("Segment") }

// SnapshotNotFound is the error returned for a missing taxonomy snapshot.
func SnapshotNotFound() error { return types.NotFound("Taxonomy snapshot") }

// OwnedJob loads a job and hides it from anyone but its owner. An empty
// userID skips the ownership check.
func OwnedJob(ctx context.Context, s JobStore, userID, jobID string) (*types.Job, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if userID != "" && job.UserID != userID {
		return nil, JobNotFound()
	}
	return job, nil
}
