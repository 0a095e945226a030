package types

import "time"

// JobStatus is the pipeline state of a job.
type JobStatus string

const (
	JobPending     JobStatus = "PENDING"
	JobIngesting   JobStatus = "INGESTING"
	JobSplitting   JobStatus = "SPLITTING"
	JobClassifying JobStatus = "CLASSIFYING"
	JobFinalizing  JobStatus = "FINALIZING"
	JobCompleted   JobStatus = "COMPLETED"
	JobFailed      JobStatus = "FAILED"
	JobCancelled   JobStatus = "CANCELLED"
)

// AllJobStatuses lists every status in pipeline order.
var AllJobStatuses = []JobStatus{
	JobPending, JobIngesting, JobSplitting, JobClassifying,
	JobFinalizing, JobCompleted, JobFailed, JobCancelled,
}

// IsInProgress reports whether the job may still be cancelled.
func (s JobStatus) IsInProgress() bool {
	switch s {
	case JobPending, JobIngesting, JobSplitting, JobClassifying, JobFinalizing:
		return true
	}
	return false
}

// IsTerminal reports whether the job has stopped.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// CanRetry reports whether a retry may be requested.
func (s JobStatus) CanRetry() bool {
	return s == JobFailed || s == JobCancelled
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	for _, v := range AllJobStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Stage names a point a run may resume from. The zero value runs the whole
// pipeline.
type Stage string

const (
	StageAll         Stage = ""
	StageClassifying Stage = Stage(JobClassifying)
	StageFinalizing  Stage = Stage(JobFinalizing)
)

// ParseStage validates a resume stage. An empty string means a full run.
func ParseStage(s string) (Stage, error) {
	switch Stage(s) {
	case StageAll, StageClassifying, StageFinalizing:
		return Stage(s), nil
	}
	return StageAll, Validationf("Invalid retry stage %q (expected CLASSIFYING or FINALIZING)", s)
}

// Job is one processing run for a single uploaded source PDF.
type Job struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	LoanID          string    `json:"loan_id"`
	SourceFileKey   string    `json:"source_file_key"`
	SourceFileName  string    `json:"source_file_name"`
	SourceSizeBytes int64     `json:"source_size_bytes"`
	TotalPages      *int      `json:"total_pages,omitempty"`
	Status          JobStatus `json:"status"`
	RetryCount      int       `json:"retry_count"`

	// RunHandle identifies the background run so it can be cancelled.
	RunHandle *string `json:"run_handle,omitempty"`
	// ExternalFileHandle is the file registered with the split service.
	ExternalFileHandle *string `json:"external_file_handle,omitempty"`
	// ClassifyFileHandle is the file registered for classification.
	ClassifyFileHandle *string `json:"classify_file_handle,omitempty"`
	SplitJobHandle     *string `json:"split_job_handle,omitempty"`
	TaxonomySnapshotID *string `json:"taxonomy_snapshot_id,omitempty"`

	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// JobSummary aggregates segment state for display.
type JobSummary struct {
	TotalSegments       int            `json:"total_segments"`
	CompletedCount      int            `json:"completed_count"`
	RequiresReviewCount int            `json:"requires_review_count"`
	SegmentsByBucket    map[Bucket]int `json:"segments_by_bucket"`
}

// Summarize counts segments by status, review flag and bucket.
func Summarize(segments []*Segment) JobSummary {
	sum := JobSummary{
		TotalSegments:    len(segments),
		SegmentsByBucket: make(map[Bucket]int),
	}
	for _, s := range segments {
		if s.Status == SegmentCompleted {
			sum.CompletedCount++
		}
		if s.RequiresReview {
			sum.RequiresReviewCount++
		}
		b := s.Bucket
		if b == "" {
			b = BucketUnknown
		}
		sum.SegmentsByBucket[b]++
	}
	return sum
}

// JobWithSegments is a job and its segments ordered by index.
type JobWithSegments struct {
	*Job
	Segments []*Segment `json:"segments"`
	Summary  JobSummary `json:"summary"`
}

// JobListItem is a job with its segment count.
type JobListItem struct {
	*Job
	SegmentCount int `json:"segment_count"`
}

// DashboardStats summarizes a user's jobs.
type DashboardStats struct {
	JobsByStatus   map[JobStatus]int `json:"jobs_by_status"`
	RecentJobCount int               `json:"recent_job_count"`
	ReviewCount    int               `json:"review_count"`
	TotalPages     int               `json:"total_pages"`
	RecentActivity []JobListItem     `json:"recent_activity"`
}
