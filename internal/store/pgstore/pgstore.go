// Package pgstore implements store.Store on PostgreSQL with pgx.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jackzampolin/docsplit/internal/store"
	"github.com/jackzampolin/docsplit/internal/taxonomy"
	"github.com/jackzampolin/docsplit/internal/types"
)

const uniqueViolation = "23505"

// Store is a store.Store backed by a pgx pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// New wraps an open pool. The schema must already be migrated.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// Pool returns the underlying pool.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

const jobColumns = `j.id, j.user_id, j.loan_id, j.source_file_key, j.source_file_name,
	j.source_size_bytes, j.total_pages, j.status, j.retry_count, j.run_handle,
	j.external_file_handle, j.classify_file_handle, j.split_job_handle,
	j.taxonomy_snapshot_id, j.started_at, j.completed_at, j.error_message,
	j.created_at, j.updated_at`

const segmentColumns = `id, job_id, segment_index, page_start, page_end, bucket,
	bucket_confidence, bucket_confidence_tier, subtype, confidence, confidence_tier,
	reasoning, requires_review, folder, status, manually_classified, original_bucket,
	original_subtype, classified_by, classified_at, output_file_key, suggested_filename,
	classification_started_at, classification_completed_at, error_message,
	created_at, updated_at`

func scanJob(row pgx.Row, extra ...any) (*types.Job, error) {
	var j types.Job
	var status string
	dest := []any{
		&j.ID, &j.UserID, &j.LoanID, &j.SourceFileKey, &j.SourceFileName,
		&j.SourceSizeBytes, &j.TotalPages, &status, &j.RetryCount, &j.RunHandle,
		&j.ExternalFileHandle, &j.ClassifyFileHandle, &j.SplitJobHandle,
		&j.TaxonomySnapshotID, &j.StartedAt, &j.CompletedAt, &j.ErrorMessage,
		&j.CreatedAt, &j.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	j.Status = types.JobStatus(status)
	return &j, nil
}

func scanSegment(row pgx.Row) (*types.Segment, error) {
	var s types.Segment
	var bucket, status string
	var bucketTier, tier, originalBucket *string
	err := row.Scan(
		&s.ID, &s.JobID, &s.SegmentIndex, &s.PageStart, &s.PageEnd, &bucket,
		&s.BucketConfidence, &bucketTier, &s.Subtype, &s.Confidence, &tier,
		&s.Reasoning, &s.RequiresReview, &s.Folder, &status, &s.ManuallyClassified, &originalBucket,
		&s.OriginalSubtype, &s.ClassifiedBy, &s.ClassifiedAt, &s.OutputFileKey, &s.SuggestedFilename,
		&s.ClassificationStartedAt, &s.ClassificationCompletedAt, &s.ErrorMessage,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Bucket = types.Bucket(bucket)
	s.Status = types.SegmentStatus(status)
	if bucketTier != nil {
		t := types.ConfidenceTier(*bucketTier)
		s.BucketConfidenceTier = &t
	}
	if tier != nil {
		t := types.ConfidenceTier(*tier)
		s.ConfidenceTier = &t
	}
	if originalBucket != nil {
		b := types.Bucket(*originalBucket)
		s.OriginalBucket = &b
	}
	return &s, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation &&
		(constraint == "" || pgErr.ConstraintName == constraint)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// execOne runs a statement that must touch a row, mapping zero rows to
// notFound.
func execOne(ctx context.Context, db execer, notFound func() error, sql string, args ...any) error {
	tag, err := db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound()
	}
	return nil
}

// Row locks taken before a run-owned write. The job row is locked so the
// ownership check and the write commit before a concurrent cancel or retry.
const (
	lockJob        = `SELECT retry_count, status FROM jobs WHERE id = $1 FOR UPDATE`
	lockSegmentJob = `SELECT j.retry_count, j.status FROM segments s JOIN jobs j ON j.id = s.job_id
		WHERE s.id = $1 FOR SHARE OF j`
)

// inRun runs fn in a transaction once lock confirms the run at attempt still
// owns the job. id is the job or segment id lock selects by.
func (s *Store) inRun(ctx context.Context, lock, id string, attempt int, notFound func() error, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var retryCount int
		var status string
		err := tx.QueryRow(ctx, lock, id).Scan(&retryCount, &status)
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound()
		}
		if err != nil {
			return err
		}
		if retryCount != attempt || types.JobStatus(status).IsTerminal() {
			return store.ErrStaleRun
		}
		return fn(tx)
	})
}

// execInRun runs one run-owned statement under inRun.
func (s *Store) execInRun(ctx context.Context, lock, id string, attempt int, notFound func() error, sql string, args ...any) error {
	return s.inRun(ctx, lock, id, attempt, notFound, func(tx pgx.Tx) error {
		return execOne(ctx, tx, notFound, sql, args...)
	})
}

// --- Jobs ---

func (s *Store) CreateJob(ctx context.Context, job *types.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = types.JobPending
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, user_id, loan_id, source_file_key, source_file_name,
			source_size_bytes, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.UserID, job.LoanID, job.SourceFileKey, job.SourceFileName,
		job.SourceSizeBytes, string(job.Status), job.CreatedAt, job.UpdatedAt)
	if isUniqueViolation(err, "jobs_source_file_key_key") {
		return store.ErrDuplicateSource
	}
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*types.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs j WHERE j.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.JobNotFound()
	}
	return job, err
}

func (s *Store) FindJobBySourceKey(ctx context.Context, key string) (*types.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs j WHERE j.source_file_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.JobNotFound()
	}
	return job, err
}

func (s *Store) listJobs(ctx context.Context, query string, args ...any) ([]types.JobListItem, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.JobListItem
	for rows.Next() {
		var count int
		job, err := scanJob(rows, &count)
		if err != nil {
			return nil, err
		}
		out = append(out, types.JobListItem{Job: job, SegmentCount: count})
	}
	return out, rows.Err()
}

const segmentCount = `(SELECT count(*) FROM segments s WHERE s.job_id = j.id)`

func (s *Store) ListJobs(ctx context.Context, userID string) ([]types.JobListItem, error) {
	return s.listJobs(ctx, `
		SELECT `+jobColumns+`, `+segmentCount+`
		FROM jobs j WHERE j.user_id = $1
		ORDER BY j.created_at DESC`, userID)
}

func (s *Store) JobStatuses(ctx context.Context, userID string, ids []string) (map[string]types.JobStatus, error) {
	out := make(map[string]types.JobStatus, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT id, status FROM jobs WHERE user_id = $1 AND id = ANY($2)`, userID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, err
		}
		out[id] = types.JobStatus(status)
	}
	return out, rows.Err()
}

func (s *Store) Dashboard(ctx context.Context, userID string, now time.Time) (*types.DashboardStats, error) {
	stats := &types.DashboardStats{JobsByStatus: make(map[types.JobStatus]int)}

	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM jobs WHERE user_id = $1 GROUP BY status`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.JobsByStatus[types.JobStatus(status)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE j.created_at >= $2),
			COALESCE(sum(j.total_pages) FILTER (WHERE j.status = 'COMPLETED'), 0),
			(SELECT count(*) FROM segments s JOIN jobs sj ON sj.id = s.job_id
				WHERE sj.user_id = $1 AND s.requires_review)
		FROM jobs j WHERE j.user_id = $1`,
		userID, now.Add(-store.RecentWindow),
	).Scan(&stats.RecentJobCount, &stats.TotalPages, &stats.ReviewCount)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate jobs: %w", err)
	}

	recent, err := s.listJobs(ctx, `
		SELECT `+jobColumns+`, `+segmentCount+`
		FROM jobs j
		WHERE j.user_id = $1 AND j.status IN ('COMPLETED', 'FAILED')
		ORDER BY j.completed_at DESC NULLS LAST
		LIMIT $2`, userID, store.RecentActivityLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent jobs: %w", err)
	}
	stats.RecentActivity = recent
	if stats.RecentActivity == nil {
		stats.RecentActivity = []types.JobListItem{}
	}
	return stats, nil
}

func (s *Store) SetJobStatus(ctx context.Context, id string, attempt int, status types.JobStatus) error {
	return s.execInRun(ctx, lockJob, id, attempt, store.JobNotFound, `
		UPDATE jobs SET
			status = $2,
			started_at = CASE WHEN $2 = 'INGESTING' THEN now() ELSE started_at END,
			completed_at = CASE WHEN $2 IN ('COMPLETED', 'FAILED') THEN now() ELSE completed_at END,
			updated_at = now()
		WHERE id = $1`, id, string(status))
}

func (s *Store) FailJob(ctx context.Context, id string, attempt int, message string) error {
	return s.execInRun(ctx, lockJob, id, attempt, store.JobNotFound, `
		UPDATE jobs SET status = 'FAILED', error_message = $2, completed_at = now(), updated_at = now()
		WHERE id = $1`, id, message)
}

func (s *Store) CancelJob(ctx context.Context, id string) error {
	return execOne(ctx, s.pool, store.JobNotFound, `
		UPDATE jobs SET status = 'CANCELLED', completed_at = now(), updated_at = now()
		WHERE id = $1`, id)
}

func (s *Store) SetJobHandle(ctx context.Context, id string, kind store.HandleKind, value string) error {
	if !kind.Valid() {
		return types.Validationf("unknown job handle %q", kind)
	}
	// kind is one of a fixed set of column names.
	query := fmt.Sprintf(`UPDATE jobs SET %s = NULLIF($2, ''), updated_at = now() WHERE id = $1`, string(kind))
	return execOne(ctx, s.pool, store.JobNotFound, query, id, value)
}

func (s *Store) ResetJobForRetry(ctx context.Context, id string, from types.Stage) error {
	var segmentReset string
	switch from {
	case types.StageClassifying:
		segmentReset = `status = 'PENDING', subtype = NULL, confidence = NULL,
			confidence_tier = NULL, reasoning = NULL, requires_review = false, folder = NULL,
			output_file_key = NULL, suggested_filename = NULL`
	case types.StageFinalizing:
		segmentReset = `status = 'COMPLETED', output_file_key = NULL, suggested_filename = NULL`
	default:
		segmentReset = `status = 'PENDING'`
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := execOne(ctx, tx, store.JobNotFound, `
			UPDATE jobs SET
				status = 'PENDING',
				retry_count = retry_count + 1,
				error_message = NULL,
				completed_at = NULL,
				run_handle = NULL,
				started_at = CASE WHEN $2 THEN NULL ELSE started_at END,
				updated_at = now()
			WHERE id = $1`, id, from == types.StageAll)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE segments SET `+segmentReset+`, error_message = NULL, updated_at = now()
			WHERE job_id = $1 AND status <> 'COMPLETED'`, id)
		return err
	})
}

// --- Segments ---

func (s *Store) CreateSegments(ctx context.Context, jobID string, attempt int, segments []types.NewSegment, totalPages int) error {
	err := s.inRun(ctx, lockJob, jobID, attempt, store.JobNotFound, func(tx pgx.Tx) error {
		err := execOne(ctx, tx, store.JobNotFound, `
			UPDATE jobs SET total_pages = $2, updated_at = now() WHERE id = $1`,
			jobID, totalPages)
		if err != nil {
			return err
		}
		if len(segments) == 0 {
			return nil
		}

		now := time.Now().UTC()
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"segments"},
			[]string{"id", "job_id", "segment_index", "page_start", "page_end", "bucket",
				"bucket_confidence", "bucket_confidence_tier", "status", "created_at", "updated_at"},
			pgx.CopyFromSlice(len(segments), func(i int) ([]any, error) {
				n := segments[i]
				return []any{
					uuid.NewString(), jobID, n.SegmentIndex, n.PageStart, n.PageEnd, string(n.Bucket),
					n.BucketConfidence, string(n.BucketConfidenceTier), string(types.SegmentPending), now, now,
				}, nil
			}),
		)
		return err
	})
	if isUniqueViolation(err, "segments_job_id_segment_index_key") {
		return types.Validationf("segment index already exists for job")
	}
	if err != nil && !types.IsNotFound(err) && !errors.Is(err, store.ErrStaleRun) {
		return fmt.Errorf("failed to create segments: %w", err)
	}
	return err
}

func (s *Store) ListSegments(ctx context.Context, jobID string) ([]*types.Segment, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+segmentColumns+` FROM segments WHERE job_id = $1 ORDER BY segment_index`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

func (s *Store) GetSegment(ctx context.Context, id string) (*types.Segment, error) {
	seg, err := scanSegment(s.pool.QueryRow(ctx, `SELECT `+segmentColumns+` FROM segments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.SegmentNotFound()
	}
	return seg, err
}

func (s *Store) CountSegments(ctx context.Context, jobID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM segments WHERE job_id = $1`, jobID).Scan(&n)
	return n, err
}

func (s *Store) ResetInterruptedSegments(ctx context.Context, jobID string, attempt int) (int, error) {
	var n int
	err := s.inRun(ctx, lockJob, jobID, attempt, store.JobNotFound, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE segments SET status = 'PENDING', error_message = NULL, updated_at = now()
			WHERE job_id = $1 AND status IN ('CLASSIFYING', 'FAILED')`, jobID)
		if err != nil {
			return err
		}
		n = int(tag.RowsAffected())
		return nil
	})
	return n, err
}

func (s *Store) StartClassification(ctx context.Context, segmentID string, attempt int) error {
	return s.execInRun(ctx, lockSegmentJob, segmentID, attempt, store.SegmentNotFound, `
		UPDATE segments SET status = 'CLASSIFYING', classification_started_at = now(), updated_at = now()
		WHERE id = $1`, segmentID)
}

func (s *Store) CompleteClassification(ctx context.Context, segmentID string, attempt int, c types.Classification) error {
	return s.execInRun(ctx, lockSegmentJob, segmentID, attempt, store.SegmentNotFound, `
		UPDATE segments SET
			subtype = $2, confidence = $3, confidence_tier = $4, reasoning = NULLIF($5, ''),
			requires_review = $6, folder = $7, status = 'COMPLETED', error_message = NULL,
			classification_completed_at = now(), updated_at = now()
		WHERE id = $1`,
		segmentID, c.Subtype, c.Confidence, string(c.Tier), c.Reasoning, c.RequiresReview, c.Folder,
	)
}

func (s *Store) FailClassification(ctx context.Context, segmentID string, attempt int, message string) error {
	return s.execInRun(ctx, lockSegmentJob, segmentID, attempt, store.SegmentNotFound, `
		UPDATE segments SET status = 'FAILED', error_message = $2,
			classification_completed_at = now(), updated_at = now()
		WHERE id = $1`, segmentID, message)
}

func (s *Store) SetSegmentOutput(ctx context.Context, segmentID string, attempt int, key, filename string) error {
	return s.execInRun(ctx, lockSegmentJob, segmentID, attempt, store.SegmentNotFound, `
		UPDATE segments SET output_file_key = $2, suggested_filename = $3, updated_at = now()
		WHERE id = $1`, segmentID, key, filename)
}

// ApplyMerge runs the merge in one transaction. The unique index on
// (job_id, segment_index) is checked per row, so renumbering first moves
// every index negative and then assigns 1..n by page_start.
func (s *Store) ApplyMerge(ctx context.Context, plan types.MergePlan) error {
	ids := append([]string{plan.KeeperID}, plan.DeleteIDs...)
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var locked int
		err := tx.QueryRow(ctx, `
			SELECT count(*) FROM (
				SELECT id FROM segments WHERE job_id = $1 AND id = ANY($2) FOR UPDATE
			) l`, plan.JobID, ids).Scan(&locked)
		if err != nil {
			return err
		}
		if locked != len(ids) {
			return store.SegmentNotFound()
		}

		if _, err := tx.Exec(ctx, `
			UPDATE segments SET page_end = $2, output_file_key = $3, suggested_filename = $4, updated_at = now()
			WHERE id = $1`,
			plan.KeeperID, plan.PageEnd, plan.OutputFileKey, plan.SuggestedFilename); err != nil {
			return fmt.Errorf("update keeper: %w", err)
		}
		if len(plan.DeleteIDs) > 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM segments WHERE job_id = $1 AND id = ANY($2)`,
				plan.JobID, plan.DeleteIDs); err != nil {
				return fmt.Errorf("delete merged segments: %w", err)
			}
		}

		if _, err := tx.Exec(ctx, `UPDATE segments SET segment_index = -segment_index WHERE job_id = $1`, plan.JobID); err != nil {
			return fmt.Errorf("reindex: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE segments s SET
				segment_index = r.rn,
				updated_at = CASE WHEN -s.segment_index <> r.rn THEN now() ELSE s.updated_at END
			FROM (
				SELECT id, ROW_NUMBER() OVER (ORDER BY page_start) AS rn
				FROM segments WHERE job_id = $1
			) r
			WHERE s.id = r.id`, plan.JobID); err != nil {
			return fmt.Errorf("reindex: %w", err)
		}
		return nil
	})
}

func (s *Store) ApplyCorrection(ctx context.Context, segmentID string, c types.Correction) (*types.Segment, error) {
	seg, err := scanSegment(s.pool.QueryRow(ctx, `
		UPDATE segments SET
			original_bucket = CASE WHEN manually_classified THEN original_bucket ELSE bucket END,
			original_subtype = CASE WHEN manually_classified THEN original_subtype ELSE subtype END,
			bucket = $2,
			subtype = $3,
			folder = $4,
			confidence_tier = 'HIGH',
			requires_review = false,
			manually_classified = true,
			classified_by = $5,
			classified_at = now(),
			updated_at = now()
		WHERE id = $1
		RETURNING `+segmentColumns,
		segmentID, string(c.Bucket), c.Subtype, c.Folder, c.UserID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.SegmentNotFound()
	}
	return seg, err
}

// --- Taxonomy snapshots ---

func (s *Store) SaveTaxonomySnapshot(ctx context.Context, snap *taxonomy.Snapshot) error {
	data, err := snap.MarshalCategories()
	if err != nil {
		return fmt.Errorf("failed to encode taxonomy: %w", err)
	}
	createdAt := snap.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO taxonomy_snapshots (id, source, data, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`, snap.ID, snap.Source, data, createdAt)
	return err
}

func (s *Store) GetTaxonomySnapshot(ctx context.Context, id string) (*taxonomy.Snapshot, error) {
	var source string
	var data []byte
	var createdAt time.Time
	err := s.pool.QueryRow(ctx, `SELECT source, data, created_at FROM taxonomy_snapshots WHERE id = $1`, id).
		Scan(&source, &data, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.SnapshotNotFound()
	}
	if err != nil {
		return nil, err
	}
	return taxonomy.FromStored(id, source, data, createdAt)
}
