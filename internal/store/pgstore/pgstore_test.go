package pgstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackzampolin/docsplit/internal/postgres"
	"github.com/jackzampolin/docsplit/internal/store"
	"github.com/jackzampolin/docsplit/internal/taxonomy"
	"github.com/jackzampolin/docsplit/internal/testutil"
	"github.com/jackzampolin/docsplit/internal/types"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	dsn := testutil.StartPostgres(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	pool, err := postgres.Open(ctx, postgres.Config{DSN: dsn, Logger: logger})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(pool.Close)
	if err := postgres.Migrate(ctx, pool, logger); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	// A second run must be a no-op.
	if err := postgres.Migrate(ctx, pool, logger); err != nil {
		t.Fatalf("Migrate() again error = %v", err)
	}
	return New(pool, logger)
}

func newJob(t *testing.T, s *Store, key string) *types.Job {
	t.Helper()
	job := &types.Job{UserID: "u1", LoanID: "L1", SourceFileKey: key, SourceFileName: "file.pdf", SourceSizeBytes: 10}
	if err := s.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	return job
}

func seed(t *testing.T, s *Store, jobID string, ranges ...[2]int) []*types.Segment {
	t.Helper()
	ctx := context.Background()
	var rows []types.NewSegment
	for i, r := range ranges {
		rows = append(rows, types.NewSegment{
			SegmentIndex: i + 1, PageStart: r[0], PageEnd: r[1],
			Bucket: types.BucketAssets, BucketConfidence: 0.95, BucketConfidenceTier: types.TierHigh,
		})
	}
	if err := s.CreateSegments(ctx, jobID, 0, rows, ranges[len(ranges)-1][1]); err != nil {
		t.Fatalf("CreateSegments() error = %v", err)
	}
	segs, err := s.ListSegments(ctx, jobID)
	if err != nil {
		t.Fatalf("ListSegments() error = %v", err)
	}
	return segs
}

func TestStore(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	t.Run("job lifecycle", func(t *testing.T) {
		job := newJob(t, s, "uploads/L1/1_a.pdf")
		if err := s.CreateJob(ctx, &types.Job{UserID: "u1", SourceFileKey: job.SourceFileKey}); !errors.Is(err, store.ErrDuplicateSource) {
			t.Errorf("duplicate CreateJob() error = %v", err)
		}
		if _, err := s.GetJob(ctx, "missing"); !types.IsNotFound(err) {
			t.Errorf("GetJob(missing) error = %v", err)
		}

		if err := s.SetJobStatus(ctx, job.ID, 0, types.JobIngesting); err != nil {
			t.Fatalf("SetJobStatus() error = %v", err)
		}
		if err := s.SetJobHandle(ctx, job.ID, store.HandleExternalFile, "file-1"); err != nil {
			t.Fatalf("SetJobHandle() error = %v", err)
		}
		got, _ := s.GetJob(ctx, job.ID)
		if got.StartedAt == nil || got.ExternalFileHandle == nil || *got.ExternalFileHandle != "file-1" {
			t.Errorf("job = %+v", got)
		}
		if err := s.SetJobHandle(ctx, job.ID, store.HandleExternalFile, ""); err != nil {
			t.Fatalf("SetJobHandle(clear) error = %v", err)
		}
		if err := s.SetJobHandle(ctx, job.ID, store.HandleKind("status"), "x"); !types.IsValidation(err) {
			t.Errorf("SetJobHandle(bad kind) error = %v", err)
		}

		if err := s.FailJob(ctx, job.ID, 0, "boom"); err != nil {
			t.Fatalf("FailJob() error = %v", err)
		}
		got, _ = s.GetJob(ctx, job.ID)
		if got.Status != types.JobFailed || *got.ErrorMessage != "boom" || got.CompletedAt == nil || got.ExternalFileHandle != nil {
			t.Errorf("failed job = %+v", got)
		}

		if err := s.ResetJobForRetry(ctx, job.ID, types.StageAll); err != nil {
			t.Fatalf("ResetJobForRetry() error = %v", err)
		}
		got, _ = s.GetJob(ctx, job.ID)
		if got.Status != types.JobPending || got.RetryCount != 1 || got.ErrorMessage != nil || got.StartedAt != nil {
			t.Errorf("reset job = %+v", got)
		}

		statuses, err := s.JobStatuses(ctx, "u1", []string{job.ID, "missing"})
		if err != nil || len(statuses) != 1 || statuses[job.ID] != types.JobPending {
			t.Errorf("JobStatuses() = %v, %v", statuses, err)
		}
	})

	t.Run("classification", func(t *testing.T) {
		job := newJob(t, s, "uploads/L1/2_b.pdf")
		segs := seed(t, s, job.ID, [2]int{1, 2}, [2]int{3, 4})
		if err := s.CreateSegments(ctx, job.ID, 0, []types.NewSegment{{SegmentIndex: 1, PageStart: 9, PageEnd: 9}}, 9); !types.IsValidation(err) {
			t.Errorf("duplicate index error = %v", err)
		}

		subtype, folder := "bank_statement_personal", "Assets: Bank Statements"
		_ = s.StartClassification(ctx, segs[0].ID, 0)
		if err := s.CompleteClassification(ctx, segs[0].ID, 0, types.Classification{
			Subtype: &subtype, Confidence: 0.9, Tier: types.TierHigh, Reasoning: "r", Folder: &folder,
		}); err != nil {
			t.Fatalf("CompleteClassification() error = %v", err)
		}
		_ = s.StartClassification(ctx, segs[1].ID, 0)
		if err := s.FailClassification(ctx, segs[1].ID, 0, "timeout"); err != nil {
			t.Fatalf("FailClassification() error = %v", err)
		}

		n, err := s.ResetInterruptedSegments(ctx, job.ID, 0)
		if err != nil || n != 1 {
			t.Errorf("ResetInterruptedSegments() = %d, %v", n, err)
		}
		got, _ := s.GetSegment(ctx, segs[0].ID)
		if got.Status != types.SegmentCompleted || *got.ConfidenceTier != types.TierHigh || *got.Folder != folder {
			t.Errorf("classified segment = %+v", got)
		}

		corrected, err := s.ApplyCorrection(ctx, segs[0].ID, types.Correction{Bucket: types.BucketIncome, Subtype: "w2", UserID: "u1"})
		if err != nil {
			t.Fatalf("ApplyCorrection() error = %v", err)
		}
		if !corrected.ManuallyClassified || *corrected.OriginalBucket != types.BucketAssets || *corrected.OriginalSubtype != subtype {
			t.Errorf("corrected = %+v", corrected)
		}
		corrected, _ = s.ApplyCorrection(ctx, segs[0].ID, types.Correction{Bucket: types.BucketIncome, Subtype: "paystub", UserID: "u1"})
		if *corrected.OriginalSubtype != subtype || *corrected.Subtype != "paystub" {
			t.Errorf("second correction replaced originals: %+v", corrected)
		}
		if _, err := s.ApplyCorrection(ctx, "missing", types.Correction{}); !types.IsNotFound(err) {
			t.Errorf("ApplyCorrection(missing) error = %v", err)
		}
	})

	t.Run("merge reindexes by page", func(t *testing.T) {
		job := newJob(t, s, "uploads/L1/3_c.pdf")
		segs := seed(t, s, job.ID, [2]int{1, 2}, [2]int{3, 4}, [2]int{5, 6}, [2]int{7, 8})

		err := s.ApplyMerge(ctx, types.MergePlan{
			JobID: job.ID, KeeperID: segs[1].ID, PageEnd: 6,
			OutputFileKey: "outputs/x", SuggestedFilename: "002_X.pdf",
			DeleteIDs: []string{segs[2].ID},
		})
		if err != nil {
			t.Fatalf("ApplyMerge() error = %v", err)
		}
		after, _ := s.ListSegments(ctx, job.ID)
		if len(after) != 3 {
			t.Fatalf("segments = %d, want 3", len(after))
		}
		for i, seg := range after {
			if seg.SegmentIndex != i+1 {
				t.Errorf("segment %s index = %d, want %d", seg.ID, seg.SegmentIndex, i+1)
			}
		}
		if after[1].ID != segs[1].ID || after[1].PageEnd != 6 || *after[1].OutputFileKey != "outputs/x" {
			t.Errorf("keeper = %+v", after[1])
		}
		if after[2].ID != segs[3].ID {
			t.Errorf("last = %s, want %s", after[2].ID, segs[3].ID)
		}

		err = s.ApplyMerge(ctx, types.MergePlan{JobID: job.ID, KeeperID: segs[0].ID, DeleteIDs: []string{segs[2].ID}})
		if !types.IsNotFound(err) {
			t.Errorf("ApplyMerge(deleted id) error = %v", err)
		}
		if n, _ := s.CountSegments(ctx, job.ID); n != 3 {
			t.Errorf("failed merge changed segments: %d", n)
		}
	})

	t.Run("retry from classifying", func(t *testing.T) {
		job := newJob(t, s, "uploads/L1/4_d.pdf")
		segs := seed(t, s, job.ID, [2]int{1, 1}, [2]int{2, 2})
		subtype := "w2"
		_ = s.CompleteClassification(ctx, segs[0].ID, 0, types.Classification{Subtype: &subtype, Confidence: 0.9, Tier: types.TierHigh})
		_ = s.FailClassification(ctx, segs[1].ID, 0, "x")
		_ = s.FailJob(ctx, job.ID, 0, "1 of 2 segments failed classification")

		if err := s.ResetJobForRetry(ctx, job.ID, types.StageClassifying); err != nil {
			t.Fatalf("ResetJobForRetry() error = %v", err)
		}
		after, _ := s.ListSegments(ctx, job.ID)
		if after[0].Status != types.SegmentCompleted || after[1].Status != types.SegmentPending || after[1].ErrorMessage != nil {
			t.Errorf("segments after reset = %v / %v", after[0].Status, after[1].Status)
		}
	})

	t.Run("run fencing", func(t *testing.T) {
		job := newJob(t, s, "uploads/L1/6_f.pdf")
		segs := seed(t, s, job.ID, [2]int{1, 2})
		if err := s.StartClassification(ctx, segs[0].ID, 0); err != nil {
			t.Fatalf("StartClassification() error = %v", err)
		}

		if err := s.CancelJob(ctx, job.ID); err != nil {
			t.Fatalf("CancelJob() error = %v", err)
		}
		c := types.Classification{Confidence: 0.9, Tier: types.TierHigh}
		if err := s.CompleteClassification(ctx, segs[0].ID, 0, c); !errors.Is(err, store.ErrStaleRun) {
			t.Errorf("CompleteClassification(cancelled) error = %v, want ErrStaleRun", err)
		}
		if err := s.FailJob(ctx, job.ID, 0, "Processing interrupted: context canceled"); !errors.Is(err, store.ErrStaleRun) {
			t.Errorf("FailJob(cancelled) error = %v, want ErrStaleRun", err)
		}

		if err := s.ResetJobForRetry(ctx, job.ID, types.StageAll); err != nil {
			t.Fatalf("ResetJobForRetry() error = %v", err)
		}
		if err := s.SetJobStatus(ctx, job.ID, 0, types.JobClassifying); !errors.Is(err, store.ErrStaleRun) {
			t.Errorf("SetJobStatus(old attempt) error = %v, want ErrStaleRun", err)
		}
		if _, err := s.ResetInterruptedSegments(ctx, job.ID, 0); !errors.Is(err, store.ErrStaleRun) {
			t.Errorf("ResetInterruptedSegments(old attempt) error = %v, want ErrStaleRun", err)
		}
		if err := s.SetJobStatus(ctx, job.ID, 1, types.JobCompleted); err != nil {
			t.Fatalf("SetJobStatus(current attempt) error = %v", err)
		}
		if err := s.FailJob(ctx, job.ID, 1, "late"); !errors.Is(err, store.ErrStaleRun) {
			t.Errorf("FailJob(completed) error = %v, want ErrStaleRun", err)
		}
		got, _ := s.GetJob(ctx, job.ID)
		if got.Status != types.JobCompleted || got.ErrorMessage != nil {
			t.Errorf("job = %s %v", got.Status, got.ErrorMessage)
		}
		if err := s.FailJob(ctx, "00000000-0000-0000-0000-000000000000", 0, "x"); !types.IsNotFound(err) {
			t.Errorf("FailJob(missing) error = %v, want not found", err)
		}
	})

	t.Run("dashboard", func(t *testing.T) {
		job := newJob(t, s, "uploads/L1/5_e.pdf")
		seed(t, s, job.ID, [2]int{1, 10})
		_ = s.SetJobStatus(ctx, job.ID, 0, types.JobCompleted)

		stats, err := s.Dashboard(ctx, "u1", time.Now())
		if err != nil {
			t.Fatalf("Dashboard() error = %v", err)
		}
		if stats.JobsByStatus[types.JobCompleted] < 1 || stats.TotalPages < 10 || stats.RecentJobCount < 1 {
			t.Errorf("stats = %+v", stats)
		}
		if len(stats.RecentActivity) == 0 || stats.RecentActivity[0].ID != job.ID || stats.RecentActivity[0].SegmentCount != 1 {
			t.Errorf("recent activity = %+v", stats.RecentActivity)
		}
		list, _ := s.ListJobs(ctx, "u1")
		if len(list) == 0 || list[0].ID != job.ID {
			t.Errorf("ListJobs() not newest first")
		}
	})

	t.Run("taxonomy snapshots", func(t *testing.T) {
		snap := taxonomy.Builtin()
		if err := s.SaveTaxonomySnapshot(ctx, snap); err != nil {
			t.Fatalf("SaveTaxonomySnapshot() error = %v", err)
		}
		if err := s.SaveTaxonomySnapshot(ctx, snap); err != nil {
			t.Fatalf("SaveTaxonomySnapshot() again error = %v", err)
		}
		got, err := s.GetTaxonomySnapshot(ctx, snap.ID)
		if err != nil {
			t.Fatalf("GetTaxonomySnapshot() error = %v", err)
		}
		if len(got.RulesFor(types.BucketIncome)) != len(snap.RulesFor(types.BucketIncome)) {
			t.Error("stored snapshot lost income rules")
		}
		if _, err := s.GetTaxonomySnapshot(ctx, "missing"); !types.IsNotFound(err) {
			t.Errorf("GetTaxonomySnapshot(missing) error = %v", err)
		}
	})
}
