package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/jackzampolin/docsplit/internal/objectstore"
	"github.com/jackzampolin/docsplit/internal/store"
	"github.com/jackzampolin/docsplit/internal/types"
)

type launch struct {
	jobID   string
	attempt int
	from    types.Stage
}

type fakeLauncher struct {
	launches []launch
	err      error
}

func (f *fakeLauncher) Launch(ctx context.Context, jobID string, attempt int, from types.Stage) (string, error) {
	f.launches = append(f.launches, launch{jobID, attempt, from})
	if f.err != nil {
		return "", f.err
	}
	return "run_" + jobID, nil
}

type fakeCanceller struct {
	cancelled []string
	err       error
}

func (f *fakeCanceller) Cancel(handle string) error {
	f.cancelled = append(f.cancelled, handle)
	return f.err
}

type managerFixture struct {
	m        *Manager
	store    *store.Memory
	objects  *objectstore.Memory
	launcher *fakeLauncher
	runs     *fakeCanceller
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	f := &managerFixture{
		store:    store.NewMemory(),
		objects:  objectstore.NewMemory(),
		launcher: &fakeLauncher{},
		runs:     &fakeCanceller{},
	}
	f.m = NewManager(ManagerConfig{Store: f.store, Objects: f.objects, Launcher: f.launcher, Runs: f.runs})
	return f
}

func (f *managerFixture) create(t *testing.T, key string) string {
	t.Helper()
	ctx := context.Background()
	if err := f.objects.Put(ctx, key, []byte("%PDF"), objectstore.ContentTypePDF); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	id, err := f.m.Create(ctx, CreateRequest{UserID: "u1", LoanID: "L1", FileKey: key, FileName: "loan.pdf", FileSizeBytes: 4})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return id
}

func TestManager_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("creates and launches", func(t *testing.T) {
		f := newManagerFixture(t)
		id := f.create(t, "uploads/L1/1_loan.pdf")

		job, err := f.store.GetJob(ctx, id)
		if err != nil {
			t.Fatalf("GetJob() error = %v", err)
		}
		if job.Status != types.JobPending || job.RunHandle == nil || *job.RunHandle != "run_"+id {
			t.Errorf("job = %+v", job)
		}
		if len(f.launcher.launches) != 1 || f.launcher.launches[0].from != types.StageAll || f.launcher.launches[0].attempt != 0 {
			t.Errorf("launches = %+v", f.launcher.launches)
		}
	})

	t.Run("idempotent on source key", func(t *testing.T) {
		f := newManagerFixture(t)
		first := f.create(t, "uploads/L1/1_loan.pdf")
		second := f.create(t, "uploads/L1/1_loan.pdf")
		if first != second {
			t.Errorf("second Create() = %s, want %s", second, first)
		}
		if len(f.launcher.launches) != 1 {
			t.Errorf("launches = %d, want 1", len(f.launcher.launches))
		}
	})

	t.Run("missing upload", func(t *testing.T) {
		f := newManagerFixture(t)
		_, err := f.m.Create(ctx, CreateRequest{UserID: "u1", LoanID: "L1", FileKey: "uploads/none.pdf", FileName: "a.pdf", FileSizeBytes: 1})
		if !types.IsValidation(err) || err.Error() != "Uploaded file not found in storage" {
			t.Errorf("Create() error = %v", err)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		f := newManagerFixture(t)
		_, err := f.m.Create(ctx, CreateRequest{UserID: "u1", FileSizeBytes: 1})
		if !types.IsValidation(err) {
			t.Errorf("Create() error = %v", err)
		}
	})

	t.Run("launch failure marks job failed", func(t *testing.T) {
		f := newManagerFixture(t)
		f.launcher.err = errors.New("runner down")
		id := f.create(t, "uploads/L1/2_loan.pdf")

		job, _ := f.store.GetJob(ctx, id)
		if job.Status != types.JobFailed || job.ErrorMessage == nil || *job.ErrorMessage != "Failed to start processing" {
			t.Errorf("job = %+v", job)
		}
		if job.CompletedAt == nil {
			t.Error("CompletedAt should be set")
		}
	})
}

func TestManager_Retry(t *testing.T) {
	ctx := context.Background()

	t.Run("only failed or cancelled", func(t *testing.T) {
		f := newManagerFixture(t)
		id := f.create(t, "uploads/a.pdf")
		err := f.m.Retry(ctx, "u1", id)
		if !types.IsValidation(err) || err.Error() != "Only failed or cancelled jobs can be retried" {
			t.Errorf("Retry() error = %v", err)
		}
	})

	t.Run("full retry", func(t *testing.T) {
		f := newManagerFixture(t)
		id := f.create(t, "uploads/a.pdf")
		_ = f.store.SetJobStatus(ctx, id, 0, types.JobIngesting)
		_ = f.store.FailJob(ctx, id, 0, "boom")

		if err := f.m.Retry(ctx, "u1", id); err != nil {
			t.Fatalf("Retry() error = %v", err)
		}
		job, _ := f.store.GetJob(ctx, id)
		if job.Status != types.JobPending || job.RetryCount != 1 || job.ErrorMessage != nil || job.StartedAt != nil {
			t.Errorf("job = %+v", job)
		}
		if got := f.launcher.launches[len(f.launcher.launches)-1]; got.from != types.StageAll || got.attempt != 1 {
			t.Errorf("last launch = %+v", got)
		}
	})

	t.Run("from stage requires segments", func(t *testing.T) {
		f := newManagerFixture(t)
		id := f.create(t, "uploads/a.pdf")
		_ = f.store.FailJob(ctx, id, 0, "boom")

		err := f.m.RetryFrom(ctx, "u1", id, types.StageClassifying)
		if !types.IsValidation(err) || err.Error() != "No segments found — use full retry instead (split must complete first)" {
			t.Errorf("RetryFrom() error = %v", err)
		}
	})

	t.Run("from classifying", func(t *testing.T) {
		f := newManagerFixture(t)
		id := f.create(t, "uploads/a.pdf")
		_ = f.store.CreateSegments(ctx, id, 0, []types.NewSegment{
			{SegmentIndex: 1, PageStart: 1, PageEnd: 2, Bucket: types.BucketIncome},
			{SegmentIndex: 2, PageStart: 3, PageEnd: 4, Bucket: types.BucketAssets},
		}, 4)
		segs, _ := f.store.ListSegments(ctx, id)
		_ = f.store.FailClassification(ctx, segs[1].ID, 0, "classifier down")
		_ = f.store.FailJob(ctx, id, 0, "1 of 2 segments failed classification")

		if err := f.m.RetryFrom(ctx, "u1", id, types.StageClassifying); err != nil {
			t.Fatalf("RetryFrom() error = %v", err)
		}
		seg, _ := f.store.GetSegment(ctx, segs[1].ID)
		if seg.Status != types.SegmentPending || seg.ErrorMessage != nil {
			t.Errorf("segment = %+v", seg)
		}
		if got := f.launcher.launches[len(f.launcher.launches)-1]; got.from != types.StageClassifying || got.attempt != 1 {
			t.Errorf("last launch = %+v", got)
		}
	})

	t.Run("invalid stage", func(t *testing.T) {
		f := newManagerFixture(t)
		if err := f.m.RetryFrom(ctx, "u1", "x", types.Stage("SPLITTING")); !types.IsValidation(err) {
			t.Errorf("RetryFrom() error = %v", err)
		}
	})

	t.Run("other user's job is not found", func(t *testing.T) {
		f := newManagerFixture(t)
		id := f.create(t, "uploads/a.pdf")
		if err := f.m.Retry(ctx, "someone-else", id); !types.IsNotFound(err) {
			t.Errorf("Retry() error = %v", err)
		}
	})
}

func TestManager_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("cancels in-progress job", func(t *testing.T) {
		f := newManagerFixture(t)
		f.runs.err = ErrRunNotFound
		id := f.create(t, "uploads/a.pdf")
		_ = f.store.SetJobStatus(ctx, id, 0, types.JobClassifying)

		if err := f.m.Cancel(ctx, "u1", id); err != nil {
			t.Fatalf("Cancel() error = %v", err)
		}
		job, _ := f.store.GetJob(ctx, id)
		if job.Status != types.JobCancelled || job.CompletedAt == nil {
			t.Errorf("job = %+v", job)
		}
		if len(f.runs.cancelled) != 1 || f.runs.cancelled[0] != "run_"+id {
			t.Errorf("cancelled = %v", f.runs.cancelled)
		}
	})

	t.Run("terminal job", func(t *testing.T) {
		f := newManagerFixture(t)
		id := f.create(t, "uploads/a.pdf")
		_ = f.store.SetJobStatus(ctx, id, 0, types.JobCompleted)
		err := f.m.Cancel(ctx, "u1", id)
		if !types.IsValidation(err) || err.Error() != "Only in-progress jobs can be cancelled" {
			t.Errorf("Cancel() error = %v", err)
		}
	})
}

func TestManager_Queries(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)
	a := f.create(t, "uploads/a.pdf")
	b := f.create(t, "uploads/b.pdf")
	_ = f.store.CreateSegments(ctx, a, 0, []types.NewSegment{{SegmentIndex: 1, PageStart: 1, PageEnd: 3, Bucket: types.BucketCredit}}, 3)

	got, err := f.m.Get(ctx, "u1", a)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Summary.TotalSegments != 1 || got.Summary.SegmentsByBucket[types.BucketCredit] != 1 {
		t.Errorf("Summary = %+v", got.Summary)
	}

	statuses, err := f.m.StatusBatch(ctx, "u1", []string{a, b, "missing"})
	if err != nil {
		t.Fatalf("StatusBatch() error = %v", err)
	}
	if len(statuses) != 2 || statuses[a] != types.JobPending {
		t.Errorf("StatusBatch() = %v", statuses)
	}
	if _, err := f.m.StatusBatch(ctx, "u1", nil); !types.IsValidation(err) {
		t.Errorf("StatusBatch(nil) error = %v", err)
	}

	list, err := f.m.List(ctx, "u1")
	if err != nil || len(list) != 2 {
		t.Errorf("List() = %d items, err %v", len(list), err)
	}

	stats, err := f.m.Dashboard(ctx, "u1")
	if err != nil {
		t.Fatalf("Dashboard() error = %v", err)
	}
	if stats.JobsByStatus[types.JobPending] != 2 || stats.RecentJobCount != 2 {
		t.Errorf("Dashboard() = %+v", stats)
	}
}
