package segments

import (
	"context"
	"testing"

	"github.com/jackzampolin/docsplit/internal/objectstore"
	"github.com/jackzampolin/docsplit/internal/pdf"
	"github.com/jackzampolin/docsplit/internal/store"
	"github.com/jackzampolin/docsplit/internal/testutil"
	"github.com/jackzampolin/docsplit/internal/types"
)

type fixture struct {
	svc     *Service
	store   *store.Memory
	objects *objectstore.Memory
	job     *types.Job
	ids     []string
}

func strp(s string) *string { return &s }

// newFixture creates a classified job over a 16-page source with segments
// 1-4, 5-8, 9-12 and 13-16.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{store: store.NewMemory(), objects: objectstore.NewMemory()}
	f.svc = NewService(Config{Store: f.store, Objects: f.objects})

	f.job = &types.Job{UserID: "u1", LoanID: "L1", SourceFileKey: "uploads/L1/1_loan.pdf", SourceFileName: "loan.pdf", SourceSizeBytes: 1}
	if err := f.store.CreateJob(ctx, f.job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := f.objects.Put(ctx, f.job.SourceFileKey, testutil.PDF(16), objectstore.ContentTypePDF); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	buckets := []types.Bucket{types.BucketIncome, types.BucketAssets, types.BucketAssets, types.BucketCredit}
	var rows []types.NewSegment
	for i, b := range buckets {
		rows = append(rows, types.NewSegment{SegmentIndex: i + 1, PageStart: i*4 + 1, PageEnd: i*4 + 4, Bucket: b, BucketConfidenceTier: types.TierHigh})
	}
	if err := f.store.CreateSegments(ctx, f.job.ID, 0, rows, 16); err != nil {
		t.Fatalf("CreateSegments() error = %v", err)
	}
	segs, _ := f.store.ListSegments(ctx, f.job.ID)
	for _, s := range segs {
		f.ids = append(f.ids, s.ID)
		subtype := "bank_statement_personal"
		if s.Bucket == types.BucketIncome {
			subtype = "w2"
		}
		c := types.Classification{Subtype: strp(subtype), Confidence: 0.7, Tier: types.TierMedium, RequiresReview: true}
		if err := f.store.CompleteClassification(ctx, s.ID, 0, c); err != nil {
			t.Fatalf("CompleteClassification() error = %v", err)
		}
	}
	return f
}

func TestMerge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.Merge(ctx, "u1", f.job.ID, []string{f.ids[2], f.ids[1]})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if res.MergedSegmentID != f.ids[1] {
		t.Errorf("MergedSegmentID = %q, want the lowest page_start segment", res.MergedSegmentID)
	}

	segs, _ := f.store.ListSegments(ctx, f.job.ID)
	if len(segs) != 3 {
		t.Fatalf("got %d segments, want 3", len(segs))
	}
	merged := segs[1]
	if merged.ID != f.ids[1] || merged.SegmentIndex != 2 || merged.PageStart != 5 || merged.PageEnd != 12 {
		t.Errorf("merged = index %d pages %d-%d", merged.SegmentIndex, merged.PageStart, merged.PageEnd)
	}
	if got := *merged.SuggestedFilename; got != "002_BANK_STATEMENT_PERSONAL.pdf" {
		t.Errorf("filename = %q", got)
	}
	if segs[2].ID != f.ids[3] || segs[2].SegmentIndex != 3 {
		t.Errorf("last segment = %s index %d, want renumbered to 3", segs[2].ID, segs[2].SegmentIndex)
	}
	for i, s := range segs {
		if s.SegmentIndex != i+1 {
			t.Errorf("indices not dense: %d at position %d", s.SegmentIndex, i)
		}
	}

	body, err := f.objects.Get(ctx, *merged.OutputFileKey)
	if err != nil {
		t.Fatalf("merged output missing: %v", err)
	}
	if n, _ := pdf.PageCount(body); n != 8 {
		t.Errorf("merged PDF has %d pages, want 8", n)
	}
}

func TestMerge_Validation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		userID  string
		ids     func(f *fixture) []string
		prepare func(t *testing.T, f *fixture)
		want    string
	}{
		{
			name: "too few",
			ids:  func(f *fixture) []string { return f.ids[:1] },
			want: "Select between 2 and 50 segments to merge",
		},
		{
			name: "unknown id",
			ids:  func(f *fixture) []string { return []string{f.ids[0], "nope"} },
			want: "One or more segments not found in this job",
		},
		{
			name: "duplicate id",
			ids:  func(f *fixture) []string { return []string{f.ids[0], f.ids[0]} },
			want: "One or more segments not found in this job",
		},
		{
			name: "gap",
			ids:  func(f *fixture) []string { return []string{f.ids[0], f.ids[2]} },
			want: "Selected segments must be adjacent (no page gaps)",
		},
		{
			name: "not completed",
			ids:  func(f *fixture) []string { return f.ids[:2] },
			prepare: func(t *testing.T, f *fixture) {
				if err := f.store.FailClassification(ctx, f.ids[1], 0, "boom"); err != nil {
					t.Fatalf("FailClassification() error = %v", err)
				}
			},
			want: "All segments must be completed before merging",
		},
		{
			name:   "other user",
			userID: "u2",
			ids:    func(f *fixture) []string { return f.ids[:2] },
			want:   "Job not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.prepare != nil {
				tt.prepare(t, f)
			}
			userID := tt.userID
			if userID == "" {
				userID = "u1"
			}
			_, err := f.svc.Merge(ctx, userID, f.job.ID, tt.ids(f))
			if err == nil || err.Error() != tt.want {
				t.Fatalf("Merge() error = %v, want %q", err, tt.want)
			}
			if n, _ := f.store.CountSegments(ctx, f.job.ID); n != 4 {
				t.Errorf("segments = %d, a rejected merge must not change anything", n)
			}
		})
	}
}

func TestCorrect(t *testing.T) {
	ctx := context.Background()

	t.Run("first and second override", func(t *testing.T) {
		f := newFixture(t)
		seg, err := f.svc.Correct(ctx, "u1", f.job.ID, f.ids[1], CorrectRequest{Bucket: "income", Subtype: "paystub"})
		if err != nil {
			t.Fatalf("Correct() error = %v", err)
		}
		if seg.Bucket != types.BucketIncome || *seg.Subtype != "paystub" || !seg.ManuallyClassified || seg.RequiresReview {
			t.Errorf("segment = %+v", seg)
		}
		if *seg.ConfidenceTier != types.TierHigh || seg.Folder == nil || *seg.Folder != "Income: Paystubs" {
			t.Errorf("tier %v folder %v", seg.ConfidenceTier, seg.Folder)
		}
		if *seg.OriginalBucket != types.BucketAssets || *seg.OriginalSubtype != "bank_statement_personal" {
			t.Errorf("originals = %v %v", *seg.OriginalBucket, *seg.OriginalSubtype)
		}
		if seg.ClassifiedBy == nil || *seg.ClassifiedBy != "u1" || seg.ClassifiedAt == nil {
			t.Error("classified_by/at should be recorded")
		}

		seg, err = f.svc.Correct(ctx, "u1", f.job.ID, f.ids[1], CorrectRequest{Bucket: "INCOME", Subtype: "w2"})
		if err != nil {
			t.Fatalf("Correct() error = %v", err)
		}
		if *seg.OriginalBucket != types.BucketAssets || *seg.OriginalSubtype != "bank_statement_personal" {
			t.Error("originals must only be captured on the first override")
		}
	})

	errs := []struct {
		name    string
		segment func(f *fixture) string
		req     CorrectRequest
		prepare func(t *testing.T, f *fixture)
		want    string
	}{
		{
			name:    "invalid subtype",
			segment: func(f *fixture) string { return f.ids[0] },
			req:     CorrectRequest{Bucket: "INCOME", Subtype: "passport"},
			want:    `Invalid subtype "passport" for bucket "INCOME"`,
		},
		{
			name:    "unknown bucket has no subtypes",
			segment: func(f *fixture) string { return f.ids[0] },
			req:     CorrectRequest{Bucket: "UNKNOWN", Subtype: "w2"},
			want:    `Invalid subtype "w2" for bucket "UNKNOWN"`,
		},
		{
			name:    "missing segment",
			segment: func(f *fixture) string { return "nope" },
			req:     CorrectRequest{Bucket: "INCOME", Subtype: "w2"},
			want:    "Segment not found",
		},
		{
			name:    "not completed",
			segment: func(f *fixture) string { return f.ids[0] },
			req:     CorrectRequest{Bucket: "INCOME", Subtype: "w2"},
			prepare: func(t *testing.T, f *fixture) {
				if err := f.store.FailClassification(ctx, f.ids[0], 0, "boom"); err != nil {
					t.Fatalf("FailClassification() error = %v", err)
				}
			},
			want: "Can only correct completed segments",
		},
	}
	for _, tt := range errs {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.prepare != nil {
				tt.prepare(t, f)
			}
			_, err := f.svc.Correct(ctx, "u1", f.job.ID, tt.segment(f), tt.req)
			if err == nil || err.Error() != tt.want {
				t.Fatalf("Correct() error = %v, want %q", err, tt.want)
			}
		})
	}

	t.Run("segment of another job", func(t *testing.T) {
		f := newFixture(t)
		other := &types.Job{UserID: "u1", LoanID: "L2", SourceFileKey: "uploads/L2/x.pdf", SourceFileName: "x.pdf", SourceSizeBytes: 1}
		if err := f.store.CreateJob(ctx, other); err != nil {
			t.Fatalf("CreateJob() error = %v", err)
		}
		_, err := f.svc.Correct(ctx, "u1", other.ID, f.ids[0], CorrectRequest{Bucket: "INCOME", Subtype: "w2"})
		if !types.IsNotFound(err) {
			t.Fatalf("Correct() error = %v, want not found", err)
		}
	})
}
