package export

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/jackzampolin/docsplit/internal/objectstore"
	"github.com/jackzampolin/docsplit/internal/store"
	"github.com/jackzampolin/docsplit/internal/types"
)

type fixture struct {
	svc     *Service
	store   *store.Memory
	objects *objectstore.Memory
	job     *types.Job
	segs    []*types.Segment
}

func strp(s string) *string { return &s }

// newFixture creates a job with three segments. The first two are
// finalized; the third is classified but has no output.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{store: store.NewMemory(), objects: objectstore.NewMemory()}
	f.svc = NewService(Config{
		Store:   f.store,
		Objects: f.objects,
		Now:     func() time.Time { return time.UnixMilli(1700000000123) },
	})

	f.job = &types.Job{UserID: "u1", LoanID: "L1", SourceFileKey: "uploads/L1/1_Smith Loan.PDF", SourceFileName: "Smith Loan.PDF", SourceSizeBytes: 1}
	if err := f.store.CreateJob(ctx, f.job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	rows := []types.NewSegment{
		{SegmentIndex: 1, PageStart: 1, PageEnd: 3, Bucket: types.BucketIncome},
		{SegmentIndex: 2, PageStart: 4, PageEnd: 4, Bucket: types.BucketTaxReturns},
		{SegmentIndex: 3, PageStart: 5, PageEnd: 6, Bucket: types.BucketUnknown},
	}
	if err := f.store.CreateSegments(ctx, f.job.ID, 0, rows, 6); err != nil {
		t.Fatalf("CreateSegments() error = %v", err)
	}
	segs, _ := f.store.ListSegments(ctx, f.job.ID)
	classes := []types.Classification{
		{Subtype: strp("w2"), Confidence: 0.912, Tier: types.TierHigh, Folder: strp("Income: W-2's")},
		{Subtype: nil, Confidence: 0, Tier: types.TierLow, RequiresReview: true},
		{Subtype: strp("passport"), Confidence: 0.5, Tier: types.TierLow, RequiresReview: true},
	}
	for i, s := range segs {
		if err := f.store.CompleteClassification(ctx, s.ID, 0, classes[i]); err != nil {
			t.Fatalf("CompleteClassification() error = %v", err)
		}
		if i == 2 {
			continue
		}
		filename := types.SuggestedFilename(s.SegmentIndex, classes[i].Subtype)
		key := types.OutputKey("L1", f.job.ID, filename)
		if err := f.objects.Put(ctx, key, []byte("pdf-"+filename), objectstore.ContentTypePDF); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if err := f.store.SetSegmentOutput(ctx, s.ID, 0, key, filename); err != nil {
			t.Fatalf("SetSegmentOutput() error = %v", err)
		}
	}
	f.segs, _ = f.store.ListSegments(ctx, f.job.ID)
	return f
}

func (f *fixture) complete(t *testing.T) {
	t.Helper()
	if err := f.store.SetJobStatus(context.Background(), f.job.ID, 0, types.JobCompleted); err != nil {
		t.Fatalf("SetJobStatus() error = %v", err)
	}
}

func TestDownloadAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.complete(t)

	dl, err := f.svc.DownloadAll(ctx, "u1", f.job.ID)
	if err != nil {
		t.Fatalf("DownloadAll() error = %v", err)
	}
	if dl.Filename != "Smith Loan_classified.zip" {
		t.Errorf("Filename = %q", dl.Filename)
	}
	key := "exports/L1/" + f.job.ID + "/Smith Loan_classified.zip"
	if !strings.Contains(dl.URL, url.PathEscape(key)) {
		t.Errorf("URL = %q, want presigned %q", dl.URL, key)
	}

	archive, err := f.objects.Get(ctx, key)
	if err != nil {
		t.Fatalf("archive not uploaded: %v", err)
	}
	info, _ := f.objects.Head(ctx, key)
	if info.ContentType != objectstore.ContentTypeZip {
		t.Errorf("ContentType = %q", info.ContentType)
	}

	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		t.Fatalf("zip.NewReader() error = %v", err)
	}
	files := map[string][]byte{}
	var names []string
	for _, zf := range zr.File {
		rc, err := zf.Open()
		if err != nil {
			t.Fatalf("open %s: %v", zf.Name, err)
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		files[zf.Name] = data
		names = append(names, zf.Name)
	}
	sort.Strings(names)
	want := []string{"Income: W-2's/001_W2.pdf", "Tax Returns/002_UNKNOWN.pdf", "manifest.csv", "manifest.xlsx"}
	if strings.Join(names, "|") != strings.Join(want, "|") {
		t.Fatalf("entries = %v, want %v", names, want)
	}
	if string(files["Income: W-2's/001_W2.pdf"]) != "pdf-001_W2.pdf" {
		t.Error("segment PDF content mismatch")
	}

	wantCSV := "Index,Bucket,Subtype,Confidence,Encompass Folder,Filename,Pages\n" +
		"1,INCOME,w2,0.91,Income: W-2's,001_W2.pdf,1-3\n" +
		"2,TAX_RETURNS,UNKNOWN,0.00,Tax Returns,002_UNKNOWN.pdf,4\n"
	if got := string(files["manifest.csv"]); got != wantCSV {
		t.Errorf("manifest.csv =\n%s\nwant\n%s", got, wantCSV)
	}

	xf, err := excelize.OpenReader(bytes.NewReader(files["manifest.xlsx"]))
	if err != nil {
		t.Fatalf("excelize.OpenReader() error = %v", err)
	}
	defer xf.Close()
	rows, err := xf.GetRows("Manifest")
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 3 || rows[0][4] != "Encompass Folder" || rows[1][2] != "w2" || rows[2][6] != "4" {
		t.Errorf("xlsx rows = %v", rows)
	}
}

func TestDownloadAll_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("job not completed", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.DownloadAll(ctx, "u1", f.job.ID)
		if err == nil || err.Error() != "Job is not completed" {
			t.Fatalf("DownloadAll() error = %v", err)
		}
	})

	t.Run("no outputs", func(t *testing.T) {
		f := newFixture(t)
		for _, s := range f.segs {
			_ = f.store.FailClassification(ctx, s.ID, 0, "x")
		}
		f.complete(t)
		_, err := f.svc.DownloadAll(ctx, "u1", f.job.ID)
		if err == nil || err.Error() != "No downloadable segments" {
			t.Fatalf("DownloadAll() error = %v", err)
		}
	})

	t.Run("other user", func(t *testing.T) {
		f := newFixture(t)
		f.complete(t)
		if _, err := f.svc.DownloadAll(ctx, "u2", f.job.ID); !types.IsNotFound(err) {
			t.Fatalf("DownloadAll() error = %v, want not found", err)
		}
	})
}

func TestURLs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	src, err := f.svc.SourceURL(ctx, "u1", f.job.ID)
	if err != nil {
		t.Fatalf("SourceURL() error = %v", err)
	}
	if src.TotalPages == nil || *src.TotalPages != 6 || !strings.Contains(src.URL, "expires=900") {
		t.Errorf("SourceURL() = %+v", src)
	}

	seg, err := f.svc.SegmentURL(ctx, "u1", f.job.ID, f.segs[0].ID)
	if err != nil {
		t.Fatalf("SegmentURL() error = %v", err)
	}
	if seg.PageStart != 1 || seg.PageEnd != 3 || seg.SuggestedFilename == nil || *seg.SuggestedFilename != "001_W2.pdf" {
		t.Errorf("SegmentURL() = %+v", seg)
	}

	_, err = f.svc.SegmentURL(ctx, "u1", f.job.ID, f.segs[2].ID)
	if err == nil || err.Error() != "Segment PDF not yet available" || !types.IsNotFound(err) {
		t.Errorf("SegmentURL(no output) error = %v", err)
	}
	if _, err := f.svc.SegmentURL(ctx, "u1", f.job.ID, "missing"); !types.IsNotFound(err) {
		t.Errorf("SegmentURL(missing) error = %v", err)
	}
}

func TestPresignUpload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	up, err := f.svc.PresignUpload(ctx, UploadRequest{LoanID: "L9", Filename: "../bank.pdf", ContentType: "application/pdf", FileSizeBytes: 1024})
	if err != nil {
		t.Fatalf("PresignUpload() error = %v", err)
	}
	if up.Key != "uploads/L9/1700000000123_bank.pdf" || up.ExpiresIn != 900 {
		t.Errorf("PresignUpload() = %+v", up)
	}
	if !strings.Contains(up.PresignedURL, "method=PUT") {
		t.Errorf("PresignedURL = %q", up.PresignedURL)
	}

	tests := []struct {
		name string
		req  UploadRequest
		want string
	}{
		{"not pdf", UploadRequest{LoanID: "L", Filename: "a.png", ContentType: "image/png", FileSizeBytes: 1}, "Only PDF files are allowed"},
		{"too large", UploadRequest{LoanID: "L", Filename: "a.pdf", ContentType: "application/pdf", FileSizeBytes: MaxUploadBytes + 1}, "File size exceeds 500MB limit"},
		{"empty name", UploadRequest{LoanID: "L", ContentType: "application/pdf", FileSizeBytes: 1}, "Filename is required"},
		{"zero size", UploadRequest{LoanID: "L", Filename: "a.pdf", ContentType: "application/pdf"}, "file_size_bytes must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.PresignUpload(ctx, tt.req)
			if err == nil || err.Error() != tt.want || !types.IsValidation(err) {
				t.Fatalf("PresignUpload() error = %v, want %q", err, tt.want)
			}
		})
	}
}
