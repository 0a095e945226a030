// Package export packages a finished job's segment PDFs for download and
// issues presigned URLs for source, segment and upload access.
package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/jackzampolin/docsplit/internal/jobs"
	"github.com/jackzampolin/docsplit/internal/objectstore"
	"github.com/jackzampolin/docsplit/internal/store"
	"github.com/jackzampolin/docsplit/internal/types"
)

// DefaultPresignTTL is how long presigned URLs stay valid.
const DefaultPresignTTL = 15 * time.Minute

// MaxUploadBytes is the largest source file accepted for upload.
const MaxUploadBytes int64 = 500 * 1024 * 1024

// downloadWorkers bounds concurrent segment downloads while building a zip.
const downloadWorkers = 10

var pdfExt = regexp.MustCompile(`(?i)\.pdf$`)

// ManifestHeader is the column layout of manifest.csv and manifest.xlsx.
var ManifestHeader = []string{"Index", "Bucket", "Subtype", "Confidence", "Encompass Folder", "Filename", "Pages"}

// Config configures a Service.
type Config struct {
	Store      store.Store
	Objects    objectstore.Store
	PresignTTL time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

// Service builds export archives and presigned URLs.
type Service struct {
	store   store.Store
	objects objectstore.Store
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewService creates an export service.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{store: cfg.Store, objects: cfg.Objects, ttl: ttl, now: now, logger: logger}
}

// Download is a presigned link to an export archive.
type Download struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

type entry struct {
	segment *types.Segment
	data    []byte
}

// DownloadAll zips every finalized segment of a completed job into
// "<folder>/<filename>" entries with a CSV and XLSX manifest, uploads the
// archive and returns a presigned link to it.
func (s *Service) DownloadAll(ctx context.Context, userID, jobID string) (*Download, error) {
	start := time.Now()
	job, err := store.OwnedJob(ctx, s.store, userID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != types.JobCompleted {
		return nil, types.Validationf("Job is not completed")
	}

	all, err := s.store.ListSegments(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	var entries []*entry
	for _, seg := range all {
		if seg.Status == types.SegmentCompleted && seg.OutputFileKey != nil && *seg.OutputFileKey != "" {
			entries = append(entries, &entry{segment: seg})
		}
	}
	if len(entries) == 0 {
		return nil, types.Validationf("No downloadable segments")
	}

	results := jobs.Map(ctx, entries, downloadWorkers, func(ctx context.Context, e *entry) error {
		data, err := s.objects.Get(ctx, *e.segment.OutputFileKey)
		if err != nil {
			return fmt.Errorf("failed to download %s: %w", *e.segment.OutputFileKey, err)
		}
		e.data = data
		return nil
	})
	if out := jobs.Summarize(results); !out.OK() {
		return nil, out.FirstErr
	}

	archive, err := buildArchive(entries)
	if err != nil {
		return nil, err
	}

	base := pdfExt.ReplaceAllString(job.SourceFileName, "")
	filename := base + "_classified.zip"
	key := fmt.Sprintf("exports/%s/%s/%s", job.LoanID, job.ID, filename)
	if err := s.objects.Put(ctx, key, archive, objectstore.ContentTypeZip); err != nil {
		return nil, fmt.Errorf("failed to upload export: %w", err)
	}
	url, err := s.objects.PresignGet(ctx, key, s.ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to presign export: %w", err)
	}

	s.logger.Info("export built",
		"job_id", jobID,
		"segments", len(entries),
		"bytes", len(archive),
		"elapsed_ms", time.Since(start).Milliseconds())
	return &Download{Filename: filename, URL: url}, nil
}

func buildArchive(entries []*entry) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	manifestCSV, err := manifestCSV(entries)
	if err != nil {
		return nil, err
	}
	manifestXLSX, err := manifestXLSX(entries)
	if err != nil {
		return nil, err
	}

	files := []struct {
		name string
		data []byte
	}{
		{"manifest.csv", manifestCSV},
		{"manifest.xlsx", manifestXLSX},
	}
	for _, e := range entries {
		files = append(files, struct {
			name string
			data []byte
		}{entryPath(e.segment), e.data})
	}

	for _, f := range files {
		w, err := zw.Create(f.name)
		if err != nil {
			return nil, fmt.Errorf("failed to add %s to archive: %w", f.name, err)
		}
		if _, err := w.Write(f.data); err != nil {
			return nil, fmt.Errorf("failed to write %s to archive: %w", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}
	return buf.Bytes(), nil
}

func entryPath(seg *types.Segment) string {
	return seg.FolderLabel() + "/" + seg.Filename()
}

// manifestRow renders one segment in ManifestHeader order.
func manifestRow(seg *types.Segment) []string {
	bucket := string(seg.Bucket)
	if bucket == "" {
		bucket = string(types.BucketUnknown)
	}
	subtype := "UNKNOWN"
	if seg.Subtype != nil && *seg.Subtype != "" {
		subtype = *seg.Subtype
	}
	confidence := ""
	if seg.Confidence != nil {
		confidence = fmt.Sprintf("%.2f", *seg.Confidence)
	}
	return []string{
		fmt.Sprintf("%d", seg.SegmentIndex),
		bucket,
		subtype,
		confidence,
		seg.FolderLabel(),
		seg.Filename(),
		seg.PageLabel(),
	}
}

func manifestCSV(entries []*entry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(ManifestHeader); err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := w.Write(manifestRow(e.segment)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to write manifest.csv: %w", err)
	}
	return buf.Bytes(), nil
}

func manifestXLSX(entries []*entry) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const sheet = "Manifest"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("failed to name manifest sheet: %w", err)
	}

	write := func(col, row int, v any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
	for i, h := range ManifestHeader {
		write(i+1, 1, h)
	}
	for r, e := range entries {
		row := r + 2
		seg := e.segment
		for c, v := range manifestRow(seg) {
			write(c+1, row, v)
		}
		// Numeric cells so the sheet sorts and filters naturally.
		write(1, row, seg.SegmentIndex)
		if seg.Confidence != nil {
			write(4, row, *seg.Confidence)
		}
	}

	_ = f.SetColWidth(sheet, "A", "A", 8)
	_ = f.SetColWidth(sheet, "B", "C", 24)
	_ = f.SetColWidth(sheet, "D", "D", 12)
	_ = f.SetColWidth(sheet, "E", "E", 36)
	_ = f.SetColWidth(sheet, "F", "F", 40)
	_ = f.SetColWidth(sheet, "G", "G", 10)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write manifest.xlsx: %w", err)
	}
	return buf.Bytes(), nil
}
