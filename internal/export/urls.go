package export

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/jackzampolin/docsplit/internal/objectstore"
	"github.com/jackzampolin/docsplit/internal/store"
	"github.com/jackzampolin/docsplit/internal/types"
)

// SourceURL is a presigned link to a job's source PDF.
type SourceURL struct {
	URL        string `json:"url"`
	TotalPages *int   `json:"total_pages"`
}

// SourceURL presigns the job's source file.
func (s *Service) SourceURL(ctx context.Context, userID, jobID string) (*SourceURL, error) {
	job, err := store.OwnedJob(ctx, s.store, userID, jobID)
	if err != nil {
		return nil, err
	}
	url, err := s.objects.PresignGet(ctx, job.SourceFileKey, s.ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to presign source: %w", err)
	}
	return &SourceURL{URL: url, TotalPages: job.TotalPages}, nil
}

// SegmentURL is a presigned link to one segment's PDF.
type SegmentURL struct {
	URL               string  `json:"url"`
	PageStart         int     `json:"page_start"`
	PageEnd           int     `json:"page_end"`
	SuggestedFilename *string `json:"suggested_filename"`
}

// SegmentURL presigns a segment's output. Segments that have not been
// finalized yet report not found.
func (s *Service) SegmentURL(ctx context.Context, userID, jobID, segmentID string) (*SegmentURL, error) {
	if _, err := store.OwnedJob(ctx, s.store, userID, jobID); err != nil {
		return nil, err
	}
	seg, err := s.store.GetSegment(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	if seg.JobID != jobID {
		return nil, store.SegmentNotFound()
	}
	if seg.OutputFileKey == nil || *seg.OutputFileKey == "" {
		return nil, &types.NotFoundError{Message: "Segment PDF not yet available"}
	}
	url, err := s.objects.PresignGet(ctx, *seg.OutputFileKey, s.ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to presign segment: %w", err)
	}
	return &SegmentURL{
		URL:               url,
		PageStart:         seg.PageStart,
		PageEnd:           seg.PageEnd,
		SuggestedFilename: seg.SuggestedFilename,
	}, nil
}

// UploadRequest asks for a presigned upload of a source PDF.
type UploadRequest struct {
	LoanID        string `json:"loan_id"`
	Filename      string `json:"filename"`
	ContentType   string `json:"content_type"`
	FileSizeBytes int64  `json:"file_size_bytes"`
}

// Upload is a presigned PUT for a new source file.
type Upload struct {
	PresignedURL string `json:"presigned_url"`
	Key          string `json:"key"`
	ExpiresIn    int    `json:"expires_in"`
}

func (r UploadRequest) validate() error {
	if strings.TrimSpace(r.LoanID) == "" {
		return types.Validationf("Missing required fields: loan_id")
	}
	if strings.TrimSpace(r.Filename) == "" {
		return types.Validationf("Filename is required")
	}
	if r.ContentType != objectstore.ContentTypePDF {
		return types.Validationf("Only PDF files are allowed")
	}
	if r.FileSizeBytes <= 0 {
		return types.Validationf("file_size_bytes must be positive")
	}
	if r.FileSizeBytes > MaxUploadBytes {
		return types.Validationf("File size exceeds 500MB limit")
	}
	return nil
}

// PresignUpload returns a presigned PUT under uploads/{loan}/{millis}_{name}.
func (s *Service) PresignUpload(ctx context.Context, req UploadRequest) (*Upload, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	name := path.Base(strings.ReplaceAll(req.Filename, "\\", "/"))
	key := fmt.Sprintf("uploads/%s/%d_%s", req.LoanID, s.now().UnixMilli(), name)

	url, err := s.objects.PresignPut(ctx, key, req.ContentType, s.ttl)
	if err != nil {
		s.logger.Error("presign upload failed", "key", key, "error", err)
		return nil, errors.New("Failed to generate upload URL. Please try again.")
	}
	return &Upload{PresignedURL: url, Key: key, ExpiresIn: int(s.ttl.Seconds())}, nil
}
