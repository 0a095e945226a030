package process_document

import (
	"context"
	"fmt"

	"github.com/jackzampolin/docsplit/internal/jobs"
	"github.com/jackzampolin/docsplit/internal/objectstore"
	"github.com/jackzampolin/docsplit/internal/pdf"
	"github.com/jackzampolin/docsplit/internal/types"
)

// finalize writes one PDF per completed segment that has no output yet.
// Outputs written before a failure are kept.
func (j *Job) finalize(ctx context.Context, job *types.Job) error {
	logger := j.logger.With("stage", "finalize")

	all, err := j.cfg.Store.ListSegments(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to list segments: %w", err)
	}
	var todo []*types.Segment
	for _, s := range all {
		if s.Status == types.SegmentCompleted && derefString(s.OutputFileKey) == "" {
			todo = append(todo, s)
		}
	}
	if len(todo) == 0 {
		logger.Info("no segments to finalize")
		return nil
	}

	data, err := j.source(ctx, job)
	if err != nil {
		return err
	}
	doc, err := pdf.Open(data)
	if err != nil {
		return fmt.Errorf("failed to read source PDF: %w", err)
	}

	logger.Info("extracting segments", "segments", len(todo), "source_pages", doc.PageCount(), "concurrency", j.cfg.Concurrency)

	results := jobs.Map(ctx, todo, j.cfg.Concurrency, func(ctx context.Context, seg *types.Segment) error {
		return j.finalizeSegment(ctx, job, doc, seg)
	})
	if err := checkCancelled(ctx); err != nil {
		return err
	}
	if anyStale(results) {
		return ErrCancelled
	}

	outcome := jobs.Summarize(results)
	logger.Info("finalize done", "segments", outcome.Total, "failed", outcome.Failed)
	if !outcome.OK() {
		return fmt.Errorf("%d of %d segments failed to finalize: %w", outcome.Failed, outcome.Total, outcome.FirstErr)
	}
	return nil
}

func (j *Job) finalizeSegment(ctx context.Context, job *types.Job, doc *pdf.Document, seg *types.Segment) error {
	logger := j.logger.With("stage", "finalize", "segment_id", seg.ID, "segment_index", seg.SegmentIndex)

	filename := types.SuggestedFilename(seg.SegmentIndex, seg.Subtype)
	key := types.OutputKey(job.LoanID, job.ID, filename)

	body, err := doc.Extract(seg.PageStart, seg.PageEnd)
	if err != nil {
		logger.Error("extraction failed", "pages", seg.PageLabel(), "error", err)
		return fmt.Errorf("segment %d: %w", seg.SegmentIndex, err)
	}

	err = jobs.Retry(ctx, j.cfg.Backoff, j.cfg.Attempts, func(ctx context.Context) error {
		if err := j.cfg.Objects.Put(ctx, key, body, objectstore.ContentTypePDF); err != nil {
			return fmt.Errorf("failed to upload %s: %w", key, err)
		}
		if err := j.cfg.Store.SetSegmentOutput(ctx, seg.ID, j.attempt, key, filename); err != nil {
			return persist(fmt.Errorf("failed to save output for segment %d: %w", seg.SegmentIndex, err))
		}
		return nil
	}, j.onRetry(logger))
	if err != nil {
		logger.Error("finalize failed", "attempts", j.cfg.Attempts, "error", err)
		return err
	}

	logger.Debug("segment finalized", "key", key, "bytes", len(body))
	return nil
}
