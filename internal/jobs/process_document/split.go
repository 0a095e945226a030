package process_document

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jackzampolin/docsplit/internal/pdf"
	"github.com/jackzampolin/docsplit/internal/providers"
	"github.com/jackzampolin/docsplit/internal/store"
	"github.com/jackzampolin/docsplit/internal/taxonomy"
	"github.com/jackzampolin/docsplit/internal/types"
)

// split sends the registered source to the split service and stores one
// segment per returned page group. Jobs that already have segments are not
// split again.
func (j *Job) split(ctx context.Context, job *types.Job) error {
	logger := j.logger.With("stage", "split")

	existing, err := j.cfg.Store.CountSegments(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to count segments: %w", err)
	}
	if existing > 0 {
		logger.Info("segments already exist, skipping split", "segments", existing)
		return nil
	}

	fileHandle := derefString(job.ExternalFileHandle)
	if fileHandle == "" {
		return fmt.Errorf("source file has not been registered")
	}

	snap, err := j.snapshotForSplit(ctx, job, logger)
	if err != nil {
		return err
	}

	cats := snap.SplitCategories()
	categories := make([]providers.SplitCategory, len(cats))
	for i, c := range cats {
		categories[i] = providers.SplitCategory{Name: c.Name, Description: c.Description}
	}

	splitID, err := j.cfg.Splitter.CreateSplitJob(ctx, fileHandle, categories)
	if err != nil {
		return err
	}
	if err := j.cfg.Store.SetJobHandle(ctx, job.ID, store.HandleSplitJob, splitID); err != nil {
		return fmt.Errorf("failed to save split job handle: %w", err)
	}
	logger.Info("split job created", "split_job", splitID, "categories", len(categories))

	result, err := providers.WaitForSplit(ctx, j.cfg.Splitter, splitID, j.cfg.Poll)
	if err != nil {
		return err
	}
	if result.Status == providers.SplitStatusFailed {
		msg := derefString(result.ErrorMessage)
		if msg == "" {
			msg = "unknown error"
		}
		return fmt.Errorf("LlamaSplit failed: %s", msg)
	}

	segments, totalPages := buildSegments(result.Segments)
	if len(segments) == 0 {
		totalPages = j.sourcePages(ctx, job, logger)
		logger.Warn("split returned no segments", "split_job", splitID, "total_pages", totalPages)
	}
	if err := j.cfg.Store.CreateSegments(ctx, job.ID, j.attempt, segments, totalPages); err != nil {
		return fmt.Errorf("failed to save segments: %w", err)
	}

	logger.Info("split complete", "segments", len(segments), "total_pages", totalPages)
	return nil
}

// sourcePages counts the source PDF's pages, or 0 when it cannot be read.
func (j *Job) sourcePages(ctx context.Context, job *types.Job, logger *slog.Logger) int {
	data, err := j.source(ctx, job)
	if err != nil {
		logger.Warn("source unavailable for page count", "error", err)
		return 0
	}
	n, err := pdf.PageCount(data)
	if err != nil {
		logger.Warn("source page count failed", "error", err)
		return 0
	}
	return n
}

// snapshotForSplit returns the job's taxonomy snapshot, capturing the
// current taxonomy on first use. An unreadable taxonomy file falls back to
// the built-in taxonomy.
func (j *Job) snapshotForSplit(ctx context.Context, job *types.Job, logger *slog.Logger) (*taxonomy.Snapshot, error) {
	if id := derefString(job.TaxonomySnapshotID); id != "" {
		snap, err := j.cfg.Store.GetTaxonomySnapshot(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load taxonomy snapshot %s: %w", id, err)
		}
		return snap, nil
	}

	snap := taxonomy.Builtin()
	if j.cfg.Taxonomy != nil {
		current, err := j.cfg.Taxonomy.Current()
		if err != nil {
			logger.Warn("taxonomy unavailable, using built-in", "error", err)
		} else {
			snap = current
		}
	}

	if err := j.cfg.Store.SaveTaxonomySnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to save taxonomy snapshot: %w", err)
	}
	if err := j.cfg.Store.SetJobHandle(ctx, job.ID, store.HandleTaxonomySnapshot, snap.ID); err != nil {
		return nil, fmt.Errorf("failed to record taxonomy snapshot: %w", err)
	}
	job.TaxonomySnapshotID = &snap.ID
	logger.Debug("taxonomy snapshot captured", "snapshot_id", snap.ID, "source", snap.Source)
	return snap, nil
}

// buildSegments converts split results into segment rows, numbered from 1 in
// result order. totalPages is the highest page seen. Groups without pages are
// dropped.
func buildSegments(in []providers.SplitSegment) ([]types.NewSegment, int) {
	out := make([]types.NewSegment, 0, len(in))
	totalPages := 0
	for _, s := range in {
		if len(s.Pages) == 0 {
			continue
		}
		pages := append([]int(nil), s.Pages...)
		sort.Ints(pages)
		start, end := pages[0], pages[len(pages)-1]
		if end > totalPages {
			totalPages = end
		}

		tier := types.ParseSplitConfidence(s.ConfidenceCategory)
		out = append(out, types.NewSegment{
			SegmentIndex:         len(out) + 1,
			PageStart:            start,
			PageEnd:              end,
			Bucket:               types.BucketForCategory(s.Category),
			BucketConfidence:     types.SplitConfidenceValue(tier),
			BucketConfidenceTier: tier,
		})
	}
	return out, totalPages
}
