package process_document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/docsplit/internal/jobs"
	"github.com/jackzampolin/docsplit/internal/pdf"
	"github.com/jackzampolin/docsplit/internal/providers"
	"github.com/jackzampolin/docsplit/internal/store"
	"github.com/jackzampolin/docsplit/internal/taxonomy"
	"github.com/jackzampolin/docsplit/internal/types"
)

// classifyTarget is what the classifier reads pages from: a registered file
// handle or the parsed source document.
type classifyTarget struct {
	fileHandle string
	doc        *pdf.Document
}

// classify assigns a subtype to every pending segment.
func (j *Job) classify(ctx context.Context, job *types.Job) error {
	logger := j.logger.With("stage", "classify", "classifier", j.cfg.Classifier.Name())

	reset, err := j.cfg.Store.ResetInterruptedSegments(ctx, job.ID, j.attempt)
	if err != nil {
		return fmt.Errorf("failed to reset interrupted segments: %w", err)
	}
	if reset > 0 {
		logger.Info("reset interrupted segments", "count", reset)
	}

	all, err := j.cfg.Store.ListSegments(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to list segments: %w", err)
	}
	var pending []*types.Segment
	for _, s := range all {
		if s.Status == types.SegmentPending {
			pending = append(pending, s)
		}
	}
	if len(pending) == 0 {
		logger.Info("no segments to classify")
		return nil
	}

	snap, err := j.snapshot(ctx, job)
	if err != nil {
		return err
	}
	rules := snap.RulesByBucket()

	var target classifyTarget
	if needsClassifier(pending, rules) {
		target, err = j.classifyTarget(ctx, job, logger)
		if err != nil {
			return err
		}
	}

	logger.Info("classifying segments", "segments", len(pending), "concurrency", j.cfg.Concurrency)

	results := jobs.Map(ctx, pending, j.cfg.Concurrency, func(ctx context.Context, seg *types.Segment) error {
		return j.classifySegment(ctx, seg, rules[seg.Bucket], target)
	})
	if err := checkCancelled(ctx); err != nil {
		return err
	}
	if anyStale(results) {
		return ErrCancelled
	}
	outcome := jobs.Summarize(results)

	review := 0
	if after, err := j.cfg.Store.ListSegments(ctx, job.ID); err == nil {
		for _, s := range after {
			if s.RequiresReview {
				review++
			}
		}
	}
	logger.Info("classification done", "segments", outcome.Total, "failed", outcome.Failed, "review", review)

	if outcome.OK() {
		return nil
	}
	err = fmt.Errorf("%d of %d segments failed classification", outcome.Failed, outcome.Total)
	if j.cfg.AllowPartial {
		logger.Warn("continuing with failed segments", "error", err)
		return nil
	}
	return err
}

// snapshot returns the taxonomy the job was split against, or the built-in
// taxonomy for jobs that predate snapshots.
func (j *Job) snapshot(ctx context.Context, job *types.Job) (*taxonomy.Snapshot, error) {
	id := derefString(job.TaxonomySnapshotID)
	if id == "" {
		return taxonomy.Builtin(), nil
	}
	snap, err := j.cfg.Store.GetTaxonomySnapshot(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load taxonomy snapshot %s: %w", id, err)
	}
	return snap, nil
}

func needsClassifier(segments []*types.Segment, rules map[types.Bucket][]taxonomy.Rule) bool {
	for _, s := range segments {
		if len(rules[s.Bucket]) > 0 {
			return true
		}
	}
	return false
}

// classifyTarget prepares the input the configured classifier reads. A file
// registered for classification is reused across runs.
func (j *Job) classifyTarget(ctx context.Context, job *types.Job, logger *slog.Logger) (classifyTarget, error) {
	if j.cfg.Classifier.Input() == providers.InputDocument {
		data, err := j.source(ctx, job)
		if err != nil {
			return classifyTarget{}, err
		}
		doc, err := pdf.Open(data)
		if err != nil {
			return classifyTarget{}, err
		}
		return classifyTarget{doc: doc}, nil
	}

	if h := derefString(job.ClassifyFileHandle); h != "" {
		return classifyTarget{fileHandle: h}, nil
	}
	data, err := j.source(ctx, job)
	if err != nil {
		return classifyTarget{}, err
	}
	handle, err := j.cfg.Files.RegisterFile(ctx, job.SourceFileName, data, providers.PurposeClassify)
	if err != nil {
		return classifyTarget{}, fmt.Errorf("failed to register file for classification: %w", err)
	}
	if err := j.cfg.Store.SetJobHandle(ctx, job.ID, store.HandleClassifyFile, handle); err != nil {
		return classifyTarget{}, fmt.Errorf("failed to save classify file handle: %w", err)
	}
	job.ClassifyFileHandle = &handle
	logger.Info("source registered for classification", "file_handle", handle)
	return classifyTarget{fileHandle: handle}, nil
}

// classifySegment classifies one segment with retries and persists the
// outcome. It returns an error only when the segment ends up FAILED or the
// run is cancelled.
func (j *Job) classifySegment(ctx context.Context, seg *types.Segment, rules []taxonomy.Rule, target classifyTarget) error {
	logger := j.logger.With("stage", "classify", "segment_id", seg.ID, "segment_index", seg.SegmentIndex)

	if len(rules) == 0 {
		if err := j.cfg.Store.CompleteClassification(ctx, seg.ID, j.attempt, needsReview()); err != nil {
			return fmt.Errorf("failed to save segment %d: %w", seg.SegmentIndex, err)
		}
		logger.Info("no rules for bucket, flagged for review", "bucket", string(seg.Bucket))
		return nil
	}

	if err := j.cfg.Store.StartClassification(ctx, seg.ID, j.attempt); err != nil {
		return fmt.Errorf("failed to start segment %d: %w", seg.SegmentIndex, err)
	}

	err := jobs.Retry(ctx, j.cfg.Backoff, j.cfg.Attempts, func(ctx context.Context) error {
		return j.classifyAndSave(ctx, seg, rules, target, logger)
	}, j.onRetry(logger))
	if err == nil {
		return nil
	}
	if cerr := checkCancelled(ctx); cerr != nil {
		return cerr
	}
	if errors.Is(err, store.ErrStaleRun) {
		return err
	}

	logger.Error("classification failed", "attempts", j.cfg.Attempts, "error", err)
	if ferr := j.cfg.Store.FailClassification(ctx, seg.ID, j.attempt, err.Error()); ferr != nil {
		logger.Error("failed to record segment failure", "error", ferr)
	}
	return err
}

// classifyAndSave classifies the segment's pages in batches of PageLimit,
// keeps the most confident answer and writes it. A result that arrives after
// the run was cancelled is dropped.
func (j *Job) classifyAndSave(ctx context.Context, seg *types.Segment, rules []taxonomy.Rule, target classifyTarget, logger *slog.Logger) error {
	req := providers.ClassifyRequest{
		FileHandle: target.fileHandle,
		Document:   target.doc,
		Rules:      classifyRules(rules),
	}

	batches := chunk(targetPages(seg.PageStart, seg.PageEnd), j.cfg.PageLimit)
	var best *providers.ClassifyResult
	for _, batch := range batches {
		req.TargetPages = batch
		res, err := j.cfg.Classifier.Classify(ctx, &req)
		if err != nil {
			return err
		}
		if res != nil && (best == nil || res.Confidence > best.Confidence) {
			best = res
		}
	}

	if err := checkCancelled(ctx); err != nil {
		return jobs.Permanent(err)
	}

	if best == nil {
		if err := j.cfg.Store.CompleteClassification(ctx, seg.ID, j.attempt, needsReview()); err != nil {
			return persist(err)
		}
		logger.Info("no result from classifier, flagged for review")
		return nil
	}

	tier, review := j.cfg.Thresholds.Tier(best.Confidence)
	var folder *string
	if best.Type != nil {
		folder = taxonomy.FolderFor(rules, *best.Type)
	}
	if err := j.cfg.Store.CompleteClassification(ctx, seg.ID, j.attempt, types.Classification{
		Subtype:        best.Type,
		Confidence:     best.Confidence,
		Tier:           tier,
		Reasoning:      best.Reasoning,
		RequiresReview: review,
		Folder:         folder,
	}); err != nil {
		return persist(err)
	}

	logger.Info("segment classified",
		"subtype", derefString(best.Type),
		"confidence", best.Confidence,
		"tier", string(tier),
		"batches", len(batches))
	return nil
}

// needsReview is the result recorded when nothing could be predicted.
func needsReview() types.Classification {
	return types.Classification{Confidence: 0, Tier: types.TierLow, RequiresReview: true}
}

func classifyRules(rules []taxonomy.Rule) []providers.ClassifyRule {
	out := make([]providers.ClassifyRule, len(rules))
	for i, r := range rules {
		out[i] = providers.ClassifyRule{Type: r.Type, Description: r.Description}
	}
	return out
}

// targetPages converts a 1-based inclusive range to 0-based page numbers.
func targetPages(start, end int) []int {
	pages := make([]int, 0, end-start+1)
	for p := start; p <= end; p++ {
		pages = append(pages, p-1)
	}
	return pages
}

func chunk(pages []int, size int) [][]int {
	if size <= 0 {
		size = len(pages)
	}
	var out [][]int
	for i := 0; i < len(pages); i += size {
		end := min(i+size, len(pages))
		out = append(out, pages[i:end])
	}
	return out
}
