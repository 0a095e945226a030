// Package segments implements user edits to classified segments: merging
// adjacent segments and manual reclassification.
package segments

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackzampolin/docsplit/internal/objectstore"
	"github.com/jackzampolin/docsplit/internal/pdf"
	"github.com/jackzampolin/docsplit/internal/store"
	"github.com/jackzampolin/docsplit/internal/taxonomy"
	"github.com/jackzampolin/docsplit/internal/types"
)

// Merge limits on the number of selected segments.
const (
	MinMerge = 2
	MaxMerge = 50
)

// Config configures a Service.
type Config struct {
	Store   store.Store
	Objects objectstore.Store
	Logger  *slog.Logger
}

// Service applies merges and corrections.
type Service struct {
	store   store.Store
	objects objectstore.Store
	logger  *slog.Logger
}

// NewService creates a segment service.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: cfg.Store, objects: cfg.Objects, logger: logger}
}

// MergeResult identifies the segment that absorbed the others.
type MergeResult struct {
	MergedSegmentID string `json:"merged_segment_id"`
}

// Merge collapses adjacent completed segments into the one with the lowest
// page_start. The merged PDF is extracted and uploaded before the store
// update, and the store applies the keeper update, deletions and
// renumbering together.
func (s *Service) Merge(ctx context.Context, userID, jobID string, segmentIDs []string) (*MergeResult, error) {
	if len(segmentIDs) < MinMerge || len(segmentIDs) > MaxMerge {
		return nil, types.Validationf("Select between %d and %d segments to merge", MinMerge, MaxMerge)
	}
	job, err := store.OwnedJob(ctx, s.store, userID, jobID)
	if err != nil {
		return nil, err
	}

	selected, err := s.selectSegments(ctx, jobID, segmentIDs)
	if err != nil {
		return nil, err
	}
	for _, seg := range selected {
		if seg.Status != types.SegmentCompleted {
			return nil, types.Validationf("All segments must be completed before merging")
		}
	}
	sort.Slice(selected, func(a, b int) bool { return selected[a].PageStart < selected[b].PageStart })
	for i := 1; i < len(selected); i++ {
		if selected[i].PageStart != selected[i-1].PageEnd+1 {
			return nil, types.Validationf("Selected segments must be adjacent (no page gaps)")
		}
	}

	keeper := selected[0]
	pageEnd := selected[len(selected)-1].PageEnd
	deleteIDs := make([]string, 0, len(selected)-1)
	for _, seg := range selected[1:] {
		deleteIDs = append(deleteIDs, seg.ID)
	}

	source, err := s.objects.Get(ctx, job.SourceFileKey)
	if err != nil {
		return nil, fmt.Errorf("S3 download failed for %q: %w", job.SourceFileKey, err)
	}
	body, err := pdf.ExtractRange(source, keeper.PageStart, pageEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to extract merged pages: %w", err)
	}

	filename := types.SuggestedFilename(keeper.SegmentIndex, keeper.Subtype)
	key := types.OutputKey(job.LoanID, job.ID, filename)
	if err := s.objects.Put(ctx, key, body, objectstore.ContentTypePDF); err != nil {
		return nil, fmt.Errorf("failed to upload merged segment: %w", err)
	}

	if err := s.store.ApplyMerge(ctx, types.MergePlan{
		JobID:             jobID,
		KeeperID:          keeper.ID,
		PageEnd:           pageEnd,
		OutputFileKey:     key,
		SuggestedFilename: filename,
		DeleteIDs:         deleteIDs,
	}); err != nil {
		return nil, fmt.Errorf("failed to apply merge: %w", err)
	}

	s.logger.Info("segments merged",
		"job_id", jobID,
		"segment_id", keeper.ID,
		"merged", len(selected),
		"pages", fmt.Sprintf("%d-%d", keeper.PageStart, pageEnd))
	return &MergeResult{MergedSegmentID: keeper.ID}, nil
}

// selectSegments loads the requested segments of the job. Every id must be
// a distinct segment of the job.
func (s *Service) selectSegments(ctx context.Context, jobID string, ids []string) ([]*types.Segment, error) {
	all, err := s.store.ListSegments(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	byID := make(map[string]*types.Segment, len(all))
	for _, seg := range all {
		byID[seg.ID] = seg
	}

	seen := make(map[string]bool, len(ids))
	out := make([]*types.Segment, 0, len(ids))
	for _, id := range ids {
		seg, ok := byID[id]
		if !ok || seen[id] {
			return nil, types.Validationf("One or more segments not found in this job")
		}
		seen[id] = true
		out = append(out, seg)
	}
	return out, nil
}

// CorrectRequest is a manual reclassification of one segment.
type CorrectRequest struct {
	Bucket  string `json:"bucket"`
	Subtype string `json:"subtype"`
}

// Correct overrides a completed segment's bucket and subtype. The subtype
// must be a rule of the bucket in the job's taxonomy. The first correction
// keeps the original AI-assigned values.
func (s *Service) Correct(ctx context.Context, userID, jobID, segmentID string, req CorrectRequest) (*types.Segment, error) {
	job, err := store.OwnedJob(ctx, s.store, userID, jobID)
	if err != nil {
		return nil, err
	}

	seg, err := s.store.GetSegment(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	if seg.JobID != jobID {
		return nil, store.SegmentNotFound()
	}
	if seg.Status != types.SegmentCompleted {
		return nil, types.Validationf("Can only correct completed segments")
	}

	bucket, err := types.ParseBucket(req.Bucket)
	if err != nil {
		return nil, err
	}
	subtype := strings.TrimSpace(req.Subtype)
	if subtype == "" {
		return nil, types.Validationf("Missing required fields: subtype")
	}

	snap := taxonomy.Builtin()
	if id := job.TaxonomySnapshotID; id != nil && *id != "" {
		if snap, err = s.store.GetTaxonomySnapshot(ctx, *id); err != nil {
			return nil, fmt.Errorf("failed to load taxonomy snapshot: %w", err)
		}
	}
	rules := snap.RulesFor(bucket)
	if taxonomy.FindRule(rules, subtype) == nil {
		return nil, types.Validationf("Invalid subtype %q for bucket %q", subtype, string(bucket))
	}

	updated, err := s.store.ApplyCorrection(ctx, segmentID, types.Correction{
		Bucket:  bucket,
		Subtype: subtype,
		Folder:  taxonomy.FolderFor(rules, subtype),
		UserID:  userID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save correction: %w", err)
	}

	s.logger.Info("segment corrected",
		"job_id", jobID,
		"segment_id", segmentID,
		"bucket", string(bucket),
		"subtype", subtype,
		"user_id", userID)
	return updated, nil
}
