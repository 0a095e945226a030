package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/docsplit/internal/taxonomy"
	"github.com/jackzampolin/docsplit/internal/types"
)

// Memory implements Store in process memory. It backs unit tests and the
// `memory` database driver used for local experiments.
//
// Multi-row operations hold the write lock for their whole duration, which
// gives them the same all-or-nothing visibility as a transaction.
type Memory struct {
	mu        sync.RWMutex
	jobs      map[string]*types.Job
	segments  map[string]*types.Segment
	snapshots map[string]*taxonomy.Snapshot

	// Now overrides the clock for tests.
	Now func() time.Time

	// --- Error injection fields for testing ---

	// FailJobErr is returned by FailJob when non-nil.
	FailJobErr error
	// SetStatusErr is returned by SetJobStatus when non-nil.
	SetStatusErr error
	// SetHandleErr is returned by SetJobHandle when non-nil.
	SetHandleErr error
	// CompleteErr is returned by CompleteClassification when non-nil.
	CompleteErr error
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:      make(map[string]*types.Job),
		segments:  make(map[string]*types.Segment),
		snapshots: make(map[string]*taxonomy.Snapshot),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func copyJob(j *types.Job) *types.Job {
	c := *j
	return &c
}

func copySegment(s *types.Segment) *types.Segment {
	c := *s
	return &c
}

// --- Jobs ---

func (m *Memory) CreateJob(ctx context.Context, job *types.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, j := range m.jobs {
		if j.SourceFileKey == job.SourceFileKey {
			return ErrDuplicateSource
		}
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := m.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = types.JobPending
	}
	m.jobs[job.ID] = copyJob(job)
	return nil
}

func (m *Memory) GetJob(ctx context.Context, id string) (*types.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, JobNotFound()
	}
	return copyJob(j), nil
}

func (m *Memory) FindJobBySourceKey(ctx context.Context, key string) (*types.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, j := range m.jobs {
		if j.SourceFileKey == key {
			return copyJob(j), nil
		}
	}
	return nil, JobNotFound()
}

func (m *Memory) ListJobs(ctx context.Context, userID string) ([]types.JobListItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []types.JobListItem
	for _, j := range m.jobs {
		if j.UserID != userID {
			continue
		}
		out = append(out, types.JobListItem{Job: copyJob(j), SegmentCount: m.countLocked(j.ID)})
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out, nil
}

func (m *Memory) JobStatuses(ctx context.Context, userID string, ids []string) (map[string]types.JobStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]types.JobStatus, len(ids))
	for _, id := range ids {
		if j, ok := m.jobs[id]; ok && j.UserID == userID {
			out[id] = j.Status
		}
	}
	return out, nil
}

func (m *Memory) Dashboard(ctx context.Context, userID string, now time.Time) (*types.DashboardStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &types.DashboardStats{JobsByStatus: make(map[types.JobStatus]int)}
	since := now.Add(-RecentWindow)
	var finished []*types.Job
	for _, j := range m.jobs {
		if j.UserID != userID {
			continue
		}
		stats.JobsByStatus[j.Status]++
		if !j.CreatedAt.Before(since) {
			stats.RecentJobCount++
		}
		if j.Status == types.JobCompleted && j.TotalPages != nil {
			stats.TotalPages += *j.TotalPages
		}
		if j.Status == types.JobCompleted || j.Status == types.JobFailed {
			finished = append(finished, j)
		}
		for _, s := range m.segments {
			if s.JobID == j.ID && s.RequiresReview {
				stats.ReviewCount++
			}
		}
	}

	sort.Slice(finished, func(a, b int) bool {
		return completedAt(finished[a]).After(completedAt(finished[b]))
	})
	if len(finished) > RecentActivityLimit {
		finished = finished[:RecentActivityLimit]
	}
	stats.RecentActivity = make([]types.JobListItem, 0, len(finished))
	for _, j := range finished {
		stats.RecentActivity = append(stats.RecentActivity, types.JobListItem{
			Job:          copyJob(j),
			SegmentCount: m.countLocked(j.ID),
		})
	}
	return stats, nil
}

func completedAt(j *types.Job) time.Time {
	if j.CompletedAt == nil {
		return time.Time{}
	}
	return *j.CompletedAt
}

// ownedLocked returns job id if the run at attempt still owns it.
func (m *Memory) ownedLocked(id string, attempt int) (*types.Job, error) {
	j, ok := m.jobs[id]
	if !ok {
		return nil, JobNotFound()
	}
	if j.RetryCount != attempt || j.Status.IsTerminal() {
		return nil, ErrStaleRun
	}
	return j, nil
}

func (m *Memory) SetJobStatus(ctx context.Context, id string, attempt int, status types.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetStatusErr != nil {
		return m.SetStatusErr
	}
	j, err := m.ownedLocked(id, attempt)
	if err != nil {
		return err
	}
	now := m.now()
	j.Status = status
	switch status {
	case types.JobIngesting:
		j.StartedAt = timePtr(now)
	case types.JobCompleted, types.JobFailed:
		j.CompletedAt = timePtr(now)
	}
	j.UpdatedAt = now
	return nil
}

func (m *Memory) FailJob(ctx context.Context, id string, attempt int, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailJobErr != nil {
		return m.FailJobErr
	}
	j, err := m.ownedLocked(id, attempt)
	if err != nil {
		return err
	}
	now := m.now()
	j.Status = types.JobFailed
	j.ErrorMessage = strPtr(message)
	j.CompletedAt = timePtr(now)
	j.UpdatedAt = now
	return nil
}

func (m *Memory) CancelJob(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return JobNotFound()
	}
	now := m.now()
	j.Status = types.JobCancelled
	j.CompletedAt = timePtr(now)
	j.UpdatedAt = now
	return nil
}

func (m *Memory) SetJobHandle(ctx context.Context, id string, kind HandleKind, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetHandleErr != nil {
		return m.SetHandleErr
	}
	j, ok := m.jobs[id]
	if !ok {
		return JobNotFound()
	}
	var v *string
	if value != "" {
		v = strPtr(value)
	}
	switch kind {
	case HandleRun:
		j.RunHandle = v
	case HandleExternalFile:
		j.ExternalFileHandle = v
	case HandleClassifyFile:
		j.ClassifyFileHandle = v
	case HandleSplitJob:
		j.SplitJobHandle = v
	case HandleTaxonomySnapshot:
		j.TaxonomySnapshotID = v
	default:
		return types.Validationf("unknown job handle %q", kind)
	}
	j.UpdatedAt = m.now()
	return nil
}

func (m *Memory) ResetJobForRetry(ctx context.Context, id string, from types.Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return JobNotFound()
	}
	now := m.now()
	j.Status = types.JobPending
	j.RetryCount++
	j.ErrorMessage = nil
	j.CompletedAt = nil
	j.RunHandle = nil
	if from == types.StageAll {
		j.StartedAt = nil
	}
	j.UpdatedAt = now

	for _, s := range m.segments {
		if s.JobID != id || s.Status == types.SegmentCompleted {
			continue
		}
		resetSegmentForRetry(s, from)
		s.UpdatedAt = now
	}
	return nil
}

func resetSegmentForRetry(s *types.Segment, from types.Stage) {
	s.ErrorMessage = nil
	switch from {
	case types.StageClassifying:
		s.Status = types.SegmentPending
		s.Subtype = nil
		s.Confidence = nil
		s.ConfidenceTier = nil
		s.Reasoning = nil
		s.RequiresReview = false
		s.Folder = nil
		s.OutputFileKey = nil
		s.SuggestedFilename = nil
	case types.StageFinalizing:
		s.Status = types.SegmentCompleted
		s.OutputFileKey = nil
		s.SuggestedFilename = nil
	default:
		s.Status = types.SegmentPending
	}
}

// --- Segments ---

func (m *Memory) CreateSegments(ctx context.Context, jobID string, attempt int, segments []types.NewSegment, totalPages int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.ownedLocked(jobID, attempt)
	if err != nil {
		return err
	}
	for _, s := range m.segments {
		if s.JobID != jobID {
			continue
		}
		for _, n := range segments {
			if s.SegmentIndex == n.SegmentIndex {
				return types.Validationf("segment index %d already exists for job", n.SegmentIndex)
			}
		}
	}

	now := m.now()
	for _, n := range segments {
		conf := n.BucketConfidence
		tier := n.BucketConfidenceTier
		id := uuid.NewString()
		m.segments[id] = &types.Segment{
			ID:                   id,
			JobID:                jobID,
			SegmentIndex:         n.SegmentIndex,
			PageStart:            n.PageStart,
			PageEnd:              n.PageEnd,
			Bucket:               n.Bucket,
			BucketConfidence:     &conf,
			BucketConfidenceTier: &tier,
			Status:               types.SegmentPending,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
	}
	tp := totalPages
	j.TotalPages = &tp
	j.UpdatedAt = now
	return nil
}

func (m *Memory) ListSegments(ctx context.Context, jobID string) ([]*types.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.Segment
	for _, s := range m.segments {
		if s.JobID == jobID {
			out = append(out, copySegment(s))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].SegmentIndex < out[b].SegmentIndex })
	return out, nil
}

func (m *Memory) GetSegment(ctx context.Context, id string) (*types.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.segments[id]
	if !ok {
		return nil, SegmentNotFound()
	}
	return copySegment(s), nil
}

func (m *Memory) CountSegments(ctx context.Context, jobID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countLocked(jobID), nil
}

func (m *Memory) countLocked(jobID string) int {
	n := 0
	for _, s := range m.segments {
		if s.JobID == jobID {
			n++
		}
	}
	return n
}

func (m *Memory) ResetInterruptedSegments(ctx context.Context, jobID string, attempt int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.ownedLocked(jobID, attempt); err != nil {
		return 0, err
	}
	n := 0
	now := m.now()
	for _, s := range m.segments {
		if s.JobID != jobID {
			continue
		}
		if s.Status == types.SegmentClassifying || s.Status == types.SegmentFailed {
			s.Status = types.SegmentPending
			s.ErrorMessage = nil
			s.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (m *Memory) segmentLocked(id string) (*types.Segment, error) {
	s, ok := m.segments[id]
	if !ok {
		return nil, SegmentNotFound()
	}
	return s, nil
}

// ownedSegmentLocked returns a segment whose job the run at attempt still
// owns.
func (m *Memory) ownedSegmentLocked(id string, attempt int) (*types.Segment, error) {
	s, err := m.segmentLocked(id)
	if err != nil {
		return nil, err
	}
	if _, err := m.ownedLocked(s.JobID, attempt); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Memory) StartClassification(ctx context.Context, segmentID string, attempt int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.ownedSegmentLocked(segmentID, attempt)
	if err != nil {
		return err
	}
	now := m.now()
	s.Status = types.SegmentClassifying
	s.ClassificationStartedAt = timePtr(now)
	s.UpdatedAt = now
	return nil
}

func (m *Memory) CompleteClassification(ctx context.Context, segmentID string, attempt int, c types.Classification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CompleteErr != nil {
		return m.CompleteErr
	}
	s, err := m.ownedSegmentLocked(segmentID, attempt)
	if err != nil {
		return err
	}
	now := m.now()
	conf := c.Confidence
	tier := c.Tier
	s.Subtype = c.Subtype
	s.Confidence = &conf
	s.ConfidenceTier = &tier
	s.Reasoning = nil
	if c.Reasoning != "" {
		s.Reasoning = strPtr(c.Reasoning)
	}
	s.RequiresReview = c.RequiresReview
	s.Folder = c.Folder
	s.Status = types.SegmentCompleted
	s.ErrorMessage = nil
	s.ClassificationCompletedAt = timePtr(now)
	s.UpdatedAt = now
	return nil
}

func (m *Memory) FailClassification(ctx context.Context, segmentID string, attempt int, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.ownedSegmentLocked(segmentID, attempt)
	if err != nil {
		return err
	}
	now := m.now()
	s.Status = types.SegmentFailed
	s.ErrorMessage = strPtr(message)
	s.ClassificationCompletedAt = timePtr(now)
	s.UpdatedAt = now
	return nil
}

func (m *Memory) SetSegmentOutput(ctx context.Context, segmentID string, attempt int, key, filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.ownedSegmentLocked(segmentID, attempt)
	if err != nil {
		return err
	}
	s.OutputFileKey = strPtr(key)
	s.SuggestedFilename = strPtr(filename)
	s.UpdatedAt = m.now()
	return nil
}

func (m *Memory) ApplyMerge(ctx context.Context, plan types.MergePlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	keeper, ok := m.segments[plan.KeeperID]
	if !ok || keeper.JobID != plan.JobID {
		return SegmentNotFound()
	}
	for _, id := range plan.DeleteIDs {
		if s, ok := m.segments[id]; !ok || s.JobID != plan.JobID {
			return SegmentNotFound()
		}
	}

	now := m.now()
	keeper.PageEnd = plan.PageEnd
	keeper.OutputFileKey = strPtr(plan.OutputFileKey)
	keeper.SuggestedFilename = strPtr(plan.SuggestedFilename)
	keeper.UpdatedAt = now
	for _, id := range plan.DeleteIDs {
		delete(m.segments, id)
	}

	// The lock makes a single renumbering pass safe; there is no unique index
	// to collide with mid-update.
	var remaining []*types.Segment
	for _, s := range m.segments {
		if s.JobID == plan.JobID {
			remaining = append(remaining, s)
		}
	}
	sort.Slice(remaining, func(a, b int) bool { return remaining[a].PageStart < remaining[b].PageStart })
	for i, s := range remaining {
		if s.SegmentIndex != i+1 {
			s.SegmentIndex = i + 1
			s.UpdatedAt = now
		}
	}
	return nil
}

func (m *Memory) ApplyCorrection(ctx context.Context, segmentID string, c types.Correction) (*types.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.segmentLocked(segmentID)
	if err != nil {
		return nil, err
	}
	if !s.ManuallyClassified {
		ob := s.Bucket
		s.OriginalBucket = &ob
		s.OriginalSubtype = s.Subtype
	}
	now := m.now()
	tier := types.TierHigh
	s.Bucket = c.Bucket
	s.Subtype = strPtr(c.Subtype)
	s.Folder = c.Folder
	s.ConfidenceTier = &tier
	s.RequiresReview = false
	s.ManuallyClassified = true
	s.ClassifiedBy = strPtr(c.UserID)
	s.ClassifiedAt = timePtr(now)
	s.UpdatedAt = now
	return copySegment(s), nil
}

// --- Taxonomy snapshots ---

func (m *Memory) SaveTaxonomySnapshot(ctx context.Context, snap *taxonomy.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[snap.ID]; ok {
		return nil
	}
	m.snapshots[snap.ID] = snap
	return nil
}

func (m *Memory) GetTaxonomySnapshot(ctx context.Context, id string) (*taxonomy.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snapshots[id]
	if !ok {
		return nil, SnapshotNotFound()
	}
	return snap, nil
}
