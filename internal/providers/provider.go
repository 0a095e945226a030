package providers

import (
	"context"
	"time"

	"github.com/jackzampolin/docsplit/internal/pdf"
)

// FilePurpose tells the external service what a registered file is for.
type FilePurpose string

const (
	PurposeSplit    FilePurpose = "split"
	PurposeClassify FilePurpose = "classify"
)

// FileRegistrar registers source bytes with the external service and returns
// an opaque file handle.
type FileRegistrar interface {
	RegisterFile(ctx context.Context, name string, data []byte, purpose FilePurpose) (string, error)
}

// SplitCategory is a category offered to the split service.
type SplitCategory struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Split job statuses reported by the split service.
const (
	SplitStatusPending    = "pending"
	SplitStatusProcessing = "processing"
	SplitStatusCompleted  = "completed"
	SplitStatusFailed     = "failed"
)

// SplitSegment is one detected document within a split result. Pages are
// 1-based and may arrive unsorted.
type SplitSegment struct {
	Category           string `json:"category"`
	Pages              []int  `json:"pages"`
	ConfidenceCategory string `json:"confidence_category"`
}

// SplitJob is the state of an asynchronous split job.
type SplitJob struct {
	ID           string         `json:"id"`
	Status       string         `json:"status"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	Segments     []SplitSegment `json:"segments,omitempty"`
}

// Done reports whether the job reached a terminal status.
func (j *SplitJob) Done() bool {
	return j.Status == SplitStatusCompleted || j.Status == SplitStatusFailed
}

// Splitter creates and inspects asynchronous split jobs.
type Splitter interface {
	CreateSplitJob(ctx context.Context, fileHandle string, categories []SplitCategory) (string, error)
	GetSplitJob(ctx context.Context, jobID string) (*SplitJob, error)
}

// ClassifyRule is one candidate subtype offered to a classifier.
type ClassifyRule struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ClassifyInput says what a classifier reads.
type ClassifyInput int

const (
	// InputRegisteredFile classifiers read pages of a file registered with
	// purpose classify.
	InputRegisteredFile ClassifyInput = iota
	// InputDocument classifiers read the page bytes directly.
	InputDocument
)

// ClassifyRequest asks for the best subtype of a page batch.
type ClassifyRequest struct {
	// FileHandle is set for InputRegisteredFile classifiers.
	FileHandle string
	// Document is set for InputDocument classifiers.
	Document *pdf.Document
	// TargetPages are 0-based page indexes within the source.
	TargetPages []int
	Rules       []ClassifyRule
}

// ClassifyResult is the top prediction for a batch. Type is nil when the
// classifier matched no rule.
type ClassifyResult struct {
	Type       *string `json:"type"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Classifier predicts a subtype for a page batch. A nil result with a nil
// error means the service returned no prediction.
type Classifier interface {
	Name() string
	Input() ClassifyInput
	Classify(ctx context.Context, req *ClassifyRequest) (*ClassifyResult, error)
}

// Service is the full external document service used by the pipeline.
type Service interface {
	FileRegistrar
	Splitter
	Classifier
}

// PollConfig controls WaitForSplit.
type PollConfig struct {
	Interval    time.Duration // first wait (default 3s)
	MaxInterval time.Duration // wait cap (default 5s)
	Timeout     time.Duration // overall limit (default 300s)
}

// DefaultPollConfig returns 3s growing to 5s with a 300s limit.
func DefaultPollConfig() PollConfig {
	return PollConfig{Interval: 3 * time.Second, MaxInterval: 5 * time.Second, Timeout: 300 * time.Second}
}
