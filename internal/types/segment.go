package types

import (
	"fmt"
	"strings"
	"time"
)

// SegmentStatus is the classification state of a segment.
type SegmentStatus string

const (
	SegmentPending     SegmentStatus = "PENDING"
	SegmentClassifying SegmentStatus = "CLASSIFYING"
	SegmentCompleted   SegmentStatus = "COMPLETED"
	SegmentFailed      SegmentStatus = "FAILED"
)

// Bucket is the top-level document category assigned during split.
type Bucket string

const (
	BucketIncome      Bucket = "INCOME"
	BucketAssets      Bucket = "ASSETS"
	BucketTaxReturns  Bucket = "TAX_RETURNS"
	BucketProperty    Bucket = "PROPERTY"
	BucketCredit      Bucket = "CREDIT"
	BucketIdentity    Bucket = "IDENTITY"
	BucketDisclosures Bucket = "DISCLOSURES"
	BucketBusiness    Bucket = "BUSINESS"
	BucketAppraisal   Bucket = "APPRAISAL"
	BucketTitle       Bucket = "TITLE"
	BucketApplication Bucket = "APPLICATION"
	BucketFraud       Bucket = "FRAUD"
	BucketUnknown     Bucket = "UNKNOWN"
)

// AllBuckets lists every bucket, UNKNOWN last.
var AllBuckets = []Bucket{
	BucketIncome, BucketAssets, BucketTaxReturns, BucketProperty, BucketCredit,
	BucketIdentity, BucketDisclosures, BucketBusiness, BucketAppraisal, BucketTitle,
	BucketApplication, BucketFraud, BucketUnknown,
}

// BucketForCategory maps a split category name ("tax_returns") to its bucket.
// "uncategorized", "unknown" and unrecognized names map to UNKNOWN.
func BucketForCategory(category string) Bucket {
	b := Bucket(strings.ToUpper(strings.TrimSpace(category)))
	if b.Valid() {
		return b
	}
	return BucketUnknown
}

// ParseBucket validates a bucket name.
func ParseBucket(s string) (Bucket, error) {
	b := Bucket(strings.ToUpper(strings.TrimSpace(s)))
	if !b.Valid() {
		return "", Validationf("Invalid bucket %q", s)
	}
	return b, nil
}

// Valid reports whether b is a known bucket.
func (b Bucket) Valid() bool {
	for _, v := range AllBuckets {
		if b == v {
			return true
		}
	}
	return false
}

// Category returns the taxonomy category name for the bucket ("tax_returns").
// UNKNOWN has no rules and returns "".
func (b Bucket) Category() string {
	if b == BucketUnknown || !b.Valid() {
		return ""
	}
	return strings.ToLower(string(b))
}

// FolderName renders the bucket as a folder label ("TAX_RETURNS" -> "Tax Returns").
func (b Bucket) FolderName() string {
	if b == "" {
		return "Unknown"
	}
	words := strings.Split(string(b), "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

// Segment is one contiguous page range detected within a job.
type Segment struct {
	ID           string `json:"id"`
	JobID        string `json:"job_id"`
	SegmentIndex int    `json:"segment_index"`
	PageStart    int    `json:"page_start"`
	PageEnd      int    `json:"page_end"`

	Bucket               Bucket          `json:"bucket"`
	BucketConfidence     *float64        `json:"bucket_confidence,omitempty"`
	BucketConfidenceTier *ConfidenceTier `json:"bucket_confidence_tier,omitempty"`

	Subtype        *string         `json:"subtype,omitempty"`
	Confidence     *float64        `json:"confidence,omitempty"`
	ConfidenceTier *ConfidenceTier `json:"confidence_tier,omitempty"`
	Reasoning      *string         `json:"reasoning,omitempty"`
	RequiresReview bool            `json:"requires_review"`
	Folder         *string         `json:"folder,omitempty"`
	Status         SegmentStatus   `json:"status"`

	ManuallyClassified bool       `json:"manually_classified"`
	OriginalBucket     *Bucket    `json:"original_bucket,omitempty"`
	OriginalSubtype    *string    `json:"original_subtype,omitempty"`
	ClassifiedBy       *string    `json:"classified_by,omitempty"`
	ClassifiedAt       *time.Time `json:"classified_at,omitempty"`

	OutputFileKey     *string `json:"output_file_key,omitempty"`
	SuggestedFilename *string `json:"suggested_filename,omitempty"`

	ClassificationStartedAt   *time.Time `json:"classification_started_at,omitempty"`
	ClassificationCompletedAt *time.Time `json:"classification_completed_at,omitempty"`
	ErrorMessage              *string    `json:"error_message,omitempty"`
	CreatedAt                 time.Time  `json:"created_at"`
	UpdatedAt                 time.Time  `json:"updated_at"`
}

// PageCount returns the number of pages in the inclusive range.
func (s *Segment) PageCount() int {
	return s.PageEnd - s.PageStart + 1
}

// PageLabel renders the range as "7" or "5-12".
func (s *Segment) PageLabel() string {
	if s.PageStart == s.PageEnd {
		return fmt.Sprintf("%d", s.PageStart)
	}
	return fmt.Sprintf("%d-%d", s.PageStart, s.PageEnd)
}

// FolderLabel returns the segment's folder, falling back to the bucket name.
func (s *Segment) FolderLabel() string {
	if s.Folder != nil && *s.Folder != "" {
		return *s.Folder
	}
	return s.Bucket.FolderName()
}

// Filename returns the suggested filename, or the one it would get now.
func (s *Segment) Filename() string {
	if s.SuggestedFilename != nil && *s.SuggestedFilename != "" {
		return *s.SuggestedFilename
	}
	return SuggestedFilename(s.SegmentIndex, nil)
}

// SuggestedFilename builds "{index:03d}_{SUBTYPE}.pdf", using UNKNOWN when the
// subtype is missing.
func SuggestedFilename(index int, subtype *string) string {
	label := "UNKNOWN"
	if subtype != nil && *subtype != "" {
		label = strings.ToUpper(*subtype)
	}
	return fmt.Sprintf("%03d_%s.pdf", index, label)
}

// OutputKey is the object storage key for an extracted segment PDF.
func OutputKey(loanID, jobID, filename string) string {
	return fmt.Sprintf("outputs/%s/%s/%s", loanID, jobID, filename)
}

// NewSegment is the input for creating segments after split.
type NewSegment struct {
	SegmentIndex         int
	PageStart            int
	PageEnd              int
	Bucket               Bucket
	BucketConfidence     float64
	BucketConfidenceTier ConfidenceTier
}

// Classification is the outcome written for a classified segment.
type Classification struct {
	Subtype        *string
	Confidence     float64
	Tier           ConfidenceTier
	Reasoning      string
	RequiresReview bool
	Folder         *string
}

// Correction is a manual reclassification.
type Correction struct {
	Bucket  Bucket
	Subtype string
	Folder  *string
	UserID  string
}

// MergePlan describes a validated merge for the store to apply atomically.
type MergePlan struct {
	JobID             string
	KeeperID          string
	PageEnd           int
	OutputFileKey     string
	SuggestedFilename string
	DeleteIDs         []string
}
