// Package types provides the job and segment model shared across packages.
// This package has no dependencies on other docsplit packages to avoid import cycles.
package types

import "strings"

// ConfidenceTier buckets a numeric confidence score.
type ConfidenceTier string

const (
	// TierHigh is accepted without review.
	TierHigh ConfidenceTier = "HIGH"
	// TierMedium is accepted but flagged for review.
	TierMedium ConfidenceTier = "MEDIUM"
	// TierLow is flagged for review.
	TierLow ConfidenceTier = "LOW"
)

// Representative numeric values for the categorical confidence the split
// service reports per segment.
const (
	SplitConfidenceHigh   = 0.95
	SplitConfidenceMedium = 0.75
	SplitConfidenceLow    = 0.45
)

// ParseSplitConfidence converts the split service's "high"/"medium"/"low"
// label to a tier. Unrecognized labels are treated as low.
func ParseSplitConfidence(s string) ConfidenceTier {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return TierHigh
	case "medium":
		return TierMedium
	default:
		return TierLow
	}
}

// SplitConfidenceValue returns the numeric stand-in for a split confidence tier.
func SplitConfidenceValue(tier ConfidenceTier) float64 {
	switch tier {
	case TierHigh:
		return SplitConfidenceHigh
	case TierMedium:
		return SplitConfidenceMedium
	default:
		return SplitConfidenceLow
	}
}

// Thresholds decide the tier and review flag for a classification score.
type Thresholds struct {
	AutoAccept    float64 `json:"auto_accept"`
	FlagForReview float64 `json:"flag_for_review"`
}

// DefaultThresholds returns the standard 0.85 / 0.60 cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{AutoAccept: 0.85, FlagForReview: 0.60}
}

// Tier maps a score to its tier and whether a human must review it.
// Scores at or above AutoAccept are HIGH, at or above FlagForReview MEDIUM,
// everything else LOW. Only HIGH skips review.
func (t Thresholds) Tier(confidence float64) (ConfidenceTier, bool) {
	if confidence >= t.AutoAccept {
		return TierHigh, false
	}
	if confidence >= t.FlagForReview {
		return TierMedium, true
	}
	return TierLow, true
}
