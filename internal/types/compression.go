package types

import "math"

// bytesPerMB converts between bytes and the megabyte unit used by the HTTP API.
const bytesPerMB = 1024 * 1024

// Attempt is one point on the compression ladder.
type Attempt struct {
	Resolution int    `json:"dpi" yaml:"dpi"`
	Quality    int    `json:"quality" yaml:"quality"`
	Label      string `json:"description" yaml:"description"`
}

// Ladder is an ordered sequence of attempts from mildest to most aggressive.
type Ladder []Attempt

// DefaultLadder returns the built-in ladder used when configuration supplies none.
func DefaultLadder() Ladder {
	return Ladder{
		{Resolution: 150, Quality: 80, Label: "High quality"},
		{Resolution: 120, Quality: 70, Label: "Good quality"},
		{Resolution: 96, Quality: 60, Label: "Medium quality"},
		{Resolution: 72, Quality: 50, Label: "Low quality"},
		{Resolution: 50, Quality: 40, Label: "Very low quality"},
		{Resolution: 36, Quality: 30, Label: "Minimal quality"},
		{Resolution: 30, Quality: 25, Label: "Super compressed"},
		{Resolution: 24, Quality: 20, Label: "Heavy compression"},
		{Resolution: 20, Quality: 15, Label: "Maximum compression"},
		{Resolution: 15, Quality: 10, Label: "Extreme compression"},
		{Resolution: 10, Quality: 5, Label: "Ultra compression"},
	}
}

// Limit returns the first n entries, or the whole ladder when n <= 0 or n exceeds its length.
func (l Ladder) Limit(n int) Ladder {
	if n <= 0 || n >= len(l) {
		return l
	}
	return l[:n]
}

// OutcomeKind tags how a completed job produced its artifact.
type OutcomeKind string

const (
	// OutcomeTargetReached means a ladder entry produced an artifact within the target size.
	OutcomeTargetReached OutcomeKind = "target_reached"
	// OutcomeBestEffort means the ladder was exhausted without meeting the target.
	OutcomeBestEffort OutcomeKind = "best_effort"
	// OutcomeCustom means a single caller-chosen resolution/quality pair was used.
	OutcomeCustom OutcomeKind = "custom"
	// OutcomeUncompressed means the assembled document is served without compression.
	OutcomeUncompressed OutcomeKind = "uncompressed"
)

// SearchResult is the decision of a size-targeting search.
type SearchResult struct {
	InitialSize      int64
	FinalSize        int64
	ReductionPercent float64
	Attempt          Attempt
	TargetReached    bool
	AttemptsRun      int
	OutputPath       string
}

// Kind returns the outcome tag for an automatic search.
func (r *SearchResult) Kind() OutcomeKind {
	if r.TargetReached {
		return OutcomeTargetReached
	}
	return OutcomeBestEffort
}

// ReductionPercent returns the size reduction of final relative to initial, or 0 when
// initial is not positive.
func ReductionPercent(initial, final int64) float64 {
	if initial <= 0 {
		return 0
	}
	return float64(initial-final) / float64(initial) * 100
}

// BytesToMB converts a byte count to megabytes.
func BytesToMB(n int64) float64 {
	return float64(n) / bytesPerMB
}

// MBToBytes converts megabytes to a byte count.
func MBToBytes(mb float64) int64 {
	return int64(mb * bytesPerMB)
}

// CompressionReport is the caller-facing summary of a finished job.
type CompressionReport struct {
	Kind             OutcomeKind `json:"outcome"`
	OriginalSizeMB   float64     `json:"original_size_mb"`
	CompressedSizeMB float64     `json:"compressed_size_mb"`
	ReductionPercent float64     `json:"reduction_percent"`
	ConfigUsed       *Attempt    `json:"config_used,omitempty"`
	TargetReached    bool        `json:"target_reached"`
	Pages            int         `json:"pages,omitempty"`
}

// NewReport builds a report from a search result, rounding the user-facing numbers.
func NewReport(kind OutcomeKind, r *SearchResult) *CompressionReport {
	attempt := r.Attempt
	report := &CompressionReport{
		Kind:             kind,
		OriginalSizeMB:   round(BytesToMB(r.InitialSize), 2),
		CompressedSizeMB: round(BytesToMB(r.FinalSize), 2),
		ReductionPercent: round(r.ReductionPercent, 1),
		TargetReached:    r.TargetReached,
	}
	if attempt != (Attempt{}) {
		report.ConfigUsed = &attempt
	}
	return report
}

func round(v float64, places int) float64 {
	scale := math.Pow10(places)
	return math.Round(v*scale) / scale
}

// Preset is a named compression setting offered to clients.
type Preset struct {
	Name        string `json:"name" yaml:"name"`
	Label       string `json:"label" yaml:"label"`
	Resolution  int    `json:"dpi" yaml:"dpi"`
	Quality     int    `json:"quality" yaml:"quality"`
	Description string `json:"description" yaml:"description"`
}
