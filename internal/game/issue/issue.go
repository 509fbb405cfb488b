// Package issue defines the closed vocabulary of chart-distortion techniques.
//
// The same enumeration is shared by training content, round target-issue
// generation, and scoring, so everything the engine reasons about stays in
// one tag space.
package issue

// Tag identifies one chart-distortion technique.
type Tag string

const (
	// TagNonZeroOriginAxis is a value axis that does not start at zero,
	// exaggerating small differences.
	TagNonZeroOriginAxis Tag = "non_zero_origin_axis"
	// TagInvertedAxis is a flipped value axis, so visual direction opposes
	// the underlying trend.
	TagInvertedAxis Tag = "inverted_axis"
	// TagCherryPickedRange is a data range trimmed to hide unfavorable periods.
	TagCherryPickedRange Tag = "cherry_picked_range"
	// TagMisleadingCallout is an annotation or label that misstates what the
	// underlying data shows.
	TagMisleadingCallout Tag = "misleading_callout"
	// TagUnequalTimeBuckets is a time axis with irregular intervals.
	TagUnequalTimeBuckets Tag = "unequal_time_buckets"
	// TagUnnormalizedComparison compares populations of different sizes
	// without normalizing.
	TagUnnormalizedComparison Tag = "unnormalized_comparison"
	// TagInappropriateAveraging aggregates data at a granularity that hides
	// volatility.
	TagInappropriateAveraging Tag = "inappropriate_averaging"
	// TagNonChronologicalOrdering orders time-series categories out of
	// sequence.
	TagNonChronologicalOrdering Tag = "non_chronological_ordering"
)

// all lists every tag in canonical order. Deterministic ordering matters:
// target-issue generation indexes into this slice.
var all = []Tag{
	TagNonZeroOriginAxis,
	TagInvertedAxis,
	TagCherryPickedRange,
	TagMisleadingCallout,
	TagUnequalTimeBuckets,
	TagUnnormalizedComparison,
	TagInappropriateAveraging,
	TagNonChronologicalOrdering,
}

// Tags returns every tag in canonical order. The returned slice is a copy.
func Tags() []Tag {
	out := make([]Tag, len(all))
	copy(out, all)
	return out
}

// Valid reports whether t is a member of the closed tag set.
func (t Tag) Valid() bool {
	for _, known := range all {
		if t == known {
			return true
		}
	}
	return false
}

// Stage is the training progress for one participant on one tag.
type Stage string

const (
	// StageNotStarted means the participant has not opened the lesson.
	StageNotStarted Stage = "not_started"
	// StageLearned means the participant has viewed the static explanation.
	StageLearned Stage = "learned"
	// StagePracticed means a semi-guided identification was judged correct.
	StagePracticed Stage = "practiced"
	// StageAnalyzed means identification and impact on a novel chart were
	// judged correct. Terminal for the tag.
	StageAnalyzed Stage = "analyzed"
)

var stageOrder = map[Stage]int{
	StageNotStarted: 0,
	StageLearned:    1,
	StagePracticed:  2,
	StageAnalyzed:   3,
}

// Next returns the stage that follows s, or false when s is terminal or
// unknown. Stages are strictly sequential: no skipping, no regression.
func (s Stage) Next() (Stage, bool) {
	switch s {
	case StageNotStarted:
		return StageLearned, true
	case StageLearned:
		return StagePracticed, true
	case StagePracticed:
		return StageAnalyzed, true
	default:
		return "", false
	}
}

// Before reports whether s precedes other in the training sequence.
func (s Stage) Before(other Stage) bool {
	return stageOrder[s] < stageOrder[other]
}
