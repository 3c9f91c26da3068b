package domain

import "math"

// Feature keys produced by the feature extractor.
const (
	FeatureSpeakingRate      = "speaking_rate_wpm"
	FeaturePauseRatio        = "pause_ratio"
	FeatureFillerRate        = "filler_word_rate"
	FeatureFillerCount       = "filler_word_count"
	FeatureHedgeRate         = "hedge_rate"
	FeatureLexicalDiversity  = "lexical_diversity"
	FeatureLongPauseCount    = "long_pause_count"
	FeatureWordCount         = "word_count"
	FeatureDurationSeconds   = "duration_seconds"
	FeatureVolumeVariability = "volume_variability"
	FeatureTonePositivity    = "tone_positivity"
)

// FeatureVector maps a metric name to a finite, non-negative value.
type FeatureVector map[string]float64

// Get returns the value for key and whether it is present and finite.
func (f FeatureVector) Get(key string) (float64, bool) {
	v, ok := f[key]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// AudioHints are optional caller hints for the transcription backend.
type AudioHints struct {
	SampleRate int    `json:"sample_rate,omitempty"`
	Language   string `json:"language,omitempty"`
}

// PaceRange bounds an acceptable speaking rate in words per minute. A nil
// bound takes its default.
type PaceRange struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// Constraints are optional exercise requirements checked against a finished
// analysis.
type Constraints struct {
	TargetDurationSeconds *float64   `json:"target_duration_seconds,omitempty"`
	ToleranceSeconds      *float64   `json:"tolerance_seconds,omitempty"`
	MaxFillers            *int       `json:"max_fillers,omitempty"`
	RequiredPhrases       []string   `json:"required_phrases,omitempty"`
	ForbiddenPhrases      []string   `json:"forbidden_phrases,omitempty"`
	PaceRange             *PaceRange `json:"pace_range,omitempty"`
	MinConfidenceScore    *float64   `json:"min_confidence_score,omitempty"`
}

// Empty reports whether no constraint is set.
func (c Constraints) Empty() bool {
	return c.TargetDurationSeconds == nil && c.MaxFillers == nil &&
		len(c.RequiredPhrases) == 0 && len(c.ForbiddenPhrases) == 0 &&
		c.PaceRange == nil && c.MinConfidenceScore == nil
}

// Violation is a single unmet constraint.
type Violation struct {
	Field      string   `json:"field"`
	Expected   string   `json:"expected,omitempty"`
	Actual     *float64 `json:"actual,omitempty"`
	Missing    []string `json:"missing,omitempty"`
	Present    []string `json:"present,omitempty"`
	Suggestion string   `json:"suggestion"`
}

// ConstraintResult reports which constraints were met.
type ConstraintResult struct {
	Respected   bool        `json:"respected"`
	Violations  []Violation `json:"violations"`
	Suggestions []string    `json:"suggestions"`
}

// AnalysisResult is the outcome of one successful analysis request. It is
// built once by the scorer, completed by the orchestrator and never mutated
// afterwards.
type AnalysisResult struct {
	OverallScore float64            `json:"overall_score"`
	SubScores    map[string]float64 `json:"sub_scores"`
	Feedback     []string           `json:"feedback"`
	Transcript   Transcript         `json:"transcript"`
	Features     FeatureVector      `json:"features,omitempty"`
	Constraints  *ConstraintResult  `json:"constraint_result,omitempty"`
}
