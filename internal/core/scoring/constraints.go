package scoring

import (
	"fmt"
	"strings"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
)

const (
	defaultToleranceSeconds = 3
	defaultPaceMin          = 100
	defaultPaceMax          = 160
)

// CheckConstraints evaluates exercise constraints against a scored transcript.
// Constraints are checked in a fixed order (duration, fillers, required
// phrases, forbidden phrases, pace, confidence) and each violation carries
// one suggestion.
func (s *Scorer) CheckConstraints(t domain.Transcript, features domain.FeatureVector, subScores map[string]float64, c domain.Constraints) domain.ConstraintResult {
	res := domain.ConstraintResult{Respected: true, Violations: []domain.Violation{}, Suggestions: []string{}}
	add := func(v domain.Violation) {
		res.Respected = false
		res.Violations = append(res.Violations, v)
		res.Suggestions = append(res.Suggestions, v.Suggestion)
	}

	if c.TargetDurationSeconds != nil {
		target := *c.TargetDurationSeconds
		tol := float64(defaultToleranceSeconds)
		if c.ToleranceSeconds != nil {
			tol = *c.ToleranceSeconds
		}
		dur, _ := features.Get(domain.FeatureDurationSeconds)
		if abs(dur-target) > tol {
			add(domain.Violation{
				Field:      "duration",
				Expected:   fmt.Sprintf("%g±%gs", target, tol),
				Actual:     ptr(dur),
				Suggestion: "Adjust speech length to match the target duration.",
			})
		}
	}

	if c.MaxFillers != nil {
		fillers, _ := features.Get(domain.FeatureFillerCount)
		if fillers > float64(*c.MaxFillers) {
			add(domain.Violation{
				Field:      "fillers",
				Expected:   fmt.Sprintf("<= %d", *c.MaxFillers),
				Actual:     ptr(fillers),
				Suggestion: "Practice reducing filler words; see examples in feedback.",
			})
		}
	}

	text := " " + strings.Join(t.Words(), " ") + " "
	contains := func(phrase string) bool {
		toks := domain.Tokenize(phrase)
		if len(toks) == 0 {
			return false
		}
		return strings.Contains(text, " "+strings.Join(toks, " ")+" ")
	}

	var missing []string
	for _, p := range c.RequiredPhrases {
		if !contains(p) {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		add(domain.Violation{
			Field:      "required_phrases",
			Missing:    missing,
			Suggestion: "Include the required phrases in the response.",
		})
	}

	var present []string
	for _, p := range c.ForbiddenPhrases {
		if contains(p) {
			present = append(present, p)
		}
	}
	if len(present) > 0 {
		add(domain.Violation{
			Field:      "forbidden_phrases",
			Present:    present,
			Suggestion: "Avoid using forbidden phrases.",
		})
	}

	if c.PaceRange != nil {
		lo, hi := float64(defaultPaceMin), float64(defaultPaceMax)
		if c.PaceRange.Min != nil {
			lo = *c.PaceRange.Min
		}
		if c.PaceRange.Max != nil {
			hi = *c.PaceRange.Max
		}
		if wpm, ok := features.Get(domain.FeatureSpeakingRate); ok && (wpm < lo || wpm > hi) {
			add(domain.Violation{
				Field:      "pace",
				Expected:   fmt.Sprintf("%g-%g wpm", lo, hi),
				Actual:     ptr(wpm),
				Suggestion: "Adjust pace to fall within the required range.",
			})
		}
	}

	if c.MinConfidenceScore != nil {
		conf := subScores[SubScoreConfidence]
		if conf < *c.MinConfidenceScore {
			add(domain.Violation{
				Field:      "confidence",
				Expected:   fmt.Sprintf(">= %g", *c.MinConfidenceScore),
				Actual:     ptr(conf),
				Suggestion: "Reduce uncertainty markers and use stronger statements.",
			})
		}
	}

	return res
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func ptr(v float64) *float64 { return &v }
