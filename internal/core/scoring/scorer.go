// Package scoring turns a feature vector into bounded sub-scores, a weighted
// overall score and ordered feedback.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"github.com/ewilliams-labs/cadence/internal/core/ports"
)

// Scorer is safe for concurrent use; it holds only immutable configuration.
type Scorer struct {
	cfg   Config
	rules []Rule // sorted by priority, stable
}

var _ ports.Scorer = (*Scorer)(nil)

// New validates cfg and builds a Scorer.
func New(cfg Config) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rules := append([]Rule(nil), cfg.Rules...)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })
	return &Scorer{cfg: cfg, rules: rules}, nil
}

// Config returns the configuration the scorer was built with.
func (s *Scorer) Config() Config { return s.cfg }

// Score computes sub-scores, the overall score and feedback. A missing or
// non-finite required feature fails with domain.ErrInvalidFeatureVector.
func (s *Scorer) Score(features domain.FeatureVector) (domain.AnalysisResult, error) {
	subScores := make(map[string]float64, len(s.cfg.SubScores))
	var weighted, weights float64
	for _, spec := range s.cfg.SubScores {
		v, ok := features.Get(spec.Feature)
		if !ok {
			if spec.Optional {
				continue
			}
			return domain.AnalysisResult{}, fmt.Errorf("scoring: sub-score %q needs feature %q: %w",
				spec.Name, spec.Feature, domain.ErrInvalidFeatureVector)
		}
		score := spec.Band.Score(v)
		subScores[spec.Name] = round2(score)
		weighted += spec.Weight * score
		weights += spec.Weight
	}

	var overall float64
	if weights > 0 {
		overall = weighted / weights
	}

	feedback, err := s.feedback(features, subScores)
	if err != nil {
		return domain.AnalysisResult{}, err
	}

	return domain.AnalysisResult{
		OverallScore: round2(math.Max(0, math.Min(100, overall))),
		SubScores:    subScores,
		Feedback:     feedback,
		Features:     features,
	}, nil
}

func (s *Scorer) feedback(features domain.FeatureVector, subScores map[string]float64) ([]string, error) {
	out := []string{}
	for _, r := range s.rules {
		score, ok := subScores[r.SubScore]
		if !ok {
			continue // optional sub-score without its feature
		}
		threshold := s.cfg.FeedbackThreshold
		if r.Threshold > 0 {
			threshold = r.Threshold
		}
		if score >= threshold {
			continue
		}

		var value float64
		if r.Feature != "" {
			v, ok := features.Get(r.Feature)
			if !ok {
				return nil, fmt.Errorf("scoring: rule %q needs feature %q: %w", r.Name, r.Feature, domain.ErrInvalidFeatureVector)
			}
			value = v
		}
		switch r.Op {
		case OpGT:
			if !(value > r.Value) {
				continue
			}
		case OpLT:
			if !(value < r.Value) {
				continue
			}
		}
		out = append(out, strings.ReplaceAll(r.Message, "{value}", strconv.FormatFloat(value, 'f', 1, 64)))
	}
	return out, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
