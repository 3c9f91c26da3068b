package scoring

import (
	"errors"
	"fmt"
	"math"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
)

// Band maps a feature value to a score: 100 inside [Min, Max], falling
// linearly to 0 at Falloff beyond either edge.
type Band struct {
	Min     float64 `yaml:"min" json:"min"`
	Max     float64 `yaml:"max" json:"max"`
	Falloff float64 `yaml:"falloff" json:"falloff"`
}

// Score returns the band score of v in [0,100].
func (b Band) Score(v float64) float64 {
	var d float64
	switch {
	case v < b.Min:
		d = b.Min - v
	case v > b.Max:
		d = v - b.Max
	default:
		return 100
	}
	s := 100 * (1 - d/b.Falloff)
	return math.Max(0, math.Min(100, s))
}

// SubScore defines one named sub-score derived from a feature.
type SubScore struct {
	Name    string  `yaml:"name" json:"name"`
	Feature string  `yaml:"feature" json:"feature"`
	Band    Band    `yaml:"band" json:"band"`
	Weight  float64 `yaml:"weight" json:"weight"`
	// Optional sub-scores are skipped when their feature is absent and the
	// remaining weights are renormalized.
	Optional bool `yaml:"optional" json:"optional"`
}

// Comparison operators accepted by Rule.Op.
const (
	OpNone = ""
	OpGT   = "gt"
	OpLT   = "lt"
)

// Rule emits Message when its sub-score falls below the threshold and the
// optional feature condition holds. "{value}" in Message is replaced with the
// rule feature value.
type Rule struct {
	Name     string `yaml:"name" json:"name"`
	SubScore string `yaml:"sub_score" json:"sub_score"`
	// Threshold overrides Config.FeedbackThreshold when positive.
	Threshold float64 `yaml:"threshold" json:"threshold"`
	Feature   string  `yaml:"feature" json:"feature,omitempty"`
	Op        string  `yaml:"op" json:"op,omitempty"`
	Value     float64 `yaml:"value" json:"value,omitempty"`
	Message   string  `yaml:"message" json:"message"`
	// Priority orders feedback ascending; equal priorities keep declaration order.
	Priority int `yaml:"priority" json:"priority"`
}

// Config is the injectable scorer configuration.
type Config struct {
	FeedbackThreshold float64    `yaml:"feedback_threshold" json:"feedback_threshold"`
	SubScores         []SubScore `yaml:"sub_scores" json:"sub_scores"`
	Rules             []Rule     `yaml:"rules" json:"rules"`
}

// Sub-score names used by DefaultConfig.
const (
	SubScorePace           = "pace"
	SubScoreFluency        = "fluency"
	SubScorePausing        = "pausing"
	SubScoreClarity        = "clarity"
	SubScoreConfidence     = "confidence"
	SubScoreTone           = "tone"
	SubScoreExpressiveness = "expressiveness"
)

// DefaultConfig returns the stock bands, weights and feedback rules.
func DefaultConfig() Config {
	return Config{
		FeedbackThreshold: 50,
		SubScores: []SubScore{
			{Name: SubScorePace, Feature: domain.FeatureSpeakingRate, Band: Band{Min: 130, Max: 160, Falloff: 60}, Weight: 0.25},
			{Name: SubScoreFluency, Feature: domain.FeatureFillerRate, Band: Band{Min: 0, Max: 0.02, Falloff: 0.10}, Weight: 0.25},
			{Name: SubScorePausing, Feature: domain.FeaturePauseRatio, Band: Band{Min: 0.05, Max: 0.25, Falloff: 0.25}, Weight: 0.15},
			{Name: SubScoreClarity, Feature: domain.FeatureLexicalDiversity, Band: Band{Min: 0.45, Max: 1, Falloff: 0.35}, Weight: 0.15},
			{Name: SubScoreConfidence, Feature: domain.FeatureHedgeRate, Band: Band{Min: 0, Max: 0.01, Falloff: 0.05}, Weight: 0.10},
			{Name: SubScoreTone, Feature: domain.FeatureTonePositivity, Band: Band{Min: 0.5, Max: 1, Falloff: 0.5}, Weight: 0.05},
			{Name: SubScoreExpressiveness, Feature: domain.FeatureVolumeVariability, Band: Band{Min: 0.25, Max: 0.8, Falloff: 0.25}, Weight: 0.05, Optional: true},
		},
		Rules: []Rule{
			{Name: "pace_fast", SubScore: SubScorePace, Feature: domain.FeatureSpeakingRate, Op: OpGT, Value: 160, Priority: 1,
				Message: "You are speaking too fast ({value} words per minute). Slow down to roughly 130-160 words per minute."},
			{Name: "pace_slow", SubScore: SubScorePace, Feature: domain.FeatureSpeakingRate, Op: OpLT, Value: 130, Priority: 1,
				Message: "You are speaking slowly ({value} words per minute). Pick up the pace to roughly 130-160 words per minute."},
			{Name: "fillers", SubScore: SubScoreFluency, Priority: 2,
				Message: "Practice reducing filler words like 'um' and 'uh'."},
			{Name: "pauses_long", SubScore: SubScorePausing, Feature: domain.FeaturePauseRatio, Op: OpGT, Value: 0.25, Priority: 3,
				Message: "Long silences break your flow. Shorten the pauses between sentences."},
			{Name: "pauses_none", SubScore: SubScorePausing, Feature: domain.FeaturePauseRatio, Op: OpLT, Value: 0.05, Priority: 3,
				Message: "You rarely pause. Short pauses give the audience time to absorb key points."},
			{Name: "clarity", SubScore: SubScoreClarity, Priority: 4,
				Message: "Your wording is repetitive. Vary your vocabulary to keep the message clear."},
			{Name: "confidence", SubScore: SubScoreConfidence, Priority: 5,
				Message: "Reduce uncertainty markers such as 'I think' and 'maybe' and use stronger statements."},
			{Name: "tone", SubScore: SubScoreTone, Priority: 6,
				Message: "Try practicing positive phrasing and tone."},
			{Name: "monotone", SubScore: SubScoreExpressiveness, Priority: 7,
				Message: "Your volume stays flat. Vary your emphasis to sound more engaging."},
		},
	}
}

const weightTolerance = 1e-6

// Validate checks bands, weights and rule references.
func (c Config) Validate() error {
	if c.FeedbackThreshold < 0 || c.FeedbackThreshold > 100 {
		return fmt.Errorf("scoring: feedback_threshold %v outside [0,100]", c.FeedbackThreshold)
	}
	if len(c.SubScores) == 0 {
		return errors.New("scoring: no sub-scores configured")
	}

	names := make(map[string]bool, len(c.SubScores))
	var sum float64
	var required bool
	for _, s := range c.SubScores {
		if s.Name == "" || s.Feature == "" {
			return errors.New("scoring: sub-score needs a name and a feature")
		}
		if names[s.Name] {
			return fmt.Errorf("scoring: duplicate sub-score %q", s.Name)
		}
		names[s.Name] = true
		if s.Weight < 0 {
			return fmt.Errorf("scoring: sub-score %q has negative weight", s.Name)
		}
		if s.Band.Min > s.Band.Max {
			return fmt.Errorf("scoring: sub-score %q band min above max", s.Name)
		}
		if s.Band.Falloff <= 0 {
			return fmt.Errorf("scoring: sub-score %q band falloff must be positive", s.Name)
		}
		if !s.Optional && s.Weight > 0 {
			required = true
		}
		sum += s.Weight
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("scoring: weights sum to %v, want 1", sum)
	}
	if !required {
		return errors.New("scoring: at least one required sub-score needs a positive weight")
	}

	for _, r := range c.Rules {
		if !names[r.SubScore] {
			return fmt.Errorf("scoring: rule %q references unknown sub-score %q", r.Name, r.SubScore)
		}
		if r.Threshold < 0 || r.Threshold > 100 {
			return fmt.Errorf("scoring: rule %q threshold outside [0,100]", r.Name)
		}
		switch r.Op {
		case OpNone:
		case OpGT, OpLT:
			if r.Feature == "" {
				return fmt.Errorf("scoring: rule %q has an operator but no feature", r.Name)
			}
		default:
			return fmt.Errorf("scoring: rule %q has unknown op %q", r.Name, r.Op)
		}
		if r.Message == "" {
			return fmt.Errorf("scoring: rule %q has no message", r.Name)
		}
	}
	return nil
}
