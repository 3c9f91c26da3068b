// Package features derives quantitative delivery metrics from a transcript
// and, optionally, the raw recording.
package features

import (
	"errors"
	"fmt"
	"math"

	"github.com/ewilliams-labs/cadence/internal/audio"
	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"github.com/ewilliams-labs/cadence/internal/core/ports"
)

// Config is the injectable extractor configuration.
type Config struct {
	FillerLexicon []string `yaml:"filler_lexicon" json:"filler_lexicon"`
	HedgeLexicon  []string `yaml:"hedge_lexicon" json:"hedge_lexicon"`
	// PositiveLexicon and NegativeLexicon drive tone_positivity.
	PositiveLexicon []string `yaml:"positive_lexicon" json:"positive_lexicon"`
	NegativeLexicon []string `yaml:"negative_lexicon" json:"negative_lexicon"`
	// LongPauseMs is the minimum inter-segment gap counted as a long pause.
	LongPauseMs int64 `yaml:"long_pause_ms" json:"long_pause_ms"`
	// VolumeWindowMs is the RMS window for audio-derived features.
	VolumeWindowMs int `yaml:"volume_window_ms" json:"volume_window_ms"`
	// SilenceFloor is the RMS level (0..1) at or below which a window is silent.
	SilenceFloor float64 `yaml:"silence_floor" json:"silence_floor"`
}

// DefaultConfig returns the stock lexicons and thresholds.
func DefaultConfig() Config {
	return Config{
		FillerLexicon:   []string{"um", "uh", "erm", "er", "ah", "hmm", "like", "you know", "i mean", "actually", "kind of", "sort of"},
		HedgeLexicon:    []string{"i think", "i guess", "maybe", "perhaps", "probably", "i'm not sure", "sort of", "kind of"},
		PositiveLexicon: []string{
			"good", "great", "excellent", "excited", "exciting", "happy", "glad", "pleased", "proud",
			"success", "successful", "improve", "improved", "opportunity", "strong", "benefit",
			"love", "confident", "achieve", "achieved", "growth", "win", "progress", "thank you",
		},
		NegativeLexicon: []string{
			"bad", "poor", "problem", "problems", "fail", "failed", "failure", "unfortunately",
			"difficult", "worse", "worst", "hate", "sorry", "weak", "risk", "loss", "losses",
			"concern", "worried", "decline", "terrible",
		},
		LongPauseMs:    2000,
		VolumeWindowMs: audio.DefaultWindowMs,
		SilenceFloor:   0.01,
	}
}

// Validate checks the configuration for values the extractor cannot use.
func (c Config) Validate() error {
	if c.LongPauseMs <= 0 {
		return errors.New("features: long_pause_ms must be positive")
	}
	if c.VolumeWindowMs <= 0 {
		return errors.New("features: volume_window_ms must be positive")
	}
	if c.SilenceFloor < 0 || c.SilenceFloor >= 1 {
		return errors.New("features: silence_floor must be in [0,1)")
	}
	return nil
}

// Extractor computes a FeatureVector. It holds only immutable configuration
// and is safe for concurrent use.
type Extractor struct {
	cfg     Config
	fillers  *lexicon
	hedges   *lexicon
	positive *lexicon
	negative *lexicon
}

var _ ports.FeatureExtractor = (*Extractor)(nil)

// NewExtractor validates cfg and builds an Extractor.
func NewExtractor(cfg Config) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Extractor{
		cfg:      cfg,
		fillers:  newLexicon(cfg.FillerLexicon),
		hedges:   newLexicon(cfg.HedgeLexicon),
		positive: newLexicon(cfg.PositiveLexicon),
		negative: newLexicon(cfg.NegativeLexicon),
	}, nil
}

// Config returns the configuration the extractor was built with.
func (e *Extractor) Config() Config { return e.cfg }

// Extract computes the feature vector for t. When audioBytes is non-empty it
// is decoded for volume variability. A zero total duration fails with
// domain.ErrInsufficientData; every other division by zero yields 0.
func (e *Extractor) Extract(t domain.Transcript, audioBytes []byte) (domain.FeatureVector, error) {
	durationMs := t.Duration()
	if durationMs <= 0 {
		return nil, fmt.Errorf("features: transcript has zero duration: %w", domain.ErrInsufficientData)
	}
	minutes := float64(durationMs) / 60000.0

	words := t.Words()
	wordCount := len(words)
	fillerCount := e.fillers.count(words)
	hedgeCount := e.hedges.count(words)

	var gapMs int64
	var longPauses int
	for i := 1; i < len(t.Segments); i++ {
		gap := t.Segments[i].StartMs - t.Segments[i-1].EndMs
		if gap <= 0 {
			continue
		}
		gapMs += gap
		if gap >= e.cfg.LongPauseMs {
			longPauses++
		}
	}

	fv := domain.FeatureVector{
		domain.FeatureSpeakingRate:     rate(float64(wordCount), minutes),
		domain.FeaturePauseRatio:       rate(float64(gapMs), float64(durationMs)),
		domain.FeatureFillerRate:       rate(float64(fillerCount), float64(wordCount)),
		domain.FeatureFillerCount:      float64(fillerCount),
		domain.FeatureHedgeRate:        rate(float64(hedgeCount), float64(wordCount)),
		domain.FeatureLexicalDiversity: rate(float64(uniqueCount(words)), float64(wordCount)),
		domain.FeatureLongPauseCount:   float64(longPauses),
		domain.FeatureWordCount:        float64(wordCount),
		domain.FeatureDurationSeconds:  float64(durationMs) / 1000.0,
		domain.FeatureTonePositivity:   e.tonePositivity(words),
	}

	if len(audioBytes) > 0 {
		profile, err := audio.Decode(audioBytes, e.cfg.VolumeWindowMs)
		if err != nil {
			return nil, fmt.Errorf("features: volume profile: %w", err)
		}
		if v, ok := audio.VolumeVariability(profile.Envelope, e.cfg.SilenceFloor); ok {
			fv[domain.FeatureVolumeVariability] = clamp(v)
		}
	}

	return fv, nil
}

// tonePositivity is the share of sentiment-bearing phrases that are positive,
// or 0.5 when the transcript carries none.
func (e *Extractor) tonePositivity(words []string) float64 {
	pos := e.positive.count(words)
	neg := e.negative.count(words)
	if pos+neg == 0 {
		return 0.5
	}
	return float64(pos) / float64(pos+neg)
}

// rate divides num by den, returning 0 for a zero denominator and clamping
// the result to [0, +inf).
func rate(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return clamp(num / den)
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func uniqueCount(words []string) int {
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		seen[w] = struct{}{}
	}
	return len(seen)
}
