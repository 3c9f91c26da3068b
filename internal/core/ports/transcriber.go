package ports

import (
	"context"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
)

// Transcriber turns raw encoded audio into a validated, time-aligned
// transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, hints domain.AudioHints) (domain.Transcript, error)
}

// RecognizeRequest is what a speech-to-text backend receives. Format is the
// sniffed container ("wav", "mp3").
type RecognizeRequest struct {
	Audio      []byte
	Format     string
	SampleRate int
	Language   string
}

// Recognizer is a speech-to-text backend. Segments it returns are raw and may
// be unordered or overlapping; callers normalize them.
type Recognizer interface {
	Recognize(ctx context.Context, req RecognizeRequest) ([]domain.TranscriptSegment, error)
}

// FeatureExtractor derives delivery metrics from a transcript and, when
// given, the raw audio.
type FeatureExtractor interface {
	Extract(t domain.Transcript, audio []byte) (domain.FeatureVector, error)
}

// Scorer maps features to scores and feedback.
type Scorer interface {
	Score(features domain.FeatureVector) (domain.AnalysisResult, error)
	CheckConstraints(t domain.Transcript, features domain.FeatureVector, subScores map[string]float64, c domain.Constraints) domain.ConstraintResult
}
