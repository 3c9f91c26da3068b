// Package transcription wraps a speech-to-text backend with container checks
// and transcript normalization.
package transcription

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ewilliams-labs/cadence/internal/audio"
	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"github.com/ewilliams-labs/cadence/internal/core/ports"
)

// Service implements ports.Transcriber on top of a ports.Recognizer.
//
// The recording is decoded before the backend is called, so unsupported or
// corrupt audio never reaches it, and the decoded duration bounds the
// returned segments.
type Service struct {
	rec ports.Recognizer
	log logrus.FieldLogger
}

var _ ports.Transcriber = (*Service)(nil)

func NewService(rec ports.Recognizer, log logrus.FieldLogger) *Service {
	return &Service{rec: rec, log: log}
}

func (s *Service) Transcribe(ctx context.Context, data []byte, hints domain.AudioHints) (domain.Transcript, error) {
	profile, err := audio.Decode(data, audio.DefaultWindowMs)
	if err != nil {
		return domain.Transcript{}, fmt.Errorf("transcription: %w", err)
	}
	info := profile.Info
	if hints.SampleRate > 0 && hints.SampleRate != info.SampleRate {
		s.log.WithFields(logrus.Fields{
			"hint_sample_rate":    hints.SampleRate,
			"decoded_sample_rate": info.SampleRate,
		}).Warn("transcription: sample rate hint differs from container")
	}

	t := domain.Transcript{Segments: []domain.TranscriptSegment{}, DurationMs: info.DurationMs, Audio: &info}
	if info.DurationMs == 0 {
		return t, nil
	}

	raw, err := s.rec.Recognize(ctx, ports.RecognizeRequest{
		Audio:      data,
		Format:     info.Format,
		SampleRate: info.SampleRate,
		Language:   hints.Language,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.Transcript{}, fmt.Errorf("transcription: %w: %w", domain.ErrTranscriptionTimeout, err)
		}
		if errors.Is(err, context.Canceled) {
			return domain.Transcript{}, fmt.Errorf("transcription: %w", err)
		}
		return domain.Transcript{}, fmt.Errorf("transcription: backend: %w: %w", domain.ErrTranscriptionFailed, err)
	}

	t.Segments = Normalize(raw, info.DurationMs)
	s.log.WithFields(logrus.Fields{
		"format":      info.Format,
		"duration_ms": info.DurationMs,
		"raw":         len(raw),
		"segments":    len(t.Segments),
	}).Debug("transcription: done")
	return t, nil
}
