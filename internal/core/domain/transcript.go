package domain

import (
	"fmt"
	"strings"
	"unicode"
)

// TranscriptSegment is one spoken span with millisecond bounds.
type TranscriptSegment struct {
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
	Text    string `json:"text"`
}

// AudioInfo describes the decoded recording a transcript was derived from.
type AudioInfo struct {
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	DurationMs int64  `json:"duration_ms"`
	FrameMs    int64  `json:"frame_ms"`
}

// Transcript is the ordered, non-overlapping sequence of segments produced
// for a single request.
type Transcript struct {
	Segments   []TranscriptSegment `json:"segments"`
	DurationMs int64               `json:"duration_ms"`
	Audio      *AudioInfo          `json:"audio,omitempty"`
}

// Duration returns the total duration: the larger of the recorded audio
// duration and the last segment end.
func (t Transcript) Duration() int64 {
	d := t.DurationMs
	for _, s := range t.Segments {
		if s.EndMs > d {
			d = s.EndMs
		}
	}
	return d
}

// Text joins segment texts with single spaces.
func (t Transcript) Text() string {
	parts := make([]string, 0, len(t.Segments))
	for _, s := range t.Segments {
		if txt := strings.TrimSpace(s.Text); txt != "" {
			parts = append(parts, txt)
		}
	}
	return strings.Join(parts, " ")
}

// Words tokenizes the transcript text into lowercase words. Punctuation is
// dropped; apostrophes inside words are kept.
func (t Transcript) Words() []string {
	return Tokenize(t.Text())
}

// Tokenize splits s into lowercase word tokens.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	out := fields[:0]
	for _, f := range fields {
		if f = strings.Trim(f, "'"); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Validate checks the segment invariants: non-negative starts, positive
// lengths, non-decreasing starts and no overlap.
func (t Transcript) Validate() error {
	var prevEnd int64
	for i, s := range t.Segments {
		if s.StartMs < 0 {
			return fmt.Errorf("domain: segment %d starts before zero", i)
		}
		if s.EndMs <= s.StartMs {
			return fmt.Errorf("domain: segment %d has non-positive length", i)
		}
		if i > 0 && s.StartMs < prevEnd {
			return fmt.Errorf("domain: segment %d overlaps its predecessor", i)
		}
		prevEnd = s.EndMs
	}
	return nil
}
