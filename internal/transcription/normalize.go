package transcription

import (
	"sort"
	"strings"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
)

// Normalize makes raw backend segments satisfy the transcript invariants:
// blank segments are dropped, segments are ordered by start, starts are
// pushed past the previous end, and ends are clamped to durationMs. Segments
// left with no length are dropped. The input is not modified.
func Normalize(raw []domain.TranscriptSegment, durationMs int64) []domain.TranscriptSegment {
	segs := make([]domain.TranscriptSegment, 0, len(raw))
	for _, s := range raw {
		s.Text = strings.TrimSpace(s.Text)
		if s.Text == "" {
			continue
		}
		if s.StartMs < 0 {
			s.StartMs = 0
		}
		segs = append(segs, s)
	}
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].StartMs < segs[j].StartMs })

	out := make([]domain.TranscriptSegment, 0, len(segs))
	var prevEnd int64
	for _, s := range segs {
		if len(out) > 0 && s.StartMs < prevEnd {
			s.StartMs = prevEnd
		}
		if durationMs > 0 && s.EndMs > durationMs {
			s.EndMs = durationMs
		}
		if s.EndMs <= s.StartMs {
			continue
		}
		out = append(out, s)
		prevEnd = s.EndMs
	}
	return out
}
