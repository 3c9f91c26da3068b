package features

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/ewilliams-labs/cadence/internal/audio/audiotest"
	"github.com/ewilliams-labs/cadence/internal/core/domain"
)

func mustExtractor(t *testing.T, cfg Config) *Extractor {
	t.Helper()
	e, err := NewExtractor(cfg)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	return e
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestExtractor_Extract(t *testing.T) {
	tests := []struct {
		name    string
		t       domain.Transcript
		want    map[string]float64
		wantErr error
	}{
		{
			name: "single segment with a filler",
			t: domain.Transcript{
				DurationMs: 2000,
				Segments:   []domain.TranscriptSegment{{StartMs: 0, EndMs: 2000, Text: "um so basically this is my talk"}},
			},
			want: map[string]float64{
				domain.FeatureSpeakingRate:     210,
				domain.FeatureFillerRate:       1.0 / 7.0,
				domain.FeatureFillerCount:      1,
				domain.FeaturePauseRatio:       0,
				domain.FeatureWordCount:        7,
				domain.FeatureDurationSeconds:  2,
				domain.FeatureLexicalDiversity: 1,
				domain.FeatureTonePositivity:   0.5,
			},
		},
		{
			name: "gaps, long pause and multi-word phrases",
			t: domain.Transcript{
				DurationMs: 10000,
				Segments: []domain.TranscriptSegment{
					{StartMs: 0, EndMs: 3000, Text: "You know I think this works"},
					{StartMs: 3500, EndMs: 5000, Text: "maybe it works"},
					{StartMs: 7500, EndMs: 10000, Text: "Like, it works."},
				},
			},
			want: map[string]float64{
				domain.FeatureWordCount:        12,
				domain.FeatureFillerCount:      2,
				domain.FeatureFillerRate:       2.0 / 12.0,
				domain.FeatureHedgeRate:        2.0 / 12.0,
				domain.FeaturePauseRatio:       0.3,
				domain.FeatureLongPauseCount:   1,
				domain.FeatureSpeakingRate:     72,
				domain.FeatureLexicalDiversity: 9.0 / 12.0,
			},
		},
		{
			name: "silence with a duration yields zero rates",
			t:    domain.Transcript{DurationMs: 4000, Segments: []domain.TranscriptSegment{}},
			want: map[string]float64{
				domain.FeatureSpeakingRate:     0,
				domain.FeatureFillerRate:       0,
				domain.FeatureLexicalDiversity: 0,
				domain.FeaturePauseRatio:       0,
			},
		},
		{
			name:    "zero duration",
			t:       domain.Transcript{Segments: []domain.TranscriptSegment{}},
			wantErr: domain.ErrInsufficientData,
		},
	}

	e := mustExtractor(t, DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fv, err := e.Extract(tt.t, nil)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for k, want := range tt.want {
				got, ok := fv.Get(k)
				if !ok {
					t.Errorf("%s missing", k)
					continue
				}
				if !approx(got, want) {
					t.Errorf("%s: got %v, want %v", k, got, want)
				}
			}
			if _, ok := fv[domain.FeatureVolumeVariability]; ok {
				t.Errorf("volume variability must be absent without audio")
			}
			for k, v := range fv {
				if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
					t.Errorf("%s is not a finite non-negative value: %v", k, v)
				}
			}
		})
	}
}

func TestExtractor_Deterministic(t *testing.T) {
	e := mustExtractor(t, DefaultConfig())
	tr := domain.Transcript{
		DurationMs: 5000,
		Segments: []domain.TranscriptSegment{
			{StartMs: 0, EndMs: 2000, Text: "Um, I mean, the results are kind of good"},
			{StartMs: 2600, EndMs: 5000, Text: "uh and we actually shipped"},
		},
	}
	first, err := e.Extract(tr, nil)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := e.Extract(tr, nil)
		if err != nil {
			t.Fatalf("extract: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs: %v vs %v", i, first, again)
		}
	}
}

func TestExtractor_InjectedLexicon(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FillerLexicon = []string{"so", "basically"}
	e := mustExtractor(t, cfg)

	fv, err := e.Extract(domain.Transcript{
		DurationMs: 2000,
		Segments:   []domain.TranscriptSegment{{StartMs: 0, EndMs: 2000, Text: "um so basically this is my talk"}},
	}, nil)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got := fv[domain.FeatureFillerCount]; got != 2 {
		t.Fatalf("filler count with custom lexicon: got %v, want 2", got)
	}
}

func TestExtractor_VolumeVariability(t *testing.T) {
	e := mustExtractor(t, DefaultConfig())
	tr := domain.Transcript{
		DurationMs: 1000,
		Segments:   []domain.TranscriptSegment{{StartMs: 0, EndMs: 1000, Text: "hello there"}},
	}

	wav := audiotest.WAV(8000, audiotest.Tone(8000, 1000, 200, 0.2, 0.7))
	fv, err := e.Extract(tr, wav)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if v, ok := fv.Get(domain.FeatureVolumeVariability); !ok || v <= 0 {
		t.Fatalf("expected positive volume variability, got %v (%v)", v, ok)
	}

	if _, err := e.Extract(tr, []byte("not audio")); !errors.Is(err, domain.ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format for bad audio, got %v", err)
	}
}

func TestExtractor_TonePositivity(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		{name: "no sentiment words", text: "this is my talk", want: 0.5},
		{name: "mostly positive", text: "Great progress this quarter, but one problem remains", want: 2.0 / 3.0},
		{name: "all negative", text: "Unfortunately the launch failed and losses grew", want: 0},
		{name: "multi-word phrase", text: "Thank you all", want: 1},
	}

	e := mustExtractor(t, DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fv, err := e.Extract(domain.Transcript{
				DurationMs: 3000,
				Segments:   []domain.TranscriptSegment{{StartMs: 0, EndMs: 3000, Text: tt.text}},
			}, nil)
			if err != nil {
				t.Fatalf("extract: %v", err)
			}
			if got := fv[domain.FeatureTonePositivity]; !approx(got, tt.want) {
				t.Fatalf("tone: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "long pause", mutate: func(c *Config) { c.LongPauseMs = 0 }},
		{name: "window", mutate: func(c *Config) { c.VolumeWindowMs = -1 }},
		{name: "silence floor", mutate: func(c *Config) { c.SilenceFloor = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if _, err := NewExtractor(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLexicon_Count(t *testing.T) {
	tests := []struct {
		name    string
		entries []string
		text    string
		want    int
	}{
		{name: "single words", entries: []string{"um", "uh"}, text: "um I uh think um", want: 3},
		{name: "multi-word before single", entries: []string{"know", "you know"}, text: "you know what I know", want: 2},
		{name: "no partial token match", entries: []string{"um"}, text: "umbrella museum", want: 0},
		{name: "case and punctuation", entries: []string{"Kind of"}, text: "It's KIND, of... kind of odd", want: 2},
		{name: "duplicates collapse", entries: []string{"um", "UM", " um "}, text: "um", want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newLexicon(tt.entries).count(domain.Tokenize(tt.text))
			if got != tt.want {
				t.Fatalf("got %d, want %d", got, tt.want)
			}
		})
	}
}
