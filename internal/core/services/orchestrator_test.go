package services_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ewilliams-labs/cadence/internal/audio/audiotest"
	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"github.com/ewilliams-labs/cadence/internal/core/features"
	"github.com/ewilliams-labs/cadence/internal/core/ports"
	"github.com/ewilliams-labs/cadence/internal/core/scoring"
	"github.com/ewilliams-labs/cadence/internal/core/services"
	"github.com/ewilliams-labs/cadence/internal/transcription"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func sampleTranscript() domain.Transcript {
	return domain.Transcript{
		DurationMs: 10000,
		Segments: []domain.TranscriptSegment{
			{StartMs: 0, EndMs: 4000, Text: "Good morning everyone and welcome to the quarterly review"},
			{StartMs: 4500, EndMs: 9500, Text: "Today we will cover revenue growth hiring plans and the product roadmap"},
		},
	}
}

func newPipeline(t *testing.T, retriever ports.AudioRetriever, transcriber ports.Transcriber, timeouts services.Timeouts) (*services.Orchestrator, *MockExtractor, *MockScorer) {
	t.Helper()
	ext, err := features.NewExtractor(features.DefaultConfig())
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	sc, err := scoring.New(scoring.DefaultConfig())
	if err != nil {
		t.Fatalf("scoring.New: %v", err)
	}
	spyExt := &MockExtractor{next: ext}
	spyScore := &MockScorer{next: sc}
	return services.NewOrchestrator(retriever, transcriber, spyExt, spyScore, timeouts, quietLogger()), spyExt, spyScore
}

func TestOrchestrator_Analyze(t *testing.T) {
	notFound := fmt.Errorf("store: key %q: %w", "missing", domain.ErrRecordingNotFound)

	tests := []struct {
		name          string
		retriever     *MockRetriever
		transcriber   *MockTranscriber
		constraints   domain.Constraints
		wantStage     domain.Stage
		wantKind      domain.Kind
		wantExtracted bool
		wantScored    bool
	}{
		{
			name:          "happy path",
			retriever:     &MockRetriever{Data: []byte("audio")},
			transcriber:   &MockTranscriber{Transcript: sampleTranscript()},
			wantExtracted: true,
			wantScored:    true,
		},
		{
			name:          "silent recording fails extraction",
			retriever:     &MockRetriever{Data: []byte("audio")},
			transcriber:   &MockTranscriber{Transcript: domain.Transcript{Segments: []domain.TranscriptSegment{}}},
			wantStage:     domain.StageExtracting,
			wantKind:      domain.KindInsufficientData,
			wantExtracted: true,
		},
		{
			name:        "missing recording fails retrieval",
			retriever:   &MockRetriever{Err: notFound},
			transcriber: &MockTranscriber{Transcript: sampleTranscript()},
			wantStage:   domain.StageRetrieving,
			wantKind:    domain.KindRetrievalFailed,
		},
		{
			name:        "backend failure fails transcription",
			retriever:   &MockRetriever{Data: []byte("audio")},
			transcriber: &MockTranscriber{Err: errors.New("connection reset")},
			wantStage:   domain.StageTranscribing,
			wantKind:    domain.KindTranscriptionFailed,
		},
		{
			name:        "pool overload is reported as overloaded",
			retriever:   &MockRetriever{Data: []byte("audio")},
			transcriber: &MockTranscriber{Err: fmt.Errorf("worker: queue full: %w", domain.ErrOverloaded)},
			wantStage:   domain.StageTranscribing,
			wantKind:    domain.KindOverloaded,
		},
		{
			name:      "overlapping transcript is rejected",
			retriever: &MockRetriever{Data: []byte("audio")},
			transcriber: &MockTranscriber{Transcript: domain.Transcript{
				DurationMs: 5000,
				Segments: []domain.TranscriptSegment{
					{StartMs: 0, EndMs: 3000, Text: "one"},
					{StartMs: 2000, EndMs: 4000, Text: "two"},
				},
			}},
			wantStage: domain.StageTranscribing,
			wantKind:  domain.KindTranscriptionFailed,
		},
		{
			name:          "constraints are evaluated on success",
			retriever:     &MockRetriever{Data: []byte("audio")},
			transcriber:   &MockTranscriber{Transcript: sampleTranscript()},
			constraints:   domain.Constraints{ForbiddenPhrases: []string{"revenue growth"}},
			wantExtracted: true,
			wantScored:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch, ext, sc := newPipeline(t, tt.retriever, tt.transcriber, services.DefaultTimeouts())

			res, err := orch.Analyze(context.Background(), services.Request{
				Reference:   "recordings/talk.wav",
				Constraints: tt.constraints,
			})

			if ext.Called() != tt.wantExtracted {
				t.Errorf("extractor called = %v, want %v", ext.Called(), tt.wantExtracted)
			}
			if sc.Called() != tt.wantScored {
				t.Errorf("scorer called = %v, want %v", sc.Called(), tt.wantScored)
			}

			if tt.wantKind == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if res.OverallScore < 0 || res.OverallScore > 100 {
					t.Errorf("overall score out of range: %v", res.OverallScore)
				}
				if len(res.Transcript.Segments) != 2 {
					t.Errorf("expected transcript attached, got %d segments", len(res.Transcript.Segments))
				}
				if tt.constraints.Empty() != (res.Constraints == nil) {
					t.Errorf("constraint result presence mismatch: %+v", res.Constraints)
				}
				if res.Constraints != nil && res.Constraints.Respected {
					t.Errorf("expected forbidden phrase violation")
				}
				return
			}

			var ae *domain.AnalysisError
			if !errors.As(err, &ae) {
				t.Fatalf("expected *AnalysisError, got %T: %v", err, err)
			}
			if ae.Stage != tt.wantStage || ae.Kind != tt.wantKind {
				t.Fatalf("got Failed(%s, %s), want Failed(%s, %s)", ae.Stage, ae.Kind, tt.wantStage, tt.wantKind)
			}
		})
	}
}

func TestOrchestrator_BadAudioStopsBeforeExtraction(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		wantKind domain.Kind
	}{
		{
			name:     "plain text file",
			data:     []byte("this is a plain text file, not audio"),
			wantKind: domain.KindUnsupportedFormat,
		},
		{
			name:     "wav cut short of its declared length",
			data:     audiotest.WAV(16000, audiotest.Tone(16000, 2000, 220))[:1001],
			wantKind: domain.KindDecodeError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &MockRecognizer{}
			svc := transcription.NewService(rec, quietLogger())
			orch, ext, sc := newPipeline(t, &MockRetriever{Data: tt.data}, svc, services.DefaultTimeouts())

			_, err := orch.Analyze(context.Background(), services.Request{Reference: "upload"})

			var ae *domain.AnalysisError
			if !errors.As(err, &ae) {
				t.Fatalf("expected *AnalysisError, got %v", err)
			}
			if ae.Stage != domain.StageTranscribing || ae.Kind != tt.wantKind {
				t.Fatalf("got Failed(%s, %s), want Failed(Transcribing, %s)", ae.Stage, ae.Kind, tt.wantKind)
			}
			if rec.calls != 0 {
				t.Errorf("recognizer should not be called for bad input")
			}
			if ext.Called() || sc.Called() {
				t.Errorf("extractor/scorer must not run after a transcription failure")
			}
		})
	}
}

func TestOrchestrator_StageTimeout(t *testing.T) {
	tests := []struct {
		name      string
		retriever *MockRetriever
		trans     *MockTranscriber
		timeouts  services.Timeouts
		wantStage domain.Stage
		wantKind  domain.Kind
	}{
		{
			name:      "slow transcription",
			retriever: &MockRetriever{Data: []byte("audio")},
			trans:     &MockTranscriber{Delay: time.Second, Transcript: sampleTranscript()},
			timeouts:  services.Timeouts{Transcribe: 20 * time.Millisecond},
			wantStage: domain.StageTranscribing,
			wantKind:  domain.KindTranscriptionTimeout,
		},
		{
			name:      "slow retrieval",
			retriever: &MockRetriever{Delay: time.Second, Data: []byte("audio")},
			trans:     &MockTranscriber{Transcript: sampleTranscript()},
			timeouts:  services.Timeouts{Retrieve: 20 * time.Millisecond},
			wantStage: domain.StageRetrieving,
			wantKind:  domain.KindTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch, ext, _ := newPipeline(t, tt.retriever, tt.trans, tt.timeouts)

			start := time.Now()
			_, err := orch.Analyze(context.Background(), services.Request{Reference: "talk.wav"})
			if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
				t.Fatalf("timeout not enforced, took %s", elapsed)
			}

			var ae *domain.AnalysisError
			if !errors.As(err, &ae) {
				t.Fatalf("expected *AnalysisError, got %v", err)
			}
			if ae.Stage != tt.wantStage || ae.Kind != tt.wantKind {
				t.Fatalf("got Failed(%s, %s), want Failed(%s, %s)", ae.Stage, ae.Kind, tt.wantStage, tt.wantKind)
			}
			if ext.Called() {
				t.Errorf("extractor must not run after a timeout")
			}
		})
	}
}

func TestOrchestrator_CallerCancellation(t *testing.T) {
	orch, _, _ := newPipeline(t,
		&MockRetriever{Data: []byte("audio")},
		&MockTranscriber{Delay: time.Second, Transcript: sampleTranscript()},
		services.DefaultTimeouts(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := orch.Analyze(ctx, services.Request{Reference: "talk.wav"})
	var ae *domain.AnalysisError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *AnalysisError, got %v", err)
	}
	if ae.Kind != domain.KindCanceled {
		t.Fatalf("expected Canceled, got %s", ae.Kind)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected error chain to carry context.Canceled")
	}
}

func TestOrchestrator_Idempotent(t *testing.T) {
	orch, _, _ := newPipeline(t,
		&MockRetriever{Data: []byte("audio")},
		&MockTranscriber{Transcript: sampleTranscript()},
		services.DefaultTimeouts(),
	)
	req := services.Request{Reference: "talk.wav"}

	first, err := orch.Analyze(context.Background(), req)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := orch.Analyze(context.Background(), req)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("results differ between identical runs:\n%+v\n%+v", first, second)
	}
}

func TestOrchestrator_Transitions(t *testing.T) {
	tests := []struct {
		name  string
		trans *MockTranscriber
		want  []domain.Stage
	}{
		{
			name:  "success",
			trans: &MockTranscriber{Transcript: sampleTranscript()},
			want: []domain.Stage{
				domain.StageRetrieving, domain.StageTranscribing, domain.StageExtracting,
				domain.StageScoring, domain.StageDone,
			},
		},
		{
			name:  "failure",
			trans: &MockTranscriber{Err: errors.New("boom")},
			want:  []domain.Stage{domain.StageRetrieving, domain.StageTranscribing, domain.StageFailed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch, _, _ := newPipeline(t, &MockRetriever{Data: []byte("audio")}, tt.trans, services.DefaultTimeouts())

			var got []services.Transition
			orch.OnTransition(func(tr services.Transition) { got = append(got, tr) })

			_, _ = orch.Analyze(context.Background(), services.Request{Reference: "talk.wav"})

			if len(got) != len(tt.want) {
				t.Fatalf("got %d transitions, want %d", len(got), len(tt.want))
			}
			prev := domain.StagePending
			for i, tr := range got {
				if tr.From != prev || tr.To != tt.want[i] {
					t.Errorf("transition %d: got %s→%s, want %s→%s", i, tr.From, tr.To, prev, tt.want[i])
				}
				if tr.RequestID != got[0].RequestID {
					t.Errorf("request id changed mid-run")
				}
				prev = tr.To
			}
			last := got[len(got)-1]
			if !last.To.Terminal() {
				t.Errorf("last transition %s is not terminal", last.To)
			}
			if (last.To == domain.StageFailed) != (last.Err != nil) {
				t.Errorf("failure transition must carry its error")
			}
		})
	}
}

// --- Mocks ---

type MockRetriever struct {
	Data  []byte
	Err   error
	Delay time.Duration
}

func (m *MockRetriever) Retrieve(ctx context.Context, _ domain.RecordingReference) ([]byte, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.Data, m.Err
}

type MockTranscriber struct {
	Transcript domain.Transcript
	Err        error
	// Delay ignores ctx so the orchestrator's own deadline is what ends the stage.
	Delay time.Duration
}

func (m *MockTranscriber) Transcribe(_ context.Context, _ []byte, _ domain.AudioHints) (domain.Transcript, error) {
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}
	return m.Transcript, m.Err
}

type MockRecognizer struct {
	calls int
}

func (m *MockRecognizer) Recognize(context.Context, ports.RecognizeRequest) ([]domain.TranscriptSegment, error) {
	m.calls++
	return nil, nil
}

type MockExtractor struct {
	next  ports.FeatureExtractor
	mu    sync.Mutex
	calls int
}

func (m *MockExtractor) Extract(t domain.Transcript, audio []byte) (domain.FeatureVector, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	// The stub audio bytes are not a real container; score from the transcript only.
	return m.next.Extract(t, nil)
}

func (m *MockExtractor) Called() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls > 0
}

type MockScorer struct {
	next  ports.Scorer
	mu    sync.Mutex
	calls int
}

func (m *MockScorer) Score(fv domain.FeatureVector) (domain.AnalysisResult, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.next.Score(fv)
}

func (m *MockScorer) CheckConstraints(t domain.Transcript, fv domain.FeatureVector, sub map[string]float64, c domain.Constraints) domain.ConstraintResult {
	return m.next.CheckConstraints(t, fv, sub, c)
}

func (m *MockScorer) Called() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls > 0
}
