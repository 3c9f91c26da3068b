package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"github.com/ewilliams-labs/cadence/internal/core/ports"
)

// Timeouts bounds each stage independently. A zero value disables the bound
// for that stage.
type Timeouts struct {
	Retrieve   time.Duration `yaml:"retrieve" json:"retrieve"`
	Transcribe time.Duration `yaml:"transcribe" json:"transcribe"`
	Extract    time.Duration `yaml:"extract" json:"extract"`
	Score      time.Duration `yaml:"score" json:"score"`
}

// DefaultTimeouts returns the stock per-stage budgets.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Retrieve:   30 * time.Second,
		Transcribe: 5 * time.Minute,
		Extract:    10 * time.Second,
		Score:      5 * time.Second,
	}
}

// Request is one analysis request.
type Request struct {
	Reference   domain.RecordingReference
	Hints       domain.AudioHints
	Constraints domain.Constraints
}

// Transition records one state change of a request.
type Transition struct {
	RequestID string
	From      domain.Stage
	To        domain.Stage
	At        time.Time
	Err       *domain.AnalysisError
}

// Orchestrator drives a request through
// Pending → Retrieving → Transcribing → Extracting → Scoring → Done,
// stopping at the first failure. It keeps no per-request state between
// calls and never retries a stage.
type Orchestrator struct {
	retriever   ports.AudioRetriever
	transcriber ports.Transcriber
	extractor   ports.FeatureExtractor
	scorer      ports.Scorer
	timeouts    Timeouts
	log         logrus.FieldLogger
	observe     func(Transition)
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(
	retriever ports.AudioRetriever,
	transcriber ports.Transcriber,
	extractor ports.FeatureExtractor,
	scorer ports.Scorer,
	timeouts Timeouts,
	log logrus.FieldLogger,
) *Orchestrator {
	return &Orchestrator{
		retriever:   retriever,
		transcriber: transcriber,
		extractor:   extractor,
		scorer:      scorer,
		timeouts:    timeouts,
		log:         log,
	}
}

// OnTransition registers fn to be called synchronously on every state change.
// It must be set before the orchestrator is shared between goroutines.
func (o *Orchestrator) OnTransition(fn func(Transition)) { o.observe = fn }

// Timeouts returns the configured stage budgets.
func (o *Orchestrator) Timeouts() Timeouts { return o.timeouts }

// run is the state of a single request.
type run struct {
	o     *Orchestrator
	id    string
	state domain.Stage
	log   logrus.FieldLogger
}

func (r *run) enter(next domain.Stage, fail *domain.AnalysisError) {
	from := r.state
	r.state = next
	entry := r.log.WithFields(logrus.Fields{"from": from, "to": next})
	if fail != nil {
		entry.WithFields(logrus.Fields{"stage": fail.Stage, "kind": fail.Kind}).WithError(fail.Err).Warn("analysis: failed")
	} else {
		entry.Debug("analysis: transition")
	}
	if r.o.observe != nil {
		r.o.observe(Transition{RequestID: r.id, From: from, To: next, At: time.Now(), Err: fail})
	}
}

func (r *run) fail(stage domain.Stage, parent context.Context, err error) *domain.AnalysisError {
	ae := classify(stage, parent, err)
	r.enter(domain.StageFailed, ae)
	return ae
}

// Analyze runs the full pipeline for req. On failure the returned error is a
// *domain.AnalysisError naming the stage and kind.
func (o *Orchestrator) Analyze(ctx context.Context, req Request) (domain.AnalysisResult, error) {
	r := &run{o: o, id: uuid.NewString(), state: domain.StagePending}
	r.log = o.log.WithFields(logrus.Fields{"request_id": r.id, "reference": req.Reference.String()})
	start := time.Now()

	r.enter(domain.StageRetrieving, nil)
	audio, err := runStage(ctx, o.timeouts.Retrieve, func(ctx context.Context) ([]byte, error) {
		return o.retriever.Retrieve(ctx, req.Reference)
	})
	if err != nil {
		return domain.AnalysisResult{}, r.fail(domain.StageRetrieving, ctx, err)
	}

	r.enter(domain.StageTranscribing, nil)
	transcript, err := runStage(ctx, o.timeouts.Transcribe, func(ctx context.Context) (domain.Transcript, error) {
		return o.transcriber.Transcribe(ctx, audio, req.Hints)
	})
	if err != nil {
		return domain.AnalysisResult{}, r.fail(domain.StageTranscribing, ctx, err)
	}
	if err := transcript.Validate(); err != nil {
		return domain.AnalysisResult{}, r.fail(domain.StageTranscribing, ctx, err)
	}

	r.enter(domain.StageExtracting, nil)
	features, err := runStage(ctx, o.timeouts.Extract, func(context.Context) (domain.FeatureVector, error) {
		return o.extractor.Extract(transcript, audio)
	})
	if err != nil {
		return domain.AnalysisResult{}, r.fail(domain.StageExtracting, ctx, err)
	}

	r.enter(domain.StageScoring, nil)
	result, err := runStage(ctx, o.timeouts.Score, func(context.Context) (domain.AnalysisResult, error) {
		res, err := o.scorer.Score(features)
		if err != nil {
			return domain.AnalysisResult{}, err
		}
		if !req.Constraints.Empty() {
			cr := o.scorer.CheckConstraints(transcript, features, res.SubScores, req.Constraints)
			res.Constraints = &cr
		}
		return res, nil
	})
	if err != nil {
		return domain.AnalysisResult{}, r.fail(domain.StageScoring, ctx, err)
	}
	result.Transcript = transcript

	r.enter(domain.StageDone, nil)
	r.log.WithFields(logrus.Fields{
		"overall_score": result.OverallScore,
		"segments":      len(transcript.Segments),
		"elapsed":       time.Since(start).String(),
	}).Info("analysis: done")
	return result, nil
}

// classify turns a stage error into the tagged failure. Deadlines and
// cancellation are resolved first: a stage deadline is a Timeout (or
// TranscriptionTimeout while transcribing), while an ended parent context
// means the caller went away.
func classify(stage domain.Stage, parent context.Context, err error) *domain.AnalysisError {
	var kind domain.Kind
	switch {
	case parent.Err() != nil:
		kind = domain.KindCanceled
		if !errors.Is(err, parent.Err()) {
			err = fmt.Errorf("%w (caller: %v)", err, parent.Err())
		}
	case errors.Is(err, errStageTimeout), errors.Is(err, context.DeadlineExceeded):
		kind = domain.KindTimeout
		if stage == domain.StageTranscribing {
			kind = domain.KindTranscriptionTimeout
		}
	default:
		kind = domain.KindOf(err, defaultKind(stage))
	}
	return &domain.AnalysisError{Stage: stage, Kind: kind, Message: err.Error(), Err: err}
}

func defaultKind(stage domain.Stage) domain.Kind {
	switch stage {
	case domain.StageRetrieving:
		return domain.KindRetrievalFailed
	case domain.StageTranscribing:
		return domain.KindTranscriptionFailed
	default:
		return domain.KindInternal
	}
}
