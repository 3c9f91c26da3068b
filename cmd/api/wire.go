package main

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ewilliams-labs/cadence/internal/adapters/asr"
	"github.com/ewilliams-labs/cadence/internal/adapters/fetch"
	"github.com/ewilliams-labs/cadence/internal/adapters/sqlite"
	"github.com/ewilliams-labs/cadence/internal/adapters/whisperx"
	"github.com/ewilliams-labs/cadence/internal/config"
	"github.com/ewilliams-labs/cadence/internal/core/features"
	"github.com/ewilliams-labs/cadence/internal/core/ports"
	"github.com/ewilliams-labs/cadence/internal/core/scoring"
	"github.com/ewilliams-labs/cadence/internal/core/services"
	"github.com/ewilliams-labs/cadence/internal/transcription"
	"github.com/ewilliams-labs/cadence/internal/worker"
)

// app holds the wired components and their teardown.
type app struct {
	orch      *services.Orchestrator
	extractor *features.Extractor
	scorer    *scoring.Scorer
	store     *sqlite.Adapter
	pool      *worker.Pool
	closers   []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// wire builds the pipeline. A nil retriever selects the store/URL router.
func wire(cfg config.Root, log *logrus.Logger, retriever ports.AudioRetriever) (*app, error) {
	a := &app{}

	if retriever == nil {
		var store ports.AudioRetriever
		if cfg.Storage.Driver == "sqlite" {
			db, err := sqlite.NewAdapter(cfg.Storage.Path)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize database: %w", err)
			}
			a.store = db
			a.closers = append(a.closers, db.Close)
			store = db
		}
		var client *fetch.Client
		if cfg.Fetch.Remote {
			client = fetch.NewClient(cfg.Fetch, log.WithField("component", "fetch"))
		}
		retriever = fetch.NewRouter(store, client, log.WithField("component", "fetch"))
	}

	rec, err := newRecognizer(cfg.Transcriber, log)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	svc := transcription.NewService(rec, log.WithField("component", "transcription"))

	a.pool = worker.NewPool(svc, cfg.Transcriber.Pool.Queue, log.WithField("component", "worker"))
	a.pool.Start(cfg.Transcriber.Pool.Workers)
	a.closers = append(a.closers, func() error { a.pool.Stop(); return nil })

	ext, err := features.NewExtractor(cfg.Features)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	sc, err := scoring.New(cfg.Scoring)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.extractor, a.scorer = ext, sc
	a.orch = services.NewOrchestrator(retriever, a.pool, ext, sc, cfg.Timeouts, log.WithField("component", "orchestrator"))
	return a, nil
}

func newRecognizer(cfg config.Transcriber, log *logrus.Logger) (ports.Recognizer, error) {
	switch cfg.Backend {
	case config.BackendHTTP:
		return asr.NewClient(cfg.HTTP, log.WithField("component", "asr"))
	case config.BackendWhisperX:
		return whisperx.New(cfg.WhisperX, log.WithField("component", "whisperx")), nil
	default:
		return nil, fmt.Errorf("unknown transcriber backend %q", cfg.Backend)
	}
}

// engineInfo is what GET /config reports.
type engineInfo struct {
	Backend  string            `json:"transcriber_backend"`
	Pool     config.Pool       `json:"transcriber_pool"`
	Timeouts services.Timeouts `json:"timeouts"`
	Features features.Config   `json:"features"`
	Scoring  scoring.Config    `json:"scoring"`
}

// newEngineInfo reports the parameters the wired components actually run with.
func newEngineInfo(cfg config.Root, a *app) engineInfo {
	return engineInfo{
		Backend:  cfg.Transcriber.Backend,
		Pool:     cfg.Transcriber.Pool,
		Timeouts: a.orch.Timeouts(),
		Features: a.extractor.Config(),
		Scoring:  a.scorer.Config(),
	}
}
