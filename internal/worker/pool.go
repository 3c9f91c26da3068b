// Package worker runs transcription jobs on a bounded pool of goroutines.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"github.com/ewilliams-labs/cadence/internal/core/ports"
)

// Job is a queued transcription request.
type Job struct {
	ID    string
	ctx   context.Context
	audio []byte
	hints domain.AudioHints
	done  chan result
}

type result struct {
	transcript domain.Transcript
	err        error
}

// Pool bounds the number of in-flight transcriptions. It implements
// ports.Transcriber so the orchestrator does not know it is there.
//
// Submissions beyond the queue capacity are rejected with
// domain.ErrOverloaded instead of waiting.
type Pool struct {
	next ports.Transcriber
	jobs chan Job
	log  logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

var _ ports.Transcriber = (*Pool)(nil)

// NewPool creates a pool in front of next with the given queue size.
func NewPool(next ports.Transcriber, queueSize int, log logrus.FieldLogger) *Pool {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pool{next: next, jobs: make(chan Job, queueSize), log: log}
}

// Start launches the worker goroutines.
func (p *Pool) Start(workers int) {
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				p.processJob(job)
			}
		}()
	}
}

// Stop rejects new work, drains the queue and waits for workers to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

// Transcribe queues the job and waits for its result. When ctx ends first the
// caller gets ctx's error and the worker's eventual result is discarded.
func (p *Pool) Transcribe(ctx context.Context, audio []byte, hints domain.AudioHints) (domain.Transcript, error) {
	job := Job{
		ID:    uuid.NewString(),
		ctx:   ctx,
		audio: audio,
		hints: hints,
		done:  make(chan result, 1),
	}
	if err := p.submit(job); err != nil {
		return domain.Transcript{}, err
	}

	select {
	case r := <-job.done:
		return r.transcript, r.err
	case <-ctx.Done():
		p.log.WithField("job_id", job.ID).Warn("worker: caller gone, discarding transcription result")
		return domain.Transcript{}, fmt.Errorf("worker: waiting for job %s: %w", job.ID, ctx.Err())
	}
}

func (p *Pool) submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("worker: pool stopped: %w", domain.ErrOverloaded)
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		p.log.WithField("job_id", job.ID).Warn("worker: queue full, rejecting job")
		return fmt.Errorf("worker: queue full (%d): %w", cap(p.jobs), domain.ErrOverloaded)
	}
}

func (p *Pool) processJob(job Job) {
	log := p.log.WithField("job_id", job.ID)
	if err := job.ctx.Err(); err != nil {
		log.Info("worker: job abandoned before start")
		job.done <- result{err: err}
		return
	}

	start := time.Now()
	t, err := p.next.Transcribe(job.ctx, job.audio, job.hints)
	job.done <- result{transcript: t, err: err}

	fields := logrus.Fields{"elapsed": time.Since(start).String(), "segments": len(t.Segments)}
	if err != nil {
		log.WithFields(fields).WithError(err).Warn("worker: transcription failed")
		return
	}
	log.WithFields(fields).Info("worker: transcription done")
}
