package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestPool_Transcribe(t *testing.T) {
	next := &MockTranscriber{transcript: domain.Transcript{DurationMs: 1000}}
	p := NewPool(next, 4, quietLogger())
	p.Start(2)
	defer p.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := p.Transcribe(context.Background(), []byte("a"), domain.AudioHints{})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if got.DurationMs != 1000 {
				t.Errorf("duration: got %d", got.DurationMs)
			}
		}()
	}
	wg.Wait()

	if n := next.calls.Load(); n != 4 {
		t.Fatalf("backend calls: got %d, want 4", n)
	}
}

func TestPool_RejectsWhenFull(t *testing.T) {
	release := make(chan struct{})
	next := &MockTranscriber{block: release}
	p := NewPool(next, 1, quietLogger())
	p.Start(1)
	defer p.Stop()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// One job occupies the worker, one fills the queue.
	go func() { _, _ = p.Transcribe(ctx, nil, domain.AudioHints{}) }()
	waitFor(t, func() bool { return next.calls.Load() == 1 })
	go func() { _, _ = p.Transcribe(ctx, nil, domain.AudioHints{}) }()
	waitFor(t, func() bool { return len(p.jobs) == 1 })

	_, err := p.Transcribe(context.Background(), nil, domain.AudioHints{})
	if !errors.Is(err, domain.ErrOverloaded) {
		t.Fatalf("expected ErrOverloaded, got %v", err)
	}
}

func TestPool_CallerCancellation(t *testing.T) {
	release := make(chan struct{})
	next := &MockTranscriber{block: release}
	p := NewPool(next, 2, quietLogger())
	p.Start(1)
	defer p.Stop()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Transcribe(ctx, nil, domain.AudioHints{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestPool_SkipsAbandonedJobs(t *testing.T) {
	release := make(chan struct{})
	next := &MockTranscriber{block: release}
	p := NewPool(next, 2, quietLogger())
	p.Start(1)
	defer p.Stop()

	busyCtx, cancelBusy := context.WithCancel(context.Background())
	go func() { _, _ = p.Transcribe(busyCtx, nil, domain.AudioHints{}) }()
	waitFor(t, func() bool { return next.calls.Load() == 1 })

	// Queued behind the busy job, then abandoned before a worker picks it up.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Transcribe(ctx, nil, domain.AudioHints{})
		done <- err
	}()
	waitFor(t, func() bool { return len(p.jobs) == 1 })
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}

	close(release)
	cancelBusy()
	p.Stop()
	if n := next.calls.Load(); n != 1 {
		t.Fatalf("abandoned job reached the backend: %d calls", n)
	}
}

func TestPool_StopRejectsNewWork(t *testing.T) {
	p := NewPool(&MockTranscriber{}, 1, quietLogger())
	p.Start(1)
	p.Stop()
	p.Stop()

	_, err := p.Transcribe(context.Background(), nil, domain.AudioHints{})
	if !errors.Is(err, domain.ErrOverloaded) {
		t.Fatalf("expected ErrOverloaded after stop, got %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

// --- Mocks ---

type MockTranscriber struct {
	transcript domain.Transcript
	err        error
	block      chan struct{}
	calls      atomic.Int32
}

func (m *MockTranscriber) Transcribe(ctx context.Context, _ []byte, _ domain.AudioHints) (domain.Transcript, error) {
	m.calls.Add(1)
	if m.block != nil {
		<-m.block
	}
	return m.transcript, m.err
}
