package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ewilliams-labs/cadence/internal/config"
	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"github.com/ewilliams-labs/cadence/internal/core/ports"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("server:\n  addr: \":9191\"\nlog:\n  level: error\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out, err := runCmd(t, "config", "--config", cfgPath)
	if err != nil {
		t.Fatalf("config command: %v", err)
	}
	for _, want := range []string{":9191", "feedback_threshold: 50", "transcribe: 5m0s"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q\n%s", want, out)
		}
	}
}

func TestAnalyzeCommand_UnsupportedFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("log:\n  level: error\nstorage:\n  driver: none\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	notes := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(notes, []byte("not audio at all"), 0o600); err != nil {
		t.Fatalf("write input: %v", err)
	}

	out, err := runCmd(t, "analyze", "--config", cfgPath, notes)
	if err == nil {
		t.Fatalf("expected analysis to fail")
	}
	if !strings.Contains(out, `"kind": "UnsupportedFormat"`) || !strings.Contains(out, `"stage": "Transcribing"`) {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestAnalyzeCommand_BadConstraints(t *testing.T) {
	if _, err := runCmd(t, "analyze", "--constraints", "{", "x.wav"); err == nil {
		t.Fatalf("expected error for malformed constraints")
	}
}

func TestEngineInfo_ReportsWiredComponents(t *testing.T) {
	cfg := config.Default()
	cfg.Timeouts.Score = 7 * time.Second
	cfg.Scoring.FeedbackThreshold = 42
	cfg.Features.LongPauseMs = 1500

	log := logrus.New()
	log.SetOutput(io.Discard)
	retriever := ports.RetrieverFunc(func(context.Context, domain.RecordingReference) ([]byte, error) {
		return nil, domain.ErrRecordingNotFound
	})

	a, err := wire(cfg, log, retriever)
	if err != nil {
		t.Fatalf("wire: %v", err)
	}
	defer a.Close()

	info := newEngineInfo(cfg, a)
	if info.Timeouts != cfg.Timeouts {
		t.Errorf("timeouts: got %+v, want %+v", info.Timeouts, cfg.Timeouts)
	}
	if info.Scoring.FeedbackThreshold != 42 || !reflect.DeepEqual(info.Scoring, cfg.Scoring) {
		t.Errorf("scoring config not taken from the scorer: %+v", info.Scoring)
	}
	if info.Features.LongPauseMs != 1500 {
		t.Errorf("features config not taken from the extractor: %+v", info.Features)
	}
	if info.Backend != config.BackendWhisperX {
		t.Errorf("backend: got %q", info.Backend)
	}
}
