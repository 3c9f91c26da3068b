// Package whisperx runs the whisperx command-line transcriber.
package whisperx

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"github.com/ewilliams-labs/cadence/internal/core/ports"
)

type (
	transcribeResult struct {
		Segments []segment `json:"segments"`
	}

	segment struct {
		Text  string          `json:"text"`
		Start decimal.Decimal `json:"start"`
		End   decimal.Decimal `json:"end"`
	}
)

// Config configures the CLI invocation.
type Config struct {
	Binary string   `yaml:"binary" json:"binary"`
	Model  string   `yaml:"model" json:"model"`
	Device string   `yaml:"device" json:"device"`
	Args   []string `yaml:"args" json:"args"`
}

// Transcriber implements ports.Recognizer by shelling out to whisperx.
type Transcriber struct {
	cfg Config
	log logrus.FieldLogger
}

var _ ports.Recognizer = (*Transcriber)(nil)

func New(cfg Config, log logrus.FieldLogger) *Transcriber {
	if cfg.Binary == "" {
		cfg.Binary = "whisperx"
	}
	return &Transcriber{cfg: cfg, log: log}
}

func (w *Transcriber) Recognize(ctx context.Context, req ports.RecognizeRequest) ([]domain.TranscriptSegment, error) {
	dir, err := os.MkdirTemp("", "cadence-whisperx-*")
	if err != nil {
		return nil, fmt.Errorf("whisperx: create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	ext := req.Format
	if ext == "" {
		ext = "wav"
	}
	input := filepath.Join(dir, "recording."+ext)
	if err := os.WriteFile(input, req.Audio, 0o600); err != nil {
		return nil, fmt.Errorf("whisperx: write input: %w", err)
	}

	cmd := exec.CommandContext(ctx, w.cfg.Binary, w.args(input, dir, req.Language)...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("whisperx: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("whisperx: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("whisperx: start: %w", err)
	}

	done := make(chan struct{}, 2)
	go w.pipe(stderr, "stderr", done)
	go w.pipe(stdout, "stdout", done)
	<-done
	<-done

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("whisperx: %w", ctxErr)
		}
		return nil, fmt.Errorf("transcribing with whisperx: %w", err)
	}

	f, err := os.Open(filepath.Join(dir, "recording.json"))
	if err != nil {
		return nil, fmt.Errorf("opening whisperx transcribe result: %w", err)
	}
	defer f.Close()
	return parseResult(f)
}

func (w *Transcriber) args(input, outDir, language string) []string {
	args := []string{input, "--output_format", "json", "--output_dir", outDir}
	if w.cfg.Model != "" {
		args = append(args, "--model", w.cfg.Model)
	}
	if w.cfg.Device != "" {
		args = append(args, "--device", w.cfg.Device)
	}
	if language != "" {
		args = append(args, "--language", language)
	}
	return append(args, w.cfg.Args...)
}

func (w *Transcriber) pipe(r io.Reader, stream string, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	scanner := bufio.NewScanner(r)
	scanner.Split(bufio.ScanLines)
	log := w.log.WithField("stream", stream)
	for scanner.Scan() {
		log.Debug(scanner.Text())
	}
}

func parseResult(r io.Reader) ([]domain.TranscriptSegment, error) {
	var tr transcribeResult
	if err := json.NewDecoder(r).Decode(&tr); err != nil {
		return nil, fmt.Errorf("decoding whisperx json result: %w", err)
	}
	thousand := decimal.NewFromInt(1000)
	segs := make([]domain.TranscriptSegment, len(tr.Segments))
	for n, s := range tr.Segments {
		segs[n] = domain.TranscriptSegment{
			Text:    s.Text,
			StartMs: s.Start.Mul(thousand).Round(0).IntPart(),
			EndMs:   s.End.Mul(thousand).Round(0).IntPart(),
		}
	}
	return segs, nil
}
