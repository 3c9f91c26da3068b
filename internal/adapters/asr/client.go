// Package asr provides a speech-recognition backend reached over HTTP.
//
// The service receives the recording as a multipart upload on POST
// /transcribe and answers either with timed segments
// ({"segments":[{"start":1.2,"end":3.4,"text":"..."}]}) or with an Amazon
// Transcribe style item list, which is grouped into segments here.
package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"github.com/ewilliams-labs/cadence/internal/core/ports"
	"github.com/ewilliams-labs/cadence/internal/httpx"
)

const (
	FormatSegments = "segments"
	FormatAWS      = "aws"

	defaultSegmentGapMs = 1500
)

// OAuth enables the client-credentials flow when ClientID is set.
type OAuth struct {
	ClientID     string   `yaml:"client_id" json:"client_id"`
	ClientSecret string   `yaml:"client_secret" json:"-"`
	TokenURL     string   `yaml:"token_url" json:"token_url"`
	Scopes       []string `yaml:"scopes" json:"scopes"`
}

// Config configures the HTTP recognizer.
type Config struct {
	URL     string        `yaml:"url" json:"url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// Format is the response shape: "segments" or "aws".
	Format string `yaml:"format" json:"format"`
	// SegmentGapMs splits aws items into a new segment at pauses this long.
	SegmentGapMs int64         `yaml:"segment_gap_ms" json:"segment_gap_ms"`
	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
	OAuth        OAuth         `yaml:"oauth" json:"oauth"`
}

type Client struct {
	baseURL string
	format  string
	gapMs   int64
	doer    *httpx.Client
	log     logrus.FieldLogger
}

var _ ports.Recognizer = (*Client)(nil)

// NewClient builds a Client. The OAuth token source is bound to a background
// context so cached tokens outlive any single request.
func NewClient(cfg Config, log logrus.FieldLogger) (*Client, error) {
	baseURL := strings.TrimRight(cfg.URL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("asr: url is required")
	}
	format := cfg.Format
	if format == "" {
		format = FormatSegments
	}
	if format != FormatSegments && format != FormatAWS {
		return nil, fmt.Errorf("asr: unknown response format %q", format)
	}
	gap := cfg.SegmentGapMs
	if gap <= 0 {
		gap = defaultSegmentGapMs
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	if cfg.OAuth.ClientID != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			TokenURL:     cfg.OAuth.TokenURL,
			Scopes:       cfg.OAuth.Scopes,
		}
		httpClient = cc.Client(context.Background())
		httpClient.Timeout = cfg.Timeout
	}

	return &Client{
		baseURL: baseURL,
		format:  format,
		gapMs:   gap,
		doer: &httpx.Client{
			HTTP:        httpClient,
			MaxRetries:  cfg.MaxRetries,
			BaseBackoff: cfg.RetryBackoff,
			Name:        "asr",
			Log:         log,
		},
		log: log,
	}, nil
}

// Recognize uploads the recording and returns raw segments.
func (c *Client) Recognize(ctx context.Context, req ports.RecognizeRequest) ([]domain.TranscriptSegment, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	fw, err := w.CreateFormFile("file", "recording."+req.Format)
	if err != nil {
		return nil, fmt.Errorf("asr: build form: %w", err)
	}
	if _, err := fw.Write(req.Audio); err != nil {
		return nil, fmt.Errorf("asr: build form: %w", err)
	}
	if req.SampleRate > 0 {
		if err := w.WriteField("sample_rate", strconv.Itoa(req.SampleRate)); err != nil {
			return nil, fmt.Errorf("asr: build form: %w", err)
		}
	}
	if req.Language != "" {
		if err := w.WriteField("language", req.Language); err != nil {
			return nil, fmt.Errorf("asr: build form: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("asr: build form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", bytes.NewReader(body.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("asr: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.doer.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("asr: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var segs []domain.TranscriptSegment
	switch c.format {
	case FormatAWS:
		var out awsResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("asr: decode response: %w", err)
		}
		segs, err = groupItems(out.Results.Items, c.gapMs)
		if err != nil {
			return nil, err
		}
	default:
		var out segmentsResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("asr: decode response: %w", err)
		}
		segs = make([]domain.TranscriptSegment, 0, len(out.Segments))
		for _, s := range out.Segments {
			segs = append(segs, domain.TranscriptSegment{StartMs: toMs(s.Start), EndMs: toMs(s.End), Text: s.Text})
		}
	}

	c.log.WithFields(logrus.Fields{"format": c.format, "segments": len(segs)}).Debug("asr: recognized")
	return segs, nil
}

type segmentsResponse struct {
	Segments []struct {
		Start decimal.Decimal `json:"start"`
		End   decimal.Decimal `json:"end"`
		Text  string          `json:"text"`
	} `json:"segments"`
	Language string `json:"language"`
}

type awsResponse struct {
	Results struct {
		Items []awsItem `json:"items"`
	} `json:"results"`
}

type awsItem struct {
	Type         string `json:"type"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	Alternatives []struct {
		Content string `json:"content"`
	} `json:"alternatives"`
}

// groupItems joins pronunciation items into segments, starting a new one
// after sentence punctuation or a pause of at least gapMs.
func groupItems(items []awsItem, gapMs int64) ([]domain.TranscriptSegment, error) {
	var (
		out      []domain.TranscriptSegment
		cur      *domain.TranscriptSegment
		words    []string
		flushNow bool
	)
	flush := func() {
		if cur != nil && len(words) > 0 {
			cur.Text = strings.Join(words, " ")
			out = append(out, *cur)
		}
		cur, words = nil, nil
	}

	for i, it := range items {
		if len(it.Alternatives) == 0 {
			continue
		}
		content := it.Alternatives[0].Content
		if it.Type == "punctuation" {
			if len(words) > 0 {
				words[len(words)-1] += content
			}
			if strings.ContainsAny(content, ".?!") {
				flushNow = true
			}
			continue
		}

		start, err := decimal.NewFromString(it.StartTime)
		if err != nil {
			return nil, fmt.Errorf("asr: item %d start_time %q: %w", i, it.StartTime, err)
		}
		end, err := decimal.NewFromString(it.EndTime)
		if err != nil {
			return nil, fmt.Errorf("asr: item %d end_time %q: %w", i, it.EndTime, err)
		}
		startMs, endMs := toMs(start), toMs(end)

		if cur != nil && (flushNow || startMs-cur.EndMs >= gapMs) {
			flush()
		}
		flushNow = false
		if cur == nil {
			cur = &domain.TranscriptSegment{StartMs: startMs}
		}
		cur.EndMs = endMs
		words = append(words, content)
	}
	flush()
	return out, nil
}

func toMs(sec decimal.Decimal) int64 {
	return sec.Mul(decimal.NewFromInt(1000)).Round(0).IntPart()
}
