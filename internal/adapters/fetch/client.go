// Package fetch retrieves recordings by reference: store keys from the local
// recording store, URLs and S3 objects over HTTP.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"github.com/ewilliams-labs/cadence/internal/core/ports"
	"github.com/ewilliams-labs/cadence/internal/httpx"
)

// DefaultMaxBytes caps a downloaded recording.
const DefaultMaxBytes = 200 << 20

// Config configures HTTP retrieval.
type Config struct {
	// Remote enables http(s) and S3 references; store keys always work.
	Remote       bool          `yaml:"remote" json:"remote"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	MaxBytes     int64         `yaml:"max_bytes" json:"max_bytes"`
	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
}

// Client downloads recordings from http(s) URLs.
type Client struct {
	doer     *httpx.Client
	maxBytes int64
}

func NewClient(cfg Config, log logrus.FieldLogger) *Client {
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Client{
		doer: &httpx.Client{
			HTTP:        &http.Client{Timeout: cfg.Timeout},
			MaxRetries:  cfg.MaxRetries,
			BaseBackoff: cfg.RetryBackoff,
			Name:        "fetch",
			Log:         log,
		},
		maxBytes: maxBytes,
	}
}

// Get downloads url. A 404 or 403 is reported as domain.ErrRecordingNotFound
// (S3 answers 403 for missing keys without list permission); any other
// failure as domain.ErrRetrievalFailed.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: build request: %w: %w", domain.ErrInvalidReference, err)
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("fetch: %w", ctxErr)
		}
		return nil, fmt.Errorf("fetch: %w: %w", domain.ErrRetrievalFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("fetch: %s: status %d: %w", req.URL.Redacted(), resp.StatusCode, domain.ErrRecordingNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("fetch: %s: unexpected status %d: %w", req.URL.Redacted(), resp.StatusCode, domain.ErrRetrievalFailed)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("fetch: read body: %w", err)
		}
		return nil, fmt.Errorf("fetch: read body: %w: %w", domain.ErrRetrievalFailed, err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, fmt.Errorf("fetch: recording exceeds %d bytes: %w", c.maxBytes, domain.ErrRetrievalFailed)
	}
	return data, nil
}

// Router dispatches a reference to the store or to the HTTP client
// depending on its kind.
type Router struct {
	store ports.AudioRetriever
	http  *Client
	log   logrus.FieldLogger
}

var _ ports.AudioRetriever = (*Router)(nil)

// NewRouter builds a Router. store may be nil, in which case key references
// fail as not found.
func NewRouter(store ports.AudioRetriever, client *Client, log logrus.FieldLogger) *Router {
	return &Router{store: store, http: client, log: log}
}

func (r *Router) Retrieve(ctx context.Context, ref domain.RecordingReference) ([]byte, error) {
	parsed, err := domain.ParseReference(ref)
	if err != nil {
		return nil, err
	}
	log := r.log.WithFields(logrus.Fields{"reference": ref.String(), "kind": parsed.Kind})

	switch parsed.Kind {
	case domain.ReferenceKey:
		if r.store == nil {
			return nil, fmt.Errorf("fetch: no recording store for key %q: %w", parsed.Key, domain.ErrRecordingNotFound)
		}
		log.Debug("fetch: loading from store")
		return r.store.Retrieve(ctx, domain.RecordingReference(parsed.Key))
	default:
		if r.http == nil {
			return nil, fmt.Errorf("fetch: remote retrieval disabled for %q: %w", ref, domain.ErrRetrievalFailed)
		}
		log.WithField("bucket", parsed.Bucket).Debug("fetch: downloading")
		return r.http.Get(ctx, parsed.URL)
	}
}
