// Package httpx provides the retrying HTTP client shared by the outbound
// adapters.
package httpx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxRetries = 3
	DefaultBackoff    = 500 * time.Millisecond
)

// Client retries requests that fail at the transport level or return 429 or
// a 5xx status, with exponential backoff honoring Retry-After.
type Client struct {
	HTTP        *http.Client
	MaxRetries  int
	BaseBackoff time.Duration
	// Name prefixes error messages and log lines.
	Name string
	Log  logrus.FieldLogger
}

// Do sends req, retrying as described on Client. The request body is
// buffered so it can be replayed. The response of the first non-retryable
// attempt is returned as is.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	attempts := c.MaxRetries
	if attempts <= 0 {
		attempts = DefaultMaxRetries
	}
	if err := bufferBody(req); err != nil {
		return nil, fmt.Errorf("%s: %w", c.Name, err)
	}

	ctx := req.Context()
	var (
		wait    time.Duration
		lastErr error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := sleepWithContext(ctx, wait); err != nil {
			return nil, fmt.Errorf("%s: %w", c.Name, err)
		}
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("%s: reset request body: %w", c.Name, err)
			}
			req.Body = body
		}

		resp, err := c.httpClient().Do(req)
		retryAfter, retry := retryable(ctx, resp, err)
		if !retry {
			return resp, err
		}
		if err == nil {
			err = fmt.Errorf("status %d", resp.StatusCode)
			_ = resp.Body.Close()
		}
		lastErr = err

		c.logger().WithFields(logrus.Fields{
			"attempt": attempt,
			"max":     attempts,
			"url":     req.URL.Redacted(),
		}).WithError(err).Warnf("%s: attempt failed", c.Name)

		wait = retryAfter
		if wait <= 0 {
			wait = c.backoff() << (attempt - 1)
		}
	}
	return nil, fmt.Errorf("%s: giving up after %d attempts: %w", c.Name, attempts, lastErr)
}

// bufferBody makes req replayable by giving it a GetBody.
func bufferBody(req *http.Request) error {
	if req.Body == nil || req.GetBody != nil {
		return nil
	}
	b, err := io.ReadAll(req.Body)
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	_ = req.Body.Close()
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}

func (c *Client) backoff() time.Duration {
	if c.BaseBackoff <= 0 {
		return DefaultBackoff
	}
	return c.BaseBackoff
}

func (c *Client) logger() logrus.FieldLogger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}

func retryable(ctx context.Context, resp *http.Response, err error) (time.Duration, bool) {
	if err != nil {
		// A caller deadline or cancellation is final.
		return 0, ctx.Err() == nil
	}
	if resp == nil {
		return 0, false
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return retryAfterDelay(resp.Header), true
	}
	return 0, false
}

// retryAfterDelay reads Retry-After as delta seconds or an HTTP date.
func retryAfterDelay(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(v); err == nil {
		if until := time.Until(when); until > 0 {
			return until
		}
	}
	return 0
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("request canceled: %w", err)
		}
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
