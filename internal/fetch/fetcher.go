// Package fetch provides the resilient HTTP fetcher shared by all network
// source adapters. A Client is bound to one source and owns that source's
// retry budget and rate-limit state: transient failures (timeouts, 429s,
// 5xx responses) are retried with exponential backoff and jitter, permanent
// failures are returned immediately, and a minimum inter-call spacing is
// enforced even on the first attempt so bucket-by-bucket sources like arXiv
// stay inside their published request budgets.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/rewired-gh/hypetrack/internal/logger"
	"github.com/rewired-gh/hypetrack/internal/models"
)

// Options configures a Client. Zero values fall back to conservative defaults.
type Options struct {
	Timeout        time.Duration // per-attempt timeout
	MaxRetries     int           // retries after the first attempt
	RetryDelayBase time.Duration // backoff base: base × 2^attempt
	MaxBackoff     time.Duration // cap on a single backoff sleep
	MinInterval    time.Duration // minimum spacing between calls to the source
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelayBase <= 0 {
		o.RetryDelayBase = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	return o
}

// Client performs fetches for one source. Per-source rate-limit state is
// owned by the Client instance rather than shared globally, so concurrent
// adapters never contend on each other's budgets.
type Client struct {
	source     models.SourceID
	httpClient *http.Client
	opts       Options
	spacing    *rate.Limiter
}

// NewClient creates a fetcher for the given source.
func NewClient(source models.SourceID, opts Options) *Client {
	opts = opts.withDefaults()
	var spacing *rate.Limiter
	if opts.MinInterval > 0 {
		spacing = rate.NewLimiter(rate.Every(opts.MinInterval), 1)
	}
	return &Client{
		source: source,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		opts:    opts,
		spacing: spacing,
	}
}

// Source returns the source this client fetches for.
func (c *Client) Source() models.SourceID {
	return c.source
}

// Get performs a GET against url and returns the response body. On transient
// failure it retries up to MaxRetries times with exponential backoff; on
// permanent failure it returns immediately. The returned error is always a
// *fetch.Error.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	var lastErr *Error

	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt-1, lastErr)
			logger.Debug("%s: attempt %d/%d failed, retrying in %v: %v",
				c.source, attempt, c.opts.MaxRetries+1, delay, lastErr)
			select {
			case <-ctx.Done():
				return nil, NewTransient(c.source, url, ctx.Err())
			case <-time.After(delay):
			}
		}

		// Respect the source's minimum inter-call spacing before every
		// attempt, including the first.
		if c.spacing != nil {
			if err := c.spacing.Wait(ctx); err != nil {
				return nil, NewTransient(c.source, url, err)
			}
		}

		body, ferr := c.attempt(ctx, url)
		if ferr == nil {
			return body, nil
		}
		if ferr.Kind == Permanent {
			return nil, ferr
		}
		lastErr = ferr
	}

	lastErr.Err = fmt.Errorf("max retries exceeded: %w", lastErr.Err)
	return nil, lastErr
}

// GetJSON performs a GET and decodes the JSON response into out. A body that
// fails to decode is a permanent failure: retrying a malformed payload will
// not fix it.
func (c *Client) GetJSON(ctx context.Context, url string, out interface{}) error {
	body, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return NewPermanent(c.source, url, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func (c *Client) attempt(ctx context.Context, url string) ([]byte, *Error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, NewPermanent(c.source, url, err)
	}
	req.Header.Set("Accept", "application/json, application/atom+xml;q=0.9, */*;q=0.1")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// The overall run was cancelled, not just this attempt.
			return nil, NewTransient(c.source, url, ctx.Err())
		}
		return nil, NewTransient(c.source, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, NewTransient(c.source, url, fmt.Errorf("failed to read response body: %w", err))
		}
		return body, nil
	}

	ferr := &Error{
		Source: c.source,
		Op:     url,
		Status: resp.StatusCode,
		Err:    fmt.Errorf("unexpected status: %s", resp.Status),
	}
	if retryableStatus(resp.StatusCode) {
		ferr.Kind = Transient
		if ra := retryAfter(resp); ra > 0 {
			ferr.retryAfter = ra
		}
	} else {
		ferr.Kind = Permanent
	}
	return nil, ferr
}

// backoff computes the sleep before retry number attempt+1: base × 2^attempt
// capped at MaxBackoff, plus up to 10% jitter. A server-provided Retry-After
// overrides the computed delay when it is longer (still capped).
func (c *Client) backoff(attempt int, last *Error) time.Duration {
	delay := c.opts.RetryDelayBase << attempt
	if delay > c.opts.MaxBackoff || delay <= 0 {
		delay = c.opts.MaxBackoff
	}
	if last != nil && last.retryAfter > delay {
		delay = last.retryAfter
		if delay > c.opts.MaxBackoff {
			delay = c.opts.MaxBackoff
		}
	}
	if delay > 10 {
		delay += time.Duration(rand.Int63n(int64(delay / 10)))
	}
	return delay
}

// retryableStatus reports whether an HTTP status should trigger a retry.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

// retryAfter parses a Retry-After header expressed in seconds. The HTTP-date
// form is rare on the APIs involved and is ignored.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
