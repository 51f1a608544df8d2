// Package fetch is the resilient HTTP getter shared by source adapters: a
// token-bucket limiter paces requests, a circuit breaker stops hammering a
// failing upstream, and transient failures are retried with exponential backoff.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/otherjamesbrown/meetsync/pkg/buildinfo"
	syncerr "github.com/otherjamesbrown/meetsync/pkg/errors"
	"github.com/otherjamesbrown/meetsync/pkg/logging"
)

// maxBodyBytes bounds a single response body.
const maxBodyBytes = 32 << 20

// Config tunes pacing, retries, and the breaker.
type Config struct {
	// Name labels the breaker and log lines.
	Name string
	// RequestsPerSecond of zero disables pacing.
	RequestsPerSecond float64
	Burst             int
	MaxRetries        uint64
	InitialInterval   time.Duration
	MaxInterval       time.Duration
	Timeout           time.Duration
	// BreakerFailures consecutive failures open the breaker.
	BreakerFailures uint32
	// BreakerCooldown is how long the breaker stays open.
	BreakerCooldown time.Duration
}

// DefaultConfig returns the policy used for platform APIs.
func DefaultConfig(name string) Config {
	return Config{
		Name:              name,
		RequestsPerSecond: 5,
		Burst:             1,
		MaxRetries:        3,
		InitialInterval:   time.Second,
		MaxInterval:       10 * time.Second,
		Timeout:           30 * time.Second,
		BreakerFailures:   5,
		BreakerCooldown:   time.Minute,
	}
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client performs paced, retried, breaker-guarded GET requests.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	cfg     Config
	logger  logging.Logger
}

// New returns a Client. A nil httpClient uses a client with cfg.Timeout.
func New(httpClient *http.Client, cfg Config, logger logging.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.With(logging.F("component", "fetch"), logging.F("client", cfg.Name))

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Client errors say nothing about upstream health.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return !se.Retryable()
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state change",
				logging.F("from", from.String()),
				logging.F("to", to.String()),
			)
		},
	})

	return &Client{
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
		breaker: breaker,
		cfg:     cfg,
		logger:  logger,
	}
}

// BreakerState returns the breaker's current state.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// Get fetches url and returns the body of a 2xx response. Network errors,
// 429 and 5xx responses are retried; other statuses and an open breaker fail
// immediately.
func (c *Client) Get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	expo := backoff.NewExponentialBackOff()
	if c.cfg.InitialInterval > 0 {
		expo.InitialInterval = c.cfg.InitialInterval
	}
	if c.cfg.MaxInterval > 0 {
		expo.MaxInterval = c.cfg.MaxInterval
	}
	expo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, c.cfg.MaxRetries), ctx)

	var body []byte
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		b, err := c.breaker.Execute(func() ([]byte, error) {
			return c.do(ctx, url, header)
		})
		if err == nil {
			body = b
			return nil
		}

		if IsBreakerOpen(err) {
			return backoff.Permanent(fmt.Errorf("%s: %w", c.cfg.Name, err))
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Debug("Retrying request", logging.F("url", url), logging.F("wait", wait), logging.Err(err))
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", buildinfo.UserAgent())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode, Body: snippet}
	}
	return body, nil
}

// IsBreakerOpen reports whether err was returned without a request because
// the breaker is open or probing.
func IsBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Classify converts a Get error into a sync error. Failures that survived the
// retry budget or tripped the breaker are transient; client errors and
// cancellation keep their own classification.
func Classify(platform, stage string, err error) *syncerr.SyncError {
	if err == nil {
		return nil
	}
	var se *StatusError
	if errors.As(err, &se) && !se.Retryable() {
		return &syncerr.SyncError{Code: syncerr.CodeUnknown, Platform: platform, Stage: stage, Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return syncerr.ClassifyError(err, platform, stage)
	}
	return syncerr.TransientFetch(platform, stage, err)
}
