// Package httpclient provides the rate-limited HTTP client used for JSON-RPC traffic.
package httpclient

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/archon-research/stl-sentry/internal/pkg/retry"
)

// Config holds the configuration for the HTTP client.
type Config struct {
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RateLimit      rate.Limit
	RateBurst      int
}

// DefaultConfig returns defaults sized for a hosted RPC provider. Throttled
// responses go straight back to the caller; a failed read is picked up by the
// next cycle.
func DefaultConfig() Config {
	return Config{
		Timeout:        30 * time.Second,
		MaxRetries:     0,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		RateLimit:      rate.Limit(25),
		RateBurst:      10,
	}
}

// New returns an *http.Client whose transport waits on a token bucket before
// each request. With MaxRetries above zero it also retries throttled (429) and
// unavailable (502, 503, 504) responses.
func New(cfg Config, logger *slog.Logger) *http.Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	// Zero means unlimited.
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = rate.Inf
	}
	return &http.Client{
		Timeout: cfg.Timeout,
		Transport: &limitedTransport{
			next:    http.DefaultTransport,
			limiter: rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
			retry: retry.Config{
				MaxRetries:     cfg.MaxRetries,
				InitialBackoff: cfg.InitialBackoff,
				MaxBackoff:     cfg.MaxBackoff,
				BackoffFactor:  2.0,
				Jitter:         true,
			},
			logger: logger.With("component", "rpc-transport"),
		},
	}
}

type limitedTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
	retry   retry.Config
	logger  *slog.Logger
}

type retryableStatusError struct {
	status int
}

func (e *retryableStatusError) Error() string {
	return fmt.Sprintf("retryable HTTP status %d", e.status)
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
		body = b
	}

	onRetry := func(attempt int, err error, backoff time.Duration) {
		t.logger.Warn("rpc request failed, retrying",
			"attempt", attempt,
			"maxRetries", t.retry.MaxRetries,
			"backoff", backoff,
			"error", err,
		)
	}

	isRetryable := func(err error) bool {
		var statusErr *retryableStatusError
		return errors.As(err, &statusErr)
	}

	// throttled holds the most recent retryable response so it can be handed
	// back to the RPC client once retries run out.
	var throttled *http.Response
	resp, err := retry.Do(ctx, t.retry, isRetryable, onRetry, func() (*http.Response, error) {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, retry.Permanent(fmt.Errorf("rate limiter: %w", err))
		}

		attempt := req.Clone(ctx)
		if body != nil {
			attempt.Body = io.NopCloser(bytes.NewReader(body))
			attempt.ContentLength = int64(len(body))
		}

		resp, err := t.next.RoundTrip(attempt)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		if isRetryableStatus(resp.StatusCode) {
			if throttled != nil {
				_ = throttled.Body.Close()
			}
			throttled = resp
			return nil, &retryableStatusError{status: resp.StatusCode}
		}
		return resp, nil
	})
	if err == nil {
		if throttled != nil {
			_ = throttled.Body.Close()
		}
		return resp, nil
	}
	if throttled != nil && ctx.Err() == nil && isRetryable(err) {
		return throttled, nil
	}
	if throttled != nil {
		_ = throttled.Body.Close()
	}
	return nil, err
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
