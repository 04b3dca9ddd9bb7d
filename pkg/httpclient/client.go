// Package httpclient provides a retrying HTTP client shared by the LLM,
// embedder, reranker and remote-tool clients.
package httpclient

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"
)

// RetryStrategy selects how a failed attempt is retried.
type RetryStrategy int

const (
	NoRetry RetryStrategy = iota
	// ConservativeRetry retries transient server errors a couple of times
	// with short fixed delays.
	ConservativeRetry
	// SmartRetry honors rate-limit headers, falling back to exponential
	// backoff with jitter.
	SmartRetry
)

// RateLimitInfo carries upstream rate-limit hints parsed from headers.
type RateLimitInfo struct {
	RetryAfter time.Duration
	ResetTime  int64
	Remaining  int
}

type Client struct {
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

func WithMaxRetries(max int) Option {
	return func(c *Client) {
		if max > 0 {
			c.maxRetries = max
		}
	}
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		if delay > 0 {
			c.baseDelay = delay
		}
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		client:     &http.Client{Timeout: 60 * time.Second},
		maxRetries: 3,
		baseDelay:  time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func strategyFor(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return SmartRetry
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return ConservativeRetry
	default:
		return NoRetry
	}
}

// Do executes the request, retrying retryable failures. The request must set
// GetBody for retries to replay the payload; http.NewRequestWithContext does
// this for byte readers. The request context bounds the total time including
// backoff sleeps.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, err := c.client.Do(req)
		if err != nil {
			// Transport errors are not retried; the caller's context may
			// already be canceled.
			return nil, err
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		strategy := strategyFor(resp.StatusCode)
		lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)

		if strategy == NoRetry || attempt == c.maxRetries {
			return resp, nil // non-2xx surfaced to the caller for body parsing
		}

		info := parseRateLimitHeaders(resp.Header)
		delay := c.delayFor(strategy, attempt, info)
		if delay <= 0 {
			// Out of retry budget; the body stays open for the caller.
			return resp, nil
		}
		resp.Body.Close()

		slog.Debug("Retrying HTTP request",
			"status", resp.StatusCode,
			"delay", delay,
			"attempt", attempt+1,
			"max", c.maxRetries)

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) delayFor(strategy RetryStrategy, attempt int, info RateLimitInfo) time.Duration {
	switch strategy {
	case SmartRetry:
		if info.RetryAfter > 0 {
			return info.RetryAfter
		}
		if info.ResetTime > 0 {
			if d := time.Until(time.Unix(info.ResetTime, 0)); d > 0 {
				return d
			}
		}
		exponential := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
		jitter := time.Duration(float64(exponential) * 0.1)
		return exponential + jitter

	case ConservativeRetry:
		if attempt >= 2 {
			return 0
		}
		return time.Duration(attempt+1) * c.baseDelay

	default:
		return 0
	}
}

// parseRateLimitHeaders understands the Retry-After and x-ratelimit-* headers
// used by OpenAI-compatible endpoints.
func parseRateLimitHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{}

	if retryAfter := headers.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			info.RetryAfter = time.Duration(seconds) * time.Second
		}
	}

	for _, header := range []string{"x-ratelimit-reset-tokens", "x-ratelimit-reset-requests"} {
		if resetStr := headers.Get(header); resetStr != "" {
			if reset, err := strconv.ParseInt(resetStr, 10, 64); err == nil {
				info.ResetTime = reset
				break
			}
		}
	}

	if remaining := headers.Get("x-ratelimit-remaining-requests"); remaining != "" {
		if n, err := strconv.Atoi(remaining); err == nil {
			info.Remaining = n
		}
	}

	return info
}
