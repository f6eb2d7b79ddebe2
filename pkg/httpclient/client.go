// Package httpclient is the outbound HTTP client used for webhook delivery.
//
// Each request passes a circuit breaker, is retried with exponential backoff
// on transport errors and throttling statuses, and honours Retry-After.
// Response bodies are decoded according to Content-Encoding.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

var (
	ErrCircuitOpen      = errors.New("circuit breaker is open")
	ErrMaxRetries       = errors.New("max retries exceeded")
	ErrResponseTooLarge = errors.New("response body exceeds maximum size limit")
)

// Defaults applied by DefaultConfig and by New for zero fields.
const (
	DefaultTimeout            = 30 * time.Second
	DefaultRetryAttempts      = 3
	DefaultRetryDelay         = time.Second
	DefaultRetryMaxDelay      = 30 * time.Second
	DefaultCircuitThreshold   = 5
	DefaultCircuitTimeout     = 30 * time.Second
	DefaultCircuitHalfOpenMax = 1
	DefaultBackoffMultiplier  = 2.0
	DefaultUserAgentHeader    = "vertd-httpclient/1.0"
)

const (
	HeaderAcceptEncoding  = "Accept-Encoding"
	HeaderContentEncoding = "Content-Encoding"
	HeaderContentType     = "Content-Type"
	HeaderRetryAfter      = "Retry-After"
	HeaderUserAgent       = "User-Agent"
)

// Config configures a Client.
type Config struct {
	// Timeout bounds each attempt.
	Timeout time.Duration
	// RetryAttempts is the number of retries after the first attempt.
	RetryAttempts int
	// RetryDelay is the wait before the first retry. It grows by
	// BackoffMultiplier per retry up to RetryMaxDelay.
	RetryDelay        time.Duration
	RetryMaxDelay     time.Duration
	BackoffMultiplier float64

	// CircuitThreshold consecutive failures open the circuit for
	// CircuitTimeout, after which CircuitHalfOpenMax probes are admitted.
	CircuitThreshold   int
	CircuitTimeout     time.Duration
	CircuitHalfOpenMax int

	UserAgent string
	Logger    *slog.Logger

	// EnableDecompression advertises and decodes gzip, deflate and brotli.
	EnableDecompression bool
	// MaxResponseSize limits decoded response bodies. Zero disables the limit.
	MaxResponseSize int64

	// BaseClient replaces the default http.Client.
	BaseClient *http.Client
}

// DefaultConfig returns the configuration used for webhooks.
func DefaultConfig() Config {
	return Config{
		Timeout:             DefaultTimeout,
		RetryAttempts:       DefaultRetryAttempts,
		RetryDelay:          DefaultRetryDelay,
		RetryMaxDelay:       DefaultRetryMaxDelay,
		BackoffMultiplier:   DefaultBackoffMultiplier,
		CircuitThreshold:    DefaultCircuitThreshold,
		CircuitTimeout:      DefaultCircuitTimeout,
		CircuitHalfOpenMax:  DefaultCircuitHalfOpenMax,
		UserAgent:           DefaultUserAgentHeader,
		Logger:              slog.Default(),
		EnableDecompression: true,
	}
}

// Client sends requests through a circuit breaker with retries.
type Client struct {
	config  Config
	client  *http.Client
	breaker *breaker
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a client from cfg.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = DefaultBackoffMultiplier
	}
	base := cfg.BaseClient
	if base == nil {
		base = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		config:  cfg,
		client:  base,
		breaker: newBreaker(cfg.CircuitThreshold, cfg.CircuitTimeout, cfg.CircuitHalfOpenMax),
		logger:  cfg.Logger.With(slog.String("component", "httpclient")),
		sleep:   sleepContext,
	}
}

// NewWithDefaults creates a client from DefaultConfig.
func NewWithDefaults() *Client {
	return New(DefaultConfig())
}

// Post sends body to url. The body is replayed on every retry.
func (c *Client) Post(ctx context.Context, url, contentType string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set(HeaderContentType, contentType)
	return c.Do(req)
}

// Do sends req, retrying while the outcome is retryable. A body without
// GetBody cannot be replayed and is sent once.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	c.setHeaders(req)

	retries := c.config.RetryAttempts
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		retries = 0
	}
	backoff := newBackoff(c.config)

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			wait := backoff.next()
			c.logger.Debug("retrying request",
				slog.Int("attempt", attempt),
				slog.Duration("delay", wait),
				slog.String("url", req.URL.Redacted()),
			)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			if err := rewind(req); err != nil {
				return nil, err
			}
		}

		resp, retry, err := c.attempt(req)
		if !retry {
			return resp, err
		}
		lastErr = err
		if resp != nil {
			backoff.observe(resp)
			resp.Body.Close()
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrMaxRetries, lastErr)
}

// attempt sends req once and reports whether another attempt may succeed.
func (c *Client) attempt(req *http.Request) (*http.Response, bool, error) {
	if !c.breaker.allow() {
		c.logger.Warn("circuit breaker open, skipping request",
			slog.String("url", req.URL.Redacted()),
			slog.String("state", c.breaker.state().String()),
		)
		return nil, true, ErrCircuitOpen
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.breaker.failure()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, false, err
		}
		c.logger.Warn("request failed",
			slog.String("url", req.URL.Redacted()),
			slog.Duration("duration", elapsed),
			slog.String("error", err.Error()),
		)
		return nil, true, err
	}

	if isRetryableStatus(resp.StatusCode) {
		c.breaker.failure()
		c.logger.Warn("retryable status code",
			slog.String("url", req.URL.Redacted()),
			slog.Int("status", resp.StatusCode),
			slog.Duration("duration", elapsed),
		)
		return resp, true, fmt.Errorf("retryable status code: %d", resp.StatusCode)
	}

	if resp.StatusCode < 300 {
		c.breaker.success()
	} else {
		c.breaker.failure()
	}
	c.logger.Debug("request completed",
		slog.String("url", req.URL.Redacted()),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", elapsed),
	)
	c.wrapBody(resp)
	return resp, false, nil
}

func (c *Client) setHeaders(req *http.Request) {
	if req.Header.Get(HeaderUserAgent) == "" && c.config.UserAgent != "" {
		req.Header.Set(HeaderUserAgent, c.config.UserAgent)
	}
	if c.config.EnableDecompression && req.Header.Get(HeaderAcceptEncoding) == "" {
		req.Header.Set(HeaderAcceptEncoding, acceptEncoding)
	}
}

func rewind(req *http.Request) error {
	if req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("replaying request body: %w", err)
	}
	req.Body = body
	return nil
}

// CircuitState returns the state of the circuit breaker.
func (c *Client) CircuitState() CircuitState {
	return c.breaker.state()
}

// ResetCircuit closes the circuit breaker.
func (c *Client) ResetCircuit() {
	c.breaker.reset()
}

// isRetryableStatus reports throttling and gateway statuses.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
