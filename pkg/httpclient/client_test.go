package httpclient

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient returns a client that records retry delays instead of sleeping.
func newTestClient(cfg Config) (*Client, *[]time.Duration) {
	var waits []time.Duration
	c := New(cfg)
	c.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return c, &waits
}

func retryConfig(attempts int) Config {
	cfg := DefaultConfig()
	cfg.RetryAttempts = attempts
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.RetryMaxDelay = time.Second
	return cfg
}

func post(t *testing.T, c *Client, url string) (*http.Response, error) {
	t.Helper()
	return c.Post(context.Background(), url, "application/json", []byte(`{"content":"hi"}`))
}

func TestNew(t *testing.T) {
	client := NewWithDefaults()
	assert.NotNil(t, client.breaker)
	assert.Equal(t, DefaultUserAgentHeader, client.config.UserAgent)

	base := &http.Client{Timeout: 5 * time.Second}
	cfg := DefaultConfig()
	cfg.BaseClient = base
	assert.Same(t, base, New(cfg).client)

	zero := New(Config{})
	assert.Equal(t, DefaultBackoffMultiplier, zero.config.BackoffMultiplier)
	assert.NotNil(t, zero.logger)
}

func TestClient_Headers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "vertd-test/1.0", r.Header.Get(HeaderUserAgent))
		assert.Equal(t, acceptEncoding, r.Header.Get(HeaderAcceptEncoding))
		assert.Equal(t, "application/json", r.Header.Get(HeaderContentType))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.UserAgent = "vertd-test/1.0"
	resp, err := post(t, New(cfg), server.URL)
	require.NoError(t, err)
	resp.Body.Close()
}

func TestClient_Retries(t *testing.T) {
	tests := []struct {
		name         string
		retries      int
		statuses     []int
		wantErr      error
		wantStatus   int
		wantAttempts int32
	}{
		{"succeeds after 503s", 3, []int{503, 503, 204}, nil, 204, 3},
		{"gives up after max retries", 2, []int{429, 429, 429}, ErrMaxRetries, 0, 3},
		{"client errors are final", 3, []int{400}, nil, 400, 1},
		{"server errors are final", 3, []int{500}, nil, 500, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				assert.JSONEq(t, `{"content":"hi"}`, string(body), "body is replayed on every attempt")
				n := atomic.AddInt32(&attempts, 1)
				w.WriteHeader(tt.statuses[min(int(n), len(tt.statuses))-1])
			}))
			defer server.Close()

			client, _ := newTestClient(retryConfig(tt.retries))
			resp, err := post(t, client, server.URL)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				resp.Body.Close()
				assert.Equal(t, tt.wantStatus, resp.StatusCode)
			}
			assert.Equal(t, tt.wantAttempts, atomic.LoadInt32(&attempts))
		})
	}
}

func TestClient_BodyWithoutGetBodyIsSentOnce(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	req, err := http.NewRequest(http.MethodPost, server.URL, io.NopCloser(strings.NewReader("once")))
	require.NoError(t, err)
	req.GetBody = nil

	client, _ := newTestClient(retryConfig(3))
	_, err = client.Do(req)
	assert.ErrorIs(t, err, ErrMaxRetries)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestClient_BackoffHonoursRetryAfter(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&attempts, 1) {
		case 1:
			w.Header().Set(HeaderRetryAfter, "0.5")
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	client, waits := newTestClient(retryConfig(3))
	resp, err := post(t, client, server.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []time.Duration{500 * time.Millisecond, 20 * time.Millisecond}, *waits)
}

func TestClient_ContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := New(retryConfig(3))
	client.sleep = func(context.Context, time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := client.Post(ctx, server.URL, "text/plain", []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		value string
		want  time.Duration
		ok    bool
	}{
		{"", 0, false},
		{"3", 3 * time.Second, true},
		{"1.5", 1500 * time.Millisecond, true},
		{"-1", 0, false},
		{now.Add(10 * time.Second).Format(http.TimeFormat), 10 * time.Second, true},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0, true},
		{"soon", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseRetryAfter(tt.value, now)
		assert.Equal(t, tt.ok, ok, tt.value)
		assert.Equal(t, tt.want, got, tt.value)
	}
}

func TestBackoff_CapsAtMax(t *testing.T) {
	b := newBackoff(Config{RetryDelay: time.Second, RetryMaxDelay: 3 * time.Second, BackoffMultiplier: 2})
	got := []time.Duration{b.next(), b.next(), b.next(), b.next()}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}, got)
}

func TestClient_Decompression(t *testing.T) {
	const text = "hello compressed world"
	tests := []struct {
		name     string
		encoding string
		write    func(w io.Writer)
	}{
		{"gzip", "gzip", func(w io.Writer) {
			gw := gzip.NewWriter(w)
			_, _ = gw.Write([]byte(text))
			_ = gw.Close()
		}},
		{"brotli", "br", func(w io.Writer) {
			bw := brotli.NewWriter(w)
			_, _ = bw.Write([]byte(text))
			_ = bw.Close()
		}},
		{"identity", "", func(w io.Writer) {
			_, _ = w.Write([]byte(text))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.encoding != "" {
					w.Header().Set(HeaderContentEncoding, tt.encoding)
				}
				tt.write(w)
			}))
			defer server.Close()

			resp, err := post(t, NewWithDefaults(), server.URL)
			require.NoError(t, err)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, text, string(body))
		})
	}
}

func TestClient_MaxResponseSizeAppliesAfterDecoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderContentEncoding, "gzip")
		gw := gzip.NewWriter(w)
		_, _ = gw.Write([]byte(strings.Repeat("a", 5000)))
		_ = gw.Close()
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.MaxResponseSize = 1000
	resp, err := post(t, New(cfg), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	_, err = io.ReadAll(resp.Body)
	assert.ErrorIs(t, err, ErrResponseTooLarge)
}

func TestClient_CircuitOpensOnRepeatedFailures(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := retryConfig(0)
	cfg.CircuitThreshold = 3
	cfg.CircuitTimeout = time.Minute
	client := New(cfg)

	for range 3 {
		_, _ = post(t, client, server.URL)
	}
	assert.Equal(t, CircuitOpen, client.CircuitState())

	_, err := post(t, client, server.URL)
	assert.ErrorIs(t, err, ErrMaxRetries)
	assert.Contains(t, err.Error(), ErrCircuitOpen.Error())
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts), "open circuit sends nothing")

	client.ResetCircuit()
	assert.Equal(t, CircuitClosed, client.CircuitState())
}

func TestIsRetryableStatus(t *testing.T) {
	for _, code := range []int{429, 502, 503, 504} {
		assert.True(t, isRetryableStatus(code), code)
	}
	for _, code := range []int{200, 204, 400, 401, 404, 500} {
		assert.False(t, isRetryableStatus(code), code)
	}
}
