package httpclient

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// backoff yields exponentially growing retry delays. A Retry-After header on
// the last response overrides the next delay, still capped by the maximum.
type backoff struct {
	delay      time.Duration
	max        time.Duration
	multiplier float64
	override   time.Duration
	now        func() time.Time
}

func newBackoff(cfg Config) *backoff {
	return &backoff{
		delay:      cfg.RetryDelay,
		max:        cfg.RetryMaxDelay,
		multiplier: cfg.BackoffMultiplier,
		now:        time.Now,
	}
}

// observe records the server's requested wait, if any.
func (b *backoff) observe(resp *http.Response) {
	if d, ok := parseRetryAfter(resp.Header.Get(HeaderRetryAfter), b.now()); ok {
		b.override = d
	}
}

// next returns the delay before the coming retry.
func (b *backoff) next() time.Duration {
	wait := b.delay
	if b.override > 0 {
		wait = b.override
		b.override = 0
	}
	b.delay = time.Duration(float64(b.delay) * b.multiplier)
	if b.max > 0 {
		wait = min(wait, b.max)
		b.delay = min(b.delay, b.max)
	}
	return wait
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}
