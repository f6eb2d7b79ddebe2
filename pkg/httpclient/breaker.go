package httpclient

import (
	"sync"
	"time"
)

// CircuitState is the externally visible state of the breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

var circuitStateNames = [...]string{"closed", "open", "half-open"}

func (s CircuitState) String() string {
	if s < 0 || int(s) >= len(circuitStateNames) {
		return "unknown"
	}
	return circuitStateNames[s]
}

// breaker stops a dead webhook endpoint from being hammered. After threshold
// consecutive failures it rejects requests until cooldown has passed, then
// admits up to probes requests. A probe success closes it and a probe
// failure starts a new cooldown.
type breaker struct {
	threshold int
	cooldown  time.Duration
	probes    int
	now       func() time.Time

	mu        sync.Mutex
	failures  int
	openUntil time.Time // zero while closed
	admitted  int       // probes let through since the cooldown ended
}

func newBreaker(threshold int, cooldown time.Duration, probes int) *breaker {
	if threshold <= 0 {
		threshold = DefaultCircuitThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCircuitTimeout
	}
	if probes <= 0 {
		probes = DefaultCircuitHalfOpenMax
	}
	return &breaker{threshold: threshold, cooldown: cooldown, probes: probes, now: time.Now}
}

func (b *breaker) stateLocked() CircuitState {
	switch {
	case b.openUntil.IsZero():
		return CircuitClosed
	case b.now().Before(b.openUntil):
		return CircuitOpen
	default:
		return CircuitHalfOpen
	}
}

func (b *breaker) state() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked() {
	case CircuitClosed:
		return true
	case CircuitHalfOpen:
		if b.admitted < b.probes {
			b.admitted++
			return true
		}
	}
	return false
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
	b.admitted = 0
}

func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	switch b.stateLocked() {
	case CircuitHalfOpen:
		b.trip()
	case CircuitClosed:
		if b.failures >= b.threshold {
			b.trip()
		}
	}
}

func (b *breaker) trip() {
	b.openUntil = b.now().Add(b.cooldown)
	b.admitted = 0
}

func (b *breaker) reset() {
	b.success()
}
