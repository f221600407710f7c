// Package resilience wraps outbound exchange calls with a bounded retry
// policy and a circuit breaker. It is the single place that decides retry vs.
// fail fast vs. surface; calling code must not implement its own retry loops
// around protected operations.
package resilience

import (
	"sync"
	"time"

	"github.com/alanyoungcy/pumpshort/internal/domain"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	// StateClosed passes requests through normally.
	StateClosed BreakerState = iota
	// StateOpen rejects requests immediately until the recovery timeout.
	StateOpen
	// StateHalfOpen lets a single probe call through.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is a per-call-site circuit breaker. After maxFailures consecutive
// failures it opens and rejects calls for recoveryTimeout, then allows one
// probe (half-open); the probe's outcome closes or re-opens the circuit.
// State transitions are the only mutation path.
type Breaker struct {
	mu              sync.Mutex
	state           BreakerState
	failures        int
	maxFailures     int
	recoveryTimeout time.Duration
	lastFailure     time.Time

	// OnStateChange, when set, is called outside critical work but under the
	// breaker lock; keep it fast (the wrapper uses it for health events).
	OnStateChange func(from, to BreakerState)
}

// NewBreaker creates a breaker. maxFailures is the consecutive-failure
// threshold (e.g. 5); recoveryTimeout is the open-state cooldown before a
// half-open probe (e.g. 30s).
func NewBreaker(maxFailures int, recoveryTimeout time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 30 * time.Second
	}
	return &Breaker{
		state:           StateClosed,
		maxFailures:     maxFailures,
		recoveryTimeout: recoveryTimeout,
	}
}

// Allow reports whether a call may proceed right now, transitioning
// open -> half-open when the recovery timeout has elapsed. It returns
// ErrCircuitOpen without attempting any I/O when the circuit is open.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen {
		if time.Since(b.lastFailure) > b.recoveryTimeout {
			b.transition(StateHalfOpen)
			return nil
		}
		return domain.ErrCircuitOpen
	}
	return nil
}

// RecordSuccess resets the failure counter and closes a half-open circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.transition(StateClosed)
	}
	b.failures = 0
}

// RecordFailure counts a failure, reopening a half-open circuit immediately
// and tripping a closed one at the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = time.Now()
	if b.state == StateHalfOpen {
		b.transition(StateOpen)
		return
	}
	if b.state == StateClosed && b.failures >= b.maxFailures {
		b.transition(StateOpen)
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	if b.OnStateChange != nil {
		b.OnStateChange(from, to)
	}
}
