package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/alanyoungcy/pumpshort/internal/domain"
)

// Config tunes a Wrapper.
type Config struct {
	// MaxAttempts bounds the retry loop, counting the first attempt.
	MaxAttempts int
	// InitialBackoff is the first retry delay; subsequent delays grow
	// exponentially with jitter up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// BreakerThreshold is the consecutive-failure count that opens the circuit.
	BreakerThreshold int
	// BreakerRecovery is the open-state cooldown before a half-open probe.
	BreakerRecovery time.Duration
}

// Defaults fills zero fields with the stated order-of-magnitude defaults:
// single-digit attempts and failure thresholds, tens of seconds of recovery.
func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerRecovery <= 0 {
		c.BreakerRecovery = 30 * time.Second
	}
	return c
}

// Transient classifies an error as retryable. Errors it rejects surface
// immediately without further attempts.
type Transient func(error) bool

// Wrapper protects one call-site against a flaky dependency: bounded retries
// with exponential backoff and jitter for transient failures, and a circuit
// breaker that fails fast after repeated failures.
type Wrapper struct {
	name      string
	cfg       Config
	breaker   *Breaker
	transient Transient
	logger    *slog.Logger
}

// NewWrapper creates a wrapper for the named call-site. The transient
// predicate decides which failure kinds are retried; nil retries everything.
// Circuit state changes are reported to the health sink.
func NewWrapper(name string, cfg Config, transient Transient, health domain.HealthSink, logger *slog.Logger) *Wrapper {
	cfg = cfg.withDefaults()
	w := &Wrapper{
		name:      name,
		cfg:       cfg,
		breaker:   NewBreaker(cfg.BreakerThreshold, cfg.BreakerRecovery),
		transient: transient,
		logger:    logger.With(slog.String("component", "resilience"), slog.String("call_site", name)),
	}
	w.breaker.OnStateChange = func(from, to BreakerState) {
		w.logger.Warn("circuit state changed",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
		if health != nil {
			health.Report(domain.HealthEvent{
				Kind:      domain.HealthCircuitStateChanged,
				Detail:    fmt.Sprintf("%s: %s -> %s", name, from, to),
				Severity:  severityFor(to),
				Timestamp: time.Now(),
			})
		}
	}
	return w
}

func severityFor(s BreakerState) domain.Severity {
	if s == StateOpen {
		return domain.SeverityCritical
	}
	return domain.SeverityInfo
}

// Breaker exposes the underlying breaker for inspection.
func (w *Wrapper) Breaker() *Breaker { return w.breaker }

// Do runs the operation under the circuit breaker and retry policy. It
// returns ErrCircuitOpen without attempting I/O when the circuit is open, and
// ErrRetriesExhausted wrapping the last cause when the attempts run out.
func (w *Wrapper) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if err := w.breaker.Allow(); err != nil {
		return fmt.Errorf("resilience: %s: %w", w.name, err)
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = w.cfg.InitialBackoff
	exp.MaxInterval = w.cfg.MaxBackoff
	exp.MaxElapsedTime = 0 // bounded by attempt count, not wall time

	policy := backoff.WithContext(
		backoff.WithMaxRetries(exp, uint64(w.cfg.MaxAttempts-1)), ctx)

	var lastErr error
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if w.transient != nil && !w.transient(err) {
			return backoff.Permanent(err)
		}
		w.logger.Debug("transient failure, will retry",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		return err
	}, policy)

	if err == nil {
		w.breaker.RecordSuccess()
		return nil
	}

	w.breaker.RecordFailure()

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return fmt.Errorf("resilience: %s: %w", w.name, perm.Unwrap())
	}
	if ctx.Err() != nil && lastErr == nil {
		return fmt.Errorf("resilience: %s: %w", w.name, ctx.Err())
	}
	return fmt.Errorf("resilience: %s: %w: %w", w.name, domain.ErrRetriesExhausted, lastErr)
}
