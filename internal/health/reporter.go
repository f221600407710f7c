// Package health fans health-signal events out to the observability
// collaborator's sinks. The core never fails silently: every protocol
// invariant violation, refresh failure, circuit transition, and staleness
// detection passes through here even when locally recovered.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/pumpshort/internal/domain"
)

// Reporter implements domain.HealthSink by fanning events out to all
// registered sinks. Report never blocks on a slow sink beyond what the sink
// itself does; sinks that talk to the network should buffer internally.
type Reporter struct {
	mu    sync.RWMutex
	sinks []domain.HealthSink
}

// NewReporter creates a Reporter over the given sinks.
func NewReporter(sinks ...domain.HealthSink) *Reporter {
	return &Reporter{sinks: sinks}
}

// Attach adds a sink at runtime.
func (r *Reporter) Attach(sink domain.HealthSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, sink)
}

// Report implements domain.HealthSink.
func (r *Reporter) Report(event domain.HealthEvent) {
	r.mu.RLock()
	sinks := r.sinks
	r.mu.RUnlock()
	for _, s := range sinks {
		s.Report(event)
	}
}

// SlogSink logs every health event at a level matching its severity.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a SlogSink.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger.With(slog.String("component", "health"))}
}

// Report implements domain.HealthSink.
func (s *SlogSink) Report(event domain.HealthEvent) {
	attrs := []any{
		slog.String("kind", string(event.Kind)),
		slog.String("detail", event.Detail),
		slog.Time("event_time", event.Timestamp),
	}
	if event.Symbol != "" {
		attrs = append(attrs, slog.String("symbol", event.Symbol))
	}
	switch event.Severity {
	case domain.SeverityCritical:
		s.logger.Error("health event", attrs...)
	case domain.SeverityWarning:
		s.logger.Warn("health event", attrs...)
	default:
		s.logger.Info("health event", attrs...)
	}
}

// BusSink publishes health events to the signal bus: pub/sub for live
// consumers and a capped stream for later inspection.
type BusSink struct {
	bus     domain.SignalBus
	channel string
	stream  string
	logger  *slog.Logger
}

// NewBusSink creates a BusSink publishing to the given channel and stream.
func NewBusSink(bus domain.SignalBus, channel, stream string, logger *slog.Logger) *BusSink {
	return &BusSink{
		bus:     bus,
		channel: channel,
		stream:  stream,
		logger:  logger.With(slog.String("component", "health_bus")),
	}
}

// Report implements domain.HealthSink. Publish failures are logged, never
// propagated: observability must not take the pipeline down.
func (b *BusSink) Report(event domain.HealthEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Warn("marshal health event", slog.String("error", err.Error()))
		return
	}
	ctx := context.Background()
	if err := b.bus.Publish(ctx, b.channel, payload); err != nil {
		b.logger.Warn("publish health event", slog.String("error", err.Error()))
	}
	if err := b.bus.StreamAppend(ctx, b.stream, payload); err != nil {
		b.logger.Warn("append health event", slog.String("error", err.Error()))
	}
}

// Compile-time interface checks.
var (
	_ domain.HealthSink = (*Reporter)(nil)
	_ domain.HealthSink = (*SlogSink)(nil)
	_ domain.HealthSink = (*BusSink)(nil)
)
