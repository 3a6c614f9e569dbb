package switchboard

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// TelemetrySink receives structured stage events. Implementations must be
// safe for concurrent use. At least one in-process sink (MemorySink) and the
// durable sinks (store/sqlite, sink/kafka) implement this.
type TelemetrySink interface {
	Record(ctx context.Context, event TelemetryEvent) error
}

// PayloadParams is the reserved payload key the pipeline scrubs: a
// map[string]string of parameter name -> value. After scrubbing the payload
// carries "param_names" (sorted names) and, for redact-exempt names only,
// "params" with values.
const PayloadParams = "params"

// Pipeline fans events out to every configured sink. Recording is
// fire-and-forget: a sink error or panic is logged and swallowed, never
// failing or blocking the turn.
type Pipeline struct {
	mu     sync.Mutex
	sinks  []TelemetrySink
	exempt map[string]bool
	logger *slog.Logger
}

// PipelineOption configures a telemetry Pipeline.
type PipelineOption func(*Pipeline)

// WithSink adds sinks to the pipeline.
func WithSink(sinks ...TelemetrySink) PipelineOption {
	return func(p *Pipeline) { p.sinks = append(p.sinks, sinks...) }
}

// WithExemptParams names parameters whose values may appear in event
// payloads. Everything else is reduced to its name.
func WithExemptParams(names ...string) PipelineOption {
	return func(p *Pipeline) {
		for _, n := range names {
			p.exempt[n] = true
		}
	}
}

// WithPipelineLogger sets the structured logger for sink failures.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates a telemetry pipeline.
func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := &Pipeline{exempt: make(map[string]bool), logger: nopLogger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit builds, scrubs, and records one stage event.
func (p *Pipeline) Emit(ctx context.Context, interactionID, sessionID string, stage Stage, level string, payload map[string]any) {
	event := TelemetryEvent{
		Timestamp:     NowUnix(),
		InteractionID: interactionID,
		SessionID:     sessionID,
		Stage:         stage,
		Level:         level,
		Payload:       p.scrub(payload),
	}
	p.mu.Lock()
	sinks := append([]TelemetrySink(nil), p.sinks...)
	p.mu.Unlock()
	for _, s := range sinks {
		p.record(ctx, s, event)
	}
}

func (p *Pipeline) record(ctx context.Context, s TelemetrySink, event TelemetryEvent) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("telemetry sink panicked", "stage", event.Stage, "panic", r)
		}
	}()
	if err := s.Record(ctx, event); err != nil {
		p.logger.Warn("telemetry sink failed", "stage", event.Stage, "err", err)
	}
}

// scrub applies parameter redaction to the reserved PayloadParams key.
func (p *Pipeline) scrub(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	raw, ok := payload[PayloadParams].(map[string]string)
	if !ok {
		return payload
	}
	out := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		if k != PayloadParams {
			out[k] = v
		}
	}
	names := make([]string, 0, len(raw))
	kept := make(map[string]string)
	for name, value := range raw {
		names = append(names, name)
		if p.exempt[name] {
			kept[name] = value
		}
	}
	sort.Strings(names)
	out["param_names"] = names
	if len(kept) > 0 {
		out[PayloadParams] = kept
	}
	return out
}

// --- In-process sinks ---

// MemorySink buffers events in order. Useful for tests and for replaying a
// turn's decision trace in evaluation tooling.
type MemorySink struct {
	mu     sync.Mutex
	events []TelemetryEvent
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Record(_ context.Context, event TelemetryEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of all recorded events in arrival order.
func (m *MemorySink) Events() []TelemetryEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TelemetryEvent(nil), m.events...)
}

// Stages returns just the stage sequence, for order assertions.
func (m *MemorySink) Stages() []Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Stage, len(m.events))
	for i, e := range m.events {
		out[i] = e.Stage
	}
	return out
}

// SlogSink writes events to a structured logger. The default sink for
// development setups without a durable store.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink over the given logger.
func NewSlogSink(l *slog.Logger) *SlogSink {
	return &SlogSink{logger: l}
}

func (s *SlogSink) Record(_ context.Context, event TelemetryEvent) error {
	s.logger.Info("telemetry",
		"stage", event.Stage,
		"level", event.Level,
		"interaction_id", event.InteractionID,
		"session_id", event.SessionID,
		"payload", event.Payload)
	return nil
}

// compile-time checks
var (
	_ TelemetrySink = (*MemorySink)(nil)
	_ TelemetrySink = (*SlogSink)(nil)
)
