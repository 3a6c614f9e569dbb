package observer

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mirako/switchboard"
)

// MetricSink turns telemetry stage events into OTEL metrics: one counter
// bump per event, plus denial, failure, escalation counters and the tool
// latency histogram derived from the event payloads.
type MetricSink struct {
	inst *Instruments
}

var _ switchboard.TelemetrySink = (*MetricSink)(nil)

// NewMetricSink creates a sink over the given instruments.
func NewMetricSink(inst *Instruments) *MetricSink {
	return &MetricSink{inst: inst}
}

func (s *MetricSink) Record(ctx context.Context, event switchboard.TelemetryEvent) error {
	stage := attribute.String("stage", string(event.Stage))
	s.inst.StageEvents.Add(ctx, 1, metric.WithAttributes(stage))

	switch event.Stage {
	case switchboard.StagePolicyCheck:
		if allowed, ok := event.Payload["allowed"].(bool); ok && !allowed {
			s.inst.PolicyDenies.Add(ctx, 1,
				metric.WithAttributes(toolAttr(event.Payload)))
		}
	case switchboard.StageToolExecute:
		if ms, ok := asFloat(event.Payload["duration_ms"]); ok {
			s.inst.ToolDuration.Record(ctx, ms,
				metric.WithAttributes(toolAttr(event.Payload)))
		}
		if ok, present := event.Payload["success"].(bool); present && !ok {
			s.inst.ToolFailures.Add(ctx, 1,
				metric.WithAttributes(toolAttr(event.Payload)))
		}
	case switchboard.StageRespond:
		if esc, ok := event.Payload["escalated"].(bool); ok && esc {
			s.inst.Escalations.Add(ctx, 1)
		}
	}
	return nil
}

func toolAttr(payload map[string]any) attribute.KeyValue {
	name, _ := payload["tool"].(string)
	return attribute.String("tool", name)
}

// asFloat accepts the numeric types a payload value may carry after a
// JSON round trip.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}
