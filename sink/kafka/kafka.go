// Package kafka exports telemetry events to a Kafka topic, keyed by session
// id so every event of a conversation lands on the same partition in order.
package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/mirako/switchboard"
)

// Sink implements switchboard.TelemetrySink over a Kafka writer.
type Sink struct {
	writer *kafka.Writer
	logger *slog.Logger
}

var _ switchboard.TelemetrySink = (*Sink)(nil)

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithLogger sets a structured logger for delivery diagnostics.
func WithLogger(l *slog.Logger) SinkOption {
	return func(s *Sink) { s.logger = l }
}

// New creates a sink writing to topic on the given brokers.
func New(brokers []string, topic string, opts ...SinkOption) *Sink {
	s := &Sink{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		logger: slog.New(discardHandler{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Record publishes one telemetry event. The session id is the message key;
// the event is the JSON value.
func (s *Sink) Record(ctx context.Context, event switchboard.TelemetryEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(event.SessionID),
		Value: data,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return err
	}
	s.logger.Debug("telemetry event published", "stage", event.Stage, "session", event.SessionID)
	return nil
}

// Close flushes and closes the underlying writer.
func (s *Sink) Close() error { return s.writer.Close() }

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
