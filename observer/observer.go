// Package observer provides OTEL-based observability for the request router.
//
// It exports traces and metrics via OpenTelemetry OTLP HTTP, implements
// switchboard.Tracer on the global tracer provider, and offers a telemetry
// sink that turns stage events into metrics. Users export to any
// OTEL-compatible backend by setting standard OTEL env vars.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/mirako/switchboard/observer"

// Instruments holds all OTEL instruments used by the observer sink.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	// Counters
	StageEvents  metric.Int64Counter
	PolicyDenies metric.Int64Counter
	ToolFailures metric.Int64Counter
	Escalations  metric.Int64Counter

	// Histograms
	ToolDuration metric.Float64Histogram
}

// Init sets up OTEL trace and metric providers with OTLP HTTP exporters.
// Configuration comes from standard OTEL env vars (OTEL_EXPORTER_OTLP_ENDPOINT, etc.).
// Returns a shutdown function that must be called on application exit.
func Init(ctx context.Context) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("switchboard")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	inst, err := newInstruments()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
		)
	}
	return inst, shutdown, nil
}

func newInstruments() (*Instruments, error) {
	meter := otel.Meter(scopeName)

	stageEvents, err := meter.Int64Counter("router.stage.events",
		metric.WithDescription("Telemetry events per pipeline stage"),
		metric.WithUnit("{event}"))
	if err != nil {
		return nil, err
	}

	policyDenies, err := meter.Int64Counter("router.policy.denies",
		metric.WithDescription("Tool requests denied by policy"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	toolFailures, err := meter.Int64Counter("router.tool.failures",
		metric.WithDescription("Tool executions that failed"),
		metric.WithUnit("{execution}"))
	if err != nil {
		return nil, err
	}

	escalations, err := meter.Int64Counter("router.escalations",
		metric.WithDescription("Turns that ended in a human-escalation offer"),
		metric.WithUnit("{turn}"))
	if err != nil {
		return nil, err
	}

	toolDuration, err := meter.Float64Histogram("router.tool.duration",
		metric.WithDescription("Tool execution latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:       otel.Tracer(scopeName),
		Meter:        meter,
		StageEvents:  stageEvents,
		PolicyDenies: policyDenies,
		ToolFailures: toolFailures,
		Escalations:  escalations,
		ToolDuration: toolDuration,
	}, nil
}
