// Package telemetry wires structured logging and OpenTelemetry
// instrumentation for the gateway, mirroring the split runtime/agent/telemetry
// uses elsewhere in this codebase (a Logger, a Metrics recorder, and a
// Tracer), adapted to this service's own spans and counters: request spans,
// PTC round spans, and sandbox session gauges instead of generic
// agent-runtime ones.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits structured, context-scoped log messages. Implementations
	// must be safe for concurrent use.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters, timers, and gauges tagged with dimension
	// key-value pairs.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer starts and retrieves spans.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
		Span(ctx context.Context) Span
	}

	// Span is the subset of an OTEL span this package exposes to callers.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, attrs ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}
)

// Telemetry bundles the three facets used throughout the gateway. Handlers
// and backend adapters take a *Telemetry rather than the three interfaces
// separately so call sites read `tel.Log.Info(...)` / `tel.Tracer.Start(...)`.
type Telemetry struct {
	Log     Logger
	Metrics Metrics
	Tracer  Tracer
}

// New builds a Telemetry backed by goa.design/clue/log and OpenTelemetry.
// Callers must have already configured the global OTEL providers (typically
// via clue.ConfigureOpenTelemetry in cmd/gateway) before using the returned
// value's Tracer/Metrics.
func New() *Telemetry {
	return &Telemetry{
		Log:     NewClueLogger(),
		Metrics: NewClueMetrics(),
		Tracer:  NewClueTracer(),
	}
}

// Noop builds a Telemetry that discards everything; used in tests and in
// any code path that must function without a configured OTEL pipeline.
func Noop() *Telemetry {
	return &Telemetry{
		Log:     NewNoopLogger(),
		Metrics: NewNoopMetrics(),
		Tracer:  NewNoopTracer(),
	}
}
