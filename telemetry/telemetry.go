// Package telemetry defines the logging, metrics, and tracing interfaces
// consumed throughout the engine. The interfaces are intentionally small so
// tests can provide lightweight stubs, and so the engine never reads a
// global logger or global tracer provider on its own (spec.md "global
// state" design note: configuration, including telemetry, is a struct
// passed down explicitly, not ambient state).
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging used throughout the engine.
// Implementations typically delegate to Clue but the interface stays small
// so store, planning, and runner code can be tested without a real sink.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter and histogram helpers for engine instrumentation:
// layer duration, jobs dispatched, jobs failed, blob bytes written.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so engine code stays agnostic of the
// underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span represents an in-flight tracing span wrapping one suspension point
// named in spec.md §5: an input-resolution read, a provider invocation, a
// blob write, or an event-log append.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}
