// Package telemetry gives the rest of the module a small, backend-agnostic
// surface for logging, metrics, and tracing so call sites never import
// zerolog or otel directly.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging used throughout the module.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter/timer/gauge helpers for runtime instrumentation.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so call sites stay agnostic of the
// underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// NodeTelemetry captures observability metadata collected during a single
// node execution attempt.
type NodeTelemetry struct {
	DurationMs int64
	TokensUsed int
	Model      string
	Extra      map[string]any
}

// KeyVals flattens NodeTelemetry into the alternating key/value pairs every
// Logger method accepts, so executors don't each hand-roll the same list.
func (nt NodeTelemetry) KeyVals() []any {
	kv := []any{"duration_ms", nt.DurationMs, "tokens_used", nt.TokensUsed, "model", nt.Model}
	for k, v := range nt.Extra {
		kv = append(kv, k, v)
	}
	return kv
}
