package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// OtelTracer adapts an otel trace.Tracer to the Tracer interface.
type OtelTracer struct {
	T trace.Tracer
}

func NewOtelTracer(t trace.Tracer) OtelTracer { return OtelTracer{T: t} }

func (o OtelTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	ctx, span := o.T.Start(ctx, name, opts...)
	return ctx, otelSpan{span}
}

type otelSpan struct{ span trace.Span }

func (s otelSpan) End(opts ...trace.SpanEndOption)              { s.span.End(opts...) }
func (s otelSpan) AddEvent(name string, attrs ...any)           { s.span.AddEvent(name) }
func (s otelSpan) SetStatus(code codes.Code, description string) { s.span.SetStatus(code, description) }
func (s otelSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}

// OtelMetrics adapts an otel metric.Meter to the Metrics interface, lazily
// creating instruments per metric name the first time they're used.
type OtelMetrics struct {
	meter      metric.Meter
	counters   map[string]metric.Float64Counter
	histograms map[string]metric.Float64Histogram
	gauges     map[string]metric.Float64Gauge
}

func NewOtelMetrics(m metric.Meter) *OtelMetrics {
	return &OtelMetrics{
		meter:      m,
		counters:   make(map[string]metric.Float64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		gauges:     make(map[string]metric.Float64Gauge),
	}
}

func (o *OtelMetrics) IncCounter(name string, value float64, tags ...string) {
	c, ok := o.counters[name]
	if !ok {
		var err error
		c, err = o.meter.Float64Counter(name)
		if err != nil {
			return
		}
		o.counters[name] = c
	}
	c.Add(context.Background(), value)
}

func (o *OtelMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	h, ok := o.histograms[name]
	if !ok {
		var err error
		h, err = o.meter.Float64Histogram(name, metric.WithUnit("ms"))
		if err != nil {
			return
		}
		o.histograms[name] = h
	}
	h.Record(context.Background(), float64(duration.Milliseconds()))
}

func (o *OtelMetrics) RecordGauge(name string, value float64, tags ...string) {
	g, ok := o.gauges[name]
	if !ok {
		var err error
		g, err = o.meter.Float64Gauge(name)
		if err != nil {
			return
		}
		o.gauges[name] = g
	}
	g.Record(context.Background(), value)
}
