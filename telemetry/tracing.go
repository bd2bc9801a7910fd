// Package telemetry traces hub operations with OpenTelemetry. Until a
// provider is installed every span is a no-op.
package telemetry

import (
	"context"
	"encoding/json"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with hub-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, include metadata documents in span attributes
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracerFromProvider creates a tracer from an explicit provider.
func NewTracerFromProvider(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{
		tracer: tp.Tracer(name),
		debug:  debug,
	}
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Object Spans ---

// ObjectSpanOptions describes a finished object mutation.
type ObjectSpanOptions struct {
	HasMeta  bool
	HasData  bool
	DataSize int
	Meta     map[string]any // Only included if debug=true
}

// StartObjectSpan starts a span for a mutation of one object.
func (t *Tracer) StartObjectSpan(ctx context.Context, operation, key string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "object."+operation, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("object.operation", operation),
		attribute.String("object.key", key),
	)
	return ctx, span
}

// EndObjectSpan ends an object span with attributes.
func (t *Tracer) EndObjectSpan(span trace.Span, opts ObjectSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.Bool("object.has_meta", opts.HasMeta),
		attribute.Bool("object.has_data", opts.HasData),
	}
	if opts.HasData {
		attrs = append(attrs, attribute.Int("object.data_size", opts.DataSize))
	}
	if t.debug && opts.Meta != nil {
		attrs = append(attrs, attribute.String("object.meta", truncateJSON(opts.Meta, 2000)))
	}
	span.SetAttributes(attrs...)
	endSpan(span, err)
}

// --- Broadcast Spans ---

// StartBroadcastSpan starts a span for a control broadcast.
func (t *Tracer) StartBroadcastSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "broadcast."+operation, trace.WithSpanKind(trace.SpanKindProducer))
	span.SetAttributes(attribute.String("broadcast.operation", operation))
	return ctx, span
}

// EndBroadcastSpan ends a broadcast span.
func (t *Tracer) EndBroadcastSpan(span trace.Span, recipients int, err error) {
	span.SetAttributes(attribute.Int("broadcast.recipients", recipients))
	endSpan(span, err)
}

// --- Query Spans ---

// QuerySpanOptions describes a finished query.
type QuerySpanOptions struct {
	ID       string
	Expected int
	Received int
}

// StartQuerySpan starts a span covering a query from issue to completion.
func (t *Tracer) StartQuerySpan(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "query", trace.WithSpanKind(trace.SpanKindInternal))
}

// EndQuerySpan ends a query span with attributes.
func (t *Tracer) EndQuerySpan(span trace.Span, opts QuerySpanOptions, err error) {
	span.SetAttributes(
		attribute.String("query.id", opts.ID),
		attribute.Int("query.expected", opts.Expected),
		attribute.Int("query.received", opts.Received),
		attribute.Bool("query.partial", opts.Received < opts.Expected),
	)
	endSpan(span, err)
}

// --- Request Spans ---

// StartRequestSpan starts a server span for an inbound API request.
func (t *Tracer) StartRequestSpan(ctx context.Context, method, route string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, method+" "+route, trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String("http.route", route),
	)
	return ctx, span
}

// EndRequestSpan ends a request span with the response status.
func (t *Tracer) EndRequestSpan(span trace.Span, status int) {
	span.SetAttributes(attribute.Int("http.response.status_code", status))
	if status >= 500 {
		span.SetStatus(codes.Error, "")
	}
	span.End()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Context Propagation ---

// InjectContext injects trace context into a carrier for cross-process propagation.
func InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractContext extracts trace context from a carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// --- Helpers ---

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func truncateJSON(v any, maxLen int) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "<unserializable>"
	}
	return truncate(string(raw), maxLen)
}
