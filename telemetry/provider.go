package telemetry

import (
	"context"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/vinayprograms/objecthub/errors"
)

// Environment variables consulted when the config leaves a value empty.
const (
	envEndpoint    = "OTEL_EXPORTER_OTLP_ENDPOINT"
	envServiceName = "OTEL_SERVICE_NAME"
)

// ProviderConfig configures span export.
type ProviderConfig struct {
	// ServiceName names the hub in traces. Default: $OTEL_SERVICE_NAME, then "objecthub".
	ServiceName string

	// ServiceVersion is reported as service.version.
	ServiceVersion string

	// Endpoint is the OTLP collector, e.g. "localhost:4317".
	// Default: $OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string

	// Protocol is "grpc" (default) or "http".
	Protocol string

	// Insecure disables TLS to the collector.
	Insecure bool

	// Debug records metadata documents on object spans.
	Debug bool

	// ExportTimeout bounds each export call. Zero uses the exporter default.
	ExportTimeout time.Duration
}

// withDefaults fills empty fields from the environment.
func (c ProviderConfig) withDefaults() ProviderConfig {
	if c.Endpoint == "" {
		c.Endpoint = os.Getenv(envEndpoint)
	}
	c.Endpoint = strings.TrimPrefix(strings.TrimPrefix(c.Endpoint, "http://"), "https://")
	if c.ServiceName == "" {
		c.ServiceName = os.Getenv(envServiceName)
	}
	if c.ServiceName == "" {
		c.ServiceName = "objecthub"
	}
	if c.Protocol == "" {
		c.Protocol = "grpc"
	}
	return c
}

// Provider owns the SDK tracer provider installed by InitProvider.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// Setup calls InitProvider when an endpoint is configured, in cfg or the
// environment. Otherwise it returns a nil Provider and tracing stays a no-op.
func Setup(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	if cfg.withDefaults().Endpoint == "" {
		return nil, nil
	}
	return InitProvider(ctx, cfg)
}

// InitProvider exports spans over OTLP and installs the result as both the
// otel global provider and the global Tracer. The Provider must be shut
// down to flush buffered spans.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	cfg = cfg.withDefaults()
	if cfg.Endpoint == "" {
		return nil, errors.InvalidInput("telemetry endpoint not configured (set endpoint or " + envEndpoint + ")")
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, errors.Wrap(err, "building telemetry resource")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	SetGlobalTracer(NewTracerFromProvider(tp, cfg.ServiceName, cfg.Debug))
	return &Provider{tp: tp}, nil
}

func newExporter(ctx context.Context, cfg ProviderConfig) (sdktrace.SpanExporter, error) {
	var (
		exp sdktrace.SpanExporter
		err error
	)
	switch cfg.Protocol {
	case "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if cfg.ExportTimeout > 0 {
			opts = append(opts, otlptracegrpc.WithTimeout(cfg.ExportTimeout))
		}
		exp, err = otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if cfg.ExportTimeout > 0 {
			opts = append(opts, otlptracehttp.WithTimeout(cfg.ExportTimeout))
		}
		exp, err = otlptracehttp.New(ctx, opts...)
	default:
		return nil, errors.InvalidInput("unknown telemetry protocol " + cfg.Protocol + " (use grpc or http)")
	}
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeUnavailable, "creating "+cfg.Protocol+" span exporter")
	}
	return exp, nil
}

// Shutdown flushes buffered spans and stops export. A nil Provider is a
// no-op.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
