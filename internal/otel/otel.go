// Package otel wires OpenTelemetry tracing and metrics for the relay. With
// telemetry disabled every tracer and meter it hands out is a no-op, so
// callers never branch on whether telemetry is on.
package otel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

const (
	// InstrumentationName names both the tracer and the meter.
	InstrumentationName = "clickgram"
	// Version is reported as a resource attribute and by /healthz.
	Version = "v0.3-dev"

	defaultOTLPEndpoint = "localhost:4318"
)

// Exporter names accepted in Config.Exporter.
const (
	ExporterNone     = "none"
	ExporterStdout   = "stdout"
	ExporterOTLPHTTP = "otlp-http"
)

type Config struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Exporter is one of none, stdout, otlp-http. Empty means otlp-http.
	Exporter    string  `json:"exporter" yaml:"exporter"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`
	ServiceName string  `json:"service_name" yaml:"service_name"`
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`

	// Output receives stdout-exporter spans; nil means os.Stdout.
	Output io.Writer `json:"-" yaml:"-"`
}

// Provider owns the tracer and meter handed to the relay components.
type Provider struct {
	TracerProvider *sdktrace.TracerProvider
	Tracer         trace.Tracer
	Meter          metric.Meter

	shutdowns []func(context.Context) error
}

// Init builds a Provider for cfg. The caller must Shutdown it to flush
// pending spans.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(orDefault(cfg.ServiceName, InstrumentationName)),
		semconv.ServiceVersion(Version),
		attribute.String("clickgram.exporter", orDefault(cfg.Exporter, ExporterOTLPHTTP)),
	))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate(cfg.SampleRate)))),
	}
	exporter, err := spanExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	// The none exporter keeps span contexts (and trace ids) without
	// shipping them anywhere.
	if exporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(tp)

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))

	return &Provider{
		TracerProvider: tp,
		Tracer:         tp.Tracer(InstrumentationName),
		Meter:          mp.Meter(InstrumentationName),
		shutdowns:      []func(context.Context) error{tp.Shutdown, mp.Shutdown},
	}, nil
}

// Noop returns a provider whose tracer and meter discard everything.
func Noop() *Provider {
	return &Provider{
		Tracer: NoopTracer(),
		Meter:  noop.NewMeterProvider().Meter(InstrumentationName),
	}
}

// NoopTracer is the tracer components fall back to when none is injected.
func NoopTracer() trace.Tracer {
	return nooptrace.NewTracerProvider().Tracer(InstrumentationName)
}

// Shutdown flushes pending telemetry. Every provider is shut down even if
// an earlier one fails.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdowns {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}

func spanExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch orDefault(cfg.Exporter, ExporterOTLPHTTP) {
	case ExporterNone:
		return nil, nil
	case ExporterStdout:
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		return stdouttrace.New(stdouttrace.WithWriter(out))
	case ExporterOTLPHTTP:
		exp, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(orDefault(cfg.Endpoint, defaultOTLPEndpoint)),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("unknown exporter %q (want %s, %s or %s)",
			cfg.Exporter, ExporterNone, ExporterStdout, ExporterOTLPHTTP)
	}
}

func sampleRate(r float64) float64 {
	if r <= 0 || r > 1 {
		return 1
	}
	return r
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
