// Package telemetry provides Prometheus metrics and OpenTelemetry tracing
// for the codemode daemon.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Config holds the telemetry configuration.
type Config struct {
	// ServiceName identifies the service for telemetry data.
	ServiceName string

	// ServiceVersion identifies the service version for telemetry data.
	ServiceVersion string

	// MetricsEnabled controls whether Prometheus metrics are collected and
	// exposed on /metrics.
	MetricsEnabled bool

	// TracingEndpoint is the OTLP HTTP collector endpoint as host:port.
	// Empty disables tracing.
	TracingEndpoint string

	// SamplingRate is the trace sampling ratio (0.0 to 1.0).
	SamplingRate float64
}

// Provider bundles the metrics registry and tracer provider, along with
// their shutdown.
type Provider struct {
	metrics           *Metrics
	tracerProvider    trace.TracerProvider
	prometheusHandler http.Handler
	shutdownFuncs     []func(context.Context) error
}

// NewProvider creates a telemetry provider for the given configuration.
// When tracing is enabled it also installs the global tracer provider and
// propagator.
func NewProvider(ctx context.Context, config Config) (*Provider, error) {
	p := &Provider{
		tracerProvider: tracenoop.NewTracerProvider(),
	}

	if config.MetricsEnabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		p.metrics = NewMetrics(registry)
		p.prometheusHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	if config.TracingEndpoint != "" {
		tracerProvider, shutdown, err := newTracerProvider(ctx, config)
		if err != nil {
			return nil, err
		}
		p.tracerProvider = tracerProvider
		p.shutdownFuncs = append(p.shutdownFuncs, shutdown)

		otel.SetTracerProvider(tracerProvider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}

	return p, nil
}

// newTracerProvider creates an OTLP HTTP tracer provider. The endpoint is
// host:port without a scheme; the exporter always uses plain HTTP since
// collectors are expected to be local or sidecar-attached.
func newTracerProvider(ctx context.Context, config Config) (trace.TracerProvider, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create telemetry resource: %w", err)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(config.TracingEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(config.SamplingRate)),
	)
	return provider, provider.Shutdown, nil
}

// Metrics returns the domain metrics, or nil when metrics are disabled.
func (p *Provider) Metrics() *Metrics {
	return p.metrics
}

// TracerProvider returns the configured tracer provider.
func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.tracerProvider
}

// PrometheusHandler returns the Prometheus metrics handler, or nil when
// metrics are disabled.
func (p *Provider) PrometheusHandler() http.Handler {
	return p.prometheusHandler
}

// Middleware returns an HTTP middleware that wraps handlers in server
// spans. It is a no-op wrapper when tracing is disabled.
func (p *Provider) Middleware(operation string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, operation,
			otelhttp.WithTracerProvider(p.tracerProvider),
		)
	}
}

// Shutdown gracefully shuts down the telemetry providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var errs []error
	for i, shutdown := range p.shutdownFuncs {
		if err := shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("provider %d shutdown failed: %w", i, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown failed with %d errors: %v", len(errs), errs)
	}
	return nil
}
