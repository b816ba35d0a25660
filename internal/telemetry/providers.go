package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// DefaultMetricsInterval is the push interval of the OTLP metrics exporter
const DefaultMetricsInterval = 60 * time.Second

// ProviderOption configures NewTracerProvider and NewMeterProvider. Options
// that only concern one signal are ignored by the other.
type ProviderOption func(*providerSettings)

type providerSettings struct {
	serviceName    string
	serviceVersion string
	endpoint       string
	insecure       bool

	tracing      *TracingConfig
	spanExporter sdktrace.SpanExporter

	metrics    *MetricsConfig
	registerer prometheus.Registerer
}

func newProviderSettings(opts []ProviderOption) *providerSettings {
	s := &providerSettings{
		serviceName:    DefaultServiceName,
		serviceVersion: "unknown",
		endpoint:       DefaultEndpoint,
		registerer:     prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithService sets the service.name and service.version resource attributes
func WithService(name, version string) ProviderOption {
	return func(s *providerSettings) {
		s.serviceName = name
		s.serviceVersion = version
	}
}

// WithOTLPEndpoint sets the collector both signals are pushed to
func WithOTLPEndpoint(endpoint string, insecure bool) ProviderOption {
	return func(s *providerSettings) {
		s.endpoint = endpoint
		s.insecure = insecure
	}
}

// WithTracingConfig enables tracing. Without it the tracer provider is a no-op.
func WithTracingConfig(tc *TracingConfig) ProviderOption {
	return func(s *providerSettings) { s.tracing = tc }
}

// WithSpanExporter replaces the OTLP span exporter
func WithSpanExporter(exporter sdktrace.SpanExporter) ProviderOption {
	return func(s *providerSettings) { s.spanExporter = exporter }
}

// WithMetricsConfig enables metrics. Without it the meter provider is a no-op.
func WithMetricsConfig(mc *MetricsConfig) ProviderOption {
	return func(s *providerSettings) { s.metrics = mc }
}

// WithPrometheusRegisterer sets where the Prometheus exporter registers.
// Defaults to prometheus.DefaultRegisterer.
func WithPrometheusRegisterer(reg prometheus.Registerer) ProviderOption {
	return func(s *providerSettings) { s.registerer = reg }
}

func (s *providerSettings) resource(ctx context.Context) (*resource.Resource, error) {
	// resource.New rather than resource.Merge with resource.Default() to
	// avoid schema URL conflicts.
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(s.serviceName),
			semconv.ServiceVersion(s.serviceVersion),
		),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// NewTracerProvider builds a batching SDK tracer provider with parent-based
// ratio sampling, and installs it globally with W3C propagation. Tracing
// that is not enabled yields a no-op provider. The caller owns Shutdown.
func NewTracerProvider(ctx context.Context, opts ...ProviderOption) (trace.TracerProvider, error) {
	s := newProviderSettings(opts)
	if s.tracing == nil || !s.tracing.Enabled {
		slog.Info("Tracing disabled, using no-op tracer provider")
		return tracenoop.NewTracerProvider(), nil
	}

	res, err := s.resource(ctx)
	if err != nil {
		return nil, err
	}

	exporter := s.spanExporter
	if exporter == nil {
		clientOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(s.endpoint)}
		if s.insecure {
			clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
		}
		if exporter, err = otlptracehttp.New(ctx, clientOpts...); err != nil {
			return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
		}
	}

	ratio := s.tracing.GetSampling()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if s.insecure {
		slog.Warn("Spans are sent to the collector over plain HTTP")
	}
	slog.Info("Tracing initialized", "endpoint", s.endpoint, "sampling_ratio", ratio)
	return tp, nil
}

// NewMeterProvider builds an SDK meter provider whose reader is either the
// Prometheus exporter or a periodic OTLP push. Metrics that are not enabled
// yield a no-op provider. The caller owns Shutdown.
func NewMeterProvider(ctx context.Context, opts ...ProviderOption) (metric.MeterProvider, error) {
	s := newProviderSettings(opts)
	if s.metrics == nil || !s.metrics.Enabled {
		slog.Info("Metrics disabled, using no-op meter provider")
		return metricnoop.NewMeterProvider(), nil
	}

	res, err := s.resource(ctx)
	if err != nil {
		return nil, err
	}

	reader, err := s.metricReader(ctx)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)

	slog.Info("Metrics initialized", "exporter", s.metrics.GetExporter())
	return mp, nil
}

func (s *providerSettings) metricReader(ctx context.Context) (sdkmetric.Reader, error) {
	switch s.metrics.GetExporter() {
	case ExporterPrometheus:
		exporter, err := otelprom.New(otelprom.WithRegisterer(s.registerer))
		if err != nil {
			return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
		}
		return exporter, nil
	case ExporterOTLP:
		clientOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(s.endpoint)}
		if s.insecure {
			clientOpts = append(clientOpts, otlpmetrichttp.WithInsecure())
		}
		exporter, err := otlpmetrichttp.New(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(DefaultMetricsInterval)), nil
	default:
		return nil, fmt.Errorf("unknown metrics exporter %q", s.metrics.Exporter)
	}
}
