package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Telemetry owns the OpenTelemetry providers and the optional Prometheus
// scrape handler.
type Telemetry struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	metricsHandler http.Handler
	metricsPath    string
}

// Option is a function that configures the telemetry setup
type Option func(*options)

type options struct {
	config *Config
}

// WithTelemetryConfig sets the telemetry section of the server configuration
func WithTelemetryConfig(cfg *Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// New creates the telemetry providers. A nil or disabled configuration yields
// no-op providers. The caller is responsible for calling Shutdown.
func New(ctx context.Context, opts ...Option) (*Telemetry, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	c := o.config
	if c == nil || !c.Enabled {
		slog.Debug("Telemetry disabled")
		return &Telemetry{
			tracerProvider: tracenoop.NewTracerProvider(),
			meterProvider:  metricnoop.NewMeterProvider(),
		}, nil
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry configuration: %w", err)
	}

	slog.Info("Initializing telemetry",
		"service_name", c.GetServiceName(),
		"service_version", c.GetServiceVersion(),
		"endpoint", c.GetEndpoint(),
	)

	common := []ProviderOption{
		WithService(c.GetServiceName(), c.GetServiceVersion()),
		WithOTLPEndpoint(c.GetEndpoint(), c.Insecure),
	}
	t := &Telemetry{}

	var err error
	t.tracerProvider, err = NewTracerProvider(ctx, append(common, WithTracingConfig(c.Tracing))...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer provider: %w", err)
	}

	meterOpts := append(common, WithMetricsConfig(c.Metrics))
	if m := c.Metrics; m != nil && m.Enabled && m.GetExporter() == ExporterPrometheus {
		reg := newScrapeRegistry()
		meterOpts = append(meterOpts, WithPrometheusRegisterer(reg))
		t.metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
		t.metricsPath = m.GetPath()
	}

	t.meterProvider, err = NewMeterProvider(ctx, meterOpts...)
	if err != nil {
		_ = shutdown(ctx, t.tracerProvider)
		return nil, fmt.Errorf("failed to create meter provider: %w", err)
	}
	return t, nil
}

// newScrapeRegistry holds the OpenTelemetry instruments plus the Go runtime
// and process collectors. Scrapes never see prometheus.DefaultRegisterer.
func newScrapeRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// TracerProvider returns the configured tracer provider
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	return t.tracerProvider
}

// MeterProvider returns the configured meter provider
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// MetricsHandler returns the Prometheus scrape handler and its path.
// The handler is nil unless the Prometheus exporter is enabled.
func (t *Telemetry) MetricsHandler() (string, http.Handler) {
	return t.metricsPath, t.metricsHandler
}

// Shutdown flushes pending spans and metrics and stops the SDK providers.
// No-op providers are skipped.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	err := errors.Join(
		shutdown(ctx, t.tracerProvider),
		shutdown(ctx, t.meterProvider),
	)
	if err != nil {
		return fmt.Errorf("telemetry shutdown: %w", err)
	}
	slog.Debug("Telemetry shut down")
	return nil
}

// shutdown stops p when it is an SDK provider.
func shutdown(ctx context.Context, p any) error {
	if s, ok := p.(interface{ Shutdown(context.Context) error }); ok {
		return s.Shutdown(ctx)
	}
	return nil
}
