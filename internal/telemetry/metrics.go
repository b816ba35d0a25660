package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// PackageMetricsMeterName is the name used for the package metrics meter
	PackageMetricsMeterName = "github.com/stacklok/nuget-registry-server/packages"
)

// PackageMetrics holds the OpenTelemetry instruments for package operations
type PackageMetrics struct {
	ingestsTotal   metric.Int64Counter
	deletesTotal   metric.Int64Counter
	downloadsTotal metric.Int64Counter
	searchDuration metric.Float64Histogram
}

// NewPackageMetrics creates a new PackageMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewPackageMetrics(provider metric.MeterProvider) (*PackageMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(PackageMetricsMeterName)

	ingestsTotal, err := meter.Int64Counter(
		"nuget_reg_srv_package_ingests_total",
		metric.WithDescription("Package uploads by outcome"),
		metric.WithUnit("{package}"),
	)
	if err != nil {
		return nil, err
	}

	deletesTotal, err := meter.Int64Counter(
		"nuget_reg_srv_package_deletes_total",
		metric.WithDescription("Package version deletions by outcome"),
		metric.WithUnit("{package}"),
	)
	if err != nil {
		return nil, err
	}

	downloadsTotal, err := meter.Int64Counter(
		"nuget_reg_srv_package_downloads_total",
		metric.WithDescription("Artifacts served from the package base address"),
		metric.WithUnit("{artifact}"),
	)
	if err != nil {
		return nil, err
	}

	searchDuration, err := meter.Float64Histogram(
		"nuget_reg_srv_search_duration_seconds",
		metric.WithDescription("Duration of store searches in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return nil, err
	}

	return &PackageMetrics{
		ingestsTotal:   ingestsTotal,
		deletesTotal:   deletesTotal,
		downloadsTotal: downloadsTotal,
		searchDuration: searchDuration,
	}, nil
}

// RecordIngest counts an upload with its outcome, e.g. "created" or "already_exists"
func (m *PackageMetrics) RecordIngest(ctx context.Context, tenant, outcome string) {
	if m == nil {
		return
	}
	m.ingestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", tenant),
		attribute.String("outcome", outcome),
	))
}

// RecordDelete counts a deletion request and whether it removed a version
func (m *PackageMetrics) RecordDelete(ctx context.Context, tenant string, deleted bool) {
	if m == nil {
		return
	}
	m.deletesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", tenant),
		attribute.Bool("deleted", deleted),
	))
}

// RecordDownload counts a served artifact: "nupkg", "nuspec" or "icon"
func (m *PackageMetrics) RecordDownload(ctx context.Context, tenant, kind string) {
	if m == nil {
		return
	}
	m.downloadsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", tenant),
		attribute.String("kind", kind),
	))
}

// RecordSearch records the duration of a store search
func (m *PackageMetrics) RecordSearch(ctx context.Context, tenant string, duration time.Duration, hits int) {
	if m == nil {
		return
	}
	m.searchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("tenant", tenant),
		attribute.Bool("empty", hits == 0),
	))
}
