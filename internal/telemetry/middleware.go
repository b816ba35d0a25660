package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// HTTPMetricsMeterName is the name used for the HTTP metrics meter
	HTTPMetricsMeterName = "github.com/stacklok/nuget-registry-server/http"

	unknownRoute = "unknown_route"
)

// Label keys of the HTTP instruments. Tenant is empty outside protocol routes.
const (
	labelMethod    = attribute.Key("method")
	labelRoute     = attribute.Key("route")
	labelStatus    = attribute.Key("status_code")
	labelTenant    = attribute.Key("tenant")
	labelDirection = attribute.Key("direction")
)

// HTTPMetrics records request counts, latency and transferred bytes per
// route pattern and tenant.
type HTTPMetrics struct {
	requestDuration metric.Float64Histogram
	requestsTotal   metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
	transferBytes   metric.Int64Histogram
}

// NewHTTPMetrics creates the HTTP instruments. A nil provider yields nil,
// whose Middleware is a pass-through.
func NewHTTPMetrics(provider metric.MeterProvider) (*HTTPMetrics, error) {
	if provider == nil {
		return nil, nil
	}
	meter := provider.Meter(HTTPMetricsMeterName)

	m := &HTTPMetrics{}
	var err error
	if m.requestDuration, err = meter.Float64Histogram(
		"nuget_reg_srv_http_request_duration_seconds",
		metric.WithDescription("Duration of HTTP requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	); err != nil {
		return nil, err
	}
	if m.requestsTotal, err = meter.Int64Counter(
		"nuget_reg_srv_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.activeRequests, err = meter.Int64UpDownCounter(
		"nuget_reg_srv_http_active_requests",
		metric.WithDescription("Number of currently in-flight HTTP requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	// Buckets span small manifests up to the default upload limit.
	if m.transferBytes, err = meter.Int64Histogram(
		"nuget_reg_srv_http_transfer_bytes",
		metric.WithDescription("Bytes received in request bodies and sent in responses"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(1<<10, 16<<10, 256<<10, 1<<20, 8<<20, 32<<20, 128<<20, 256<<20),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// Middleware records the instruments for every request passing through next.
func (m *HTTPMetrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// r.Context() may be cancelled once ServeHTTP returns; the SDK ignores that.
		ctx := r.Context()
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		m.activeRequests.Add(ctx, 1)
		next.ServeHTTP(ww, r)
		m.activeRequests.Add(ctx, -1)

		labels := metric.WithAttributes(requestLabels(r, ww.Status())...)
		m.requestDuration.Record(ctx, time.Since(start).Seconds(), labels)
		m.requestsTotal.Add(ctx, 1, labels)

		route := labelRoute.String(getRoutePattern(r))
		if r.ContentLength > 0 {
			m.transferBytes.Record(ctx, r.ContentLength,
				metric.WithAttributes(route, labelDirection.String("in")))
		}
		if n := ww.BytesWritten(); n > 0 {
			m.transferBytes.Record(ctx, int64(n),
				metric.WithAttributes(route, labelDirection.String("out")))
		}
	})
}

// requestLabels reads the route after routing, so protocol requests report
// e.g. "/{tenant}/api/v3/SearchQueryService/*" rather than the raw path.
func requestLabels(r *http.Request, status int) []attribute.KeyValue {
	return []attribute.KeyValue{
		labelMethod.String(r.Method),
		labelRoute.String(getRoutePattern(r)),
		labelStatus.String(strconv.Itoa(status)),
		labelTenant.String(chi.URLParam(r, "tenant")),
	}
}

// getRoutePattern extracts the route pattern from a chi request context,
// or "unknown_route" to keep label cardinality bounded.
func getRoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unknownRoute
}

// MetricsMiddleware combines NewHTTPMetrics and Middleware.
func MetricsMiddleware(provider metric.MeterProvider) (func(http.Handler) http.Handler, error) {
	metrics, err := NewHTTPMetrics(provider)
	if err != nil {
		return nil, err
	}
	return metrics.Middleware, nil
}
