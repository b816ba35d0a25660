package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestMeterProvider(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return reader, mp
}

func newTestTracerProvider(t *testing.T) (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter, tp
}

func collect(t *testing.T, reader *sdkmetric.ManualReader, scope string) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		if sm.Scope.Name != scope {
			continue
		}
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestHTTPMetrics_NilIsPassThrough(t *testing.T) {
	t.Parallel()

	metrics, err := NewHTTPMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, metrics)

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rr.Code)
}

func TestHTTPMetrics_RecordsRoutePattern(t *testing.T) {
	t.Parallel()

	reader, mp := newTestMeterProvider(t)
	mw, err := MetricsMiddleware(mp)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(mw)
	r.Get("/{tenant}/api/v3/index.json", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, path := range []string{"/a/api/v3/index.json", "/b/api/v3/index.json", "/missing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	metrics := collect(t, reader, HTTPMetricsMeterName)
	total, ok := metrics["nuget_reg_srv_http_requests_total"]
	require.True(t, ok)

	sum, ok := total.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	byRoute := map[string]int64{}
	for _, dp := range sum.DataPoints {
		route, _ := dp.Attributes.Value(attribute.Key("route"))
		byRoute[route.AsString()] += dp.Value
	}
	assert.Equal(t, int64(2), byRoute["/{tenant}/api/v3/index.json"])
	assert.Equal(t, int64(1), byRoute["unknown_route"])

	_, ok = metrics["nuget_reg_srv_http_request_duration_seconds"]
	assert.True(t, ok)
	_, ok = metrics["nuget_reg_srv_http_active_requests"]
	assert.True(t, ok)
}

func TestHTTPMetrics_TransferBytes(t *testing.T) {
	t.Parallel()

	reader, mp := newTestMeterProvider(t)
	mw, err := MetricsMiddleware(mp)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(mw)
	r.Put("/{tenant}/api/v3/PackagePublish/*", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	req := httptest.NewRequest(http.MethodPut, "/team/api/v3/PackagePublish/", strings.NewReader("0123456789"))
	r.ServeHTTP(httptest.NewRecorder(), req)

	metrics := collect(t, reader, HTTPMetricsMeterName)
	transfer, ok := metrics["nuget_reg_srv_http_transfer_bytes"]
	require.True(t, ok)
	hist, ok := transfer.Data.(metricdata.Histogram[int64])
	require.True(t, ok)

	byDirection := map[string]int64{}
	for _, dp := range hist.DataPoints {
		dir, _ := dp.Attributes.Value(attribute.Key("direction"))
		byDirection[dir.AsString()] += dp.Sum
	}
	assert.Equal(t, map[string]int64{"in": 10, "out": 2}, byDirection)

	total := metrics["nuget_reg_srv_http_requests_total"].Data.(metricdata.Sum[int64])
	require.Len(t, total.DataPoints, 1)
	tenant, _ := total.DataPoints[0].Attributes.Value(attribute.Key("tenant"))
	assert.Equal(t, "team", tenant.AsString())
}

func TestTracingMiddleware_NilProvider(t *testing.T) {
	t.Parallel()

	called := false
	handler := TracingMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusCreated)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusCreated, rr.Code)
}

func TestTracingMiddleware_Spans(t *testing.T) {
	t.Parallel()

	exporter, tp := newTestTracerProvider(t)

	r := chi.NewRouter()
	r.Use(TracingMiddleware(tp))
	r.Get("/{tenant}/api/v3/index.json", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/{tenant}/fail", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/team/api/v3/index.json", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/team/fail", nil))

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	ok := spans[0]
	assert.Equal(t, "GET /{tenant}/api/v3/index.json", ok.Name)
	assert.Equal(t, codes.Ok, ok.Status.Code)

	var tenant string
	for _, kv := range ok.Attributes {
		if kv.Key == "nuget.tenant" {
			tenant = kv.Value.AsString()
		}
	}
	assert.Equal(t, "team", tenant)

	failed := spans[1]
	assert.Equal(t, "GET /{tenant}/fail", failed.Name)
	assert.Equal(t, codes.Error, failed.Status.Code)
}

func TestTracingMiddleware_SkipsHealthChecksAndKeepsRequestID(t *testing.T) {
	t.Parallel()

	exporter, tp := newTestTracerProvider(t)

	r := chi.NewRouter()
	r.Use(TracingMiddleware(tp, "/health"))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/{tenant}/missing", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	req := httptest.NewRequest(http.MethodGet, "/team/missing", nil)
	req.Header.Set("X-Request-Id", "req-42")
	r.ServeHTTP(httptest.NewRecorder(), req)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /{tenant}/missing", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
	assert.Contains(t, spans[0].Attributes, attribute.String("http.request.id", "req-42"))
}
