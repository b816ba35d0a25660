package telemetry

import (
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the name used for the HTTP tracer
	TracerName = "github.com/stacklok/nuget-registry-server/http"

	attrTenant    = attribute.Key("nuget.tenant")
	attrRequestID = attribute.Key("http.request.id")
)

// TracingMiddleware starts a server span per request, continuing any trace
// propagated by the client. Requests for skipPaths (health checks) are not traced.
// A nil provider disables tracing.
func TracingMiddleware(provider trace.TracerProvider, skipPaths ...string) func(http.Handler) http.Handler {
	if provider == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	t := &httpTracer{
		tracer:     provider.Tracer(TracerName),
		propagator: otel.GetTextMapPropagator(),
		skip:       skipPaths,
	}
	return t.wrap
}

type httpTracer struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	skip       []string
}

func (t *httpTracer) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if slices.Contains(t.skip, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := t.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		attrs := []attribute.KeyValue{
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
			semconv.UserAgentOriginal(r.UserAgent()),
		}
		if id := r.Header.Get(middleware.RequestIDHeader); id != "" {
			attrs = append(attrs, attrRequestID.String(id))
		}
		if r.ContentLength > 0 {
			attrs = append(attrs, semconv.HTTPRequestBodySize(int(r.ContentLength)))
		}

		// The raw path is only a placeholder until the router has matched.
		ctx, span := t.tracer.Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		t.finish(span, r, ww)
	})
}

// finish names the span after the matched route and sets its status.
// Client errors such as 404 for an unknown package leave the span Ok.
func (*httpTracer) finish(span trace.Span, r *http.Request, ww middleware.WrapResponseWriter) {
	route := getRoutePattern(r)
	span.SetName(r.Method + " " + route)
	span.SetAttributes(
		semconv.HTTPRoute(route),
		semconv.HTTPResponseStatusCode(ww.Status()),
		semconv.HTTPResponseBodySize(ww.BytesWritten()),
	)
	if tenant := chi.URLParam(r, "tenant"); tenant != "" {
		span.SetAttributes(attrTenant.String(tenant))
	}

	if status := ww.Status(); status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
		return
	}
	span.SetStatus(codes.Ok, "")
}
