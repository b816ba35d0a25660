// Package otel provides the span helpers used around package operations.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by every package operation span.
const (
	AttrTenant         = attribute.Key("nuget.tenant")
	AttrPackageID      = attribute.Key("nuget.package.id")
	AttrPackageVersion = attribute.Key("nuget.package.version")
	AttrIngestOutcome  = attribute.Key("nuget.ingest.outcome")
	AttrSearchSkip     = attribute.Key("search.skip")
	AttrSearchTake     = attribute.Key("search.take")
	AttrPrerelease     = attribute.Key("search.prerelease")
	AttrResultCount    = attribute.Key("result.count")
)

// StartSpan starts a new span if the tracer is non-nil, otherwise returns the
// span already in ctx, which is a no-op span when tracing is off.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// PackageAttributes identifies a package version within a tenant. An empty
// version is left out.
func PackageAttributes(tenant, id, version string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{AttrTenant.String(tenant), AttrPackageID.String(id)}
	if version != "" {
		attrs = append(attrs, AttrPackageVersion.String(version))
	}
	return attrs
}

// RecordError records err on the span and marks the span failed. The status
// description stays generic; the error text is only in the exception event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
