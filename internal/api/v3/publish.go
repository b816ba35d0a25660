package v3

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/nuget-registry-server/internal/auth"
	"github.com/stacklok/nuget-registry-server/internal/endpoints"
	"github.com/stacklok/nuget-registry-server/internal/nupkg"
	"github.com/stacklok/nuget-registry-server/internal/otel"
	"github.com/stacklok/nuget-registry-server/internal/storage"
)

// Publish serves PUT (multipart upload) and DELETE {id}/{version}.
func (s *Service) Publish(w http.ResponseWriter, r *http.Request, call *endpoints.Call) error {
	if r.Method == http.MethodDelete && len(call.Segments) == 2 {
		return s.delete(w, r, call)
	}
	if r.Method != http.MethodPut {
		return fmt.Errorf("%w: unsupported method %s", endpoints.ErrMalformedRequest, r.Method)
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		return fmt.Errorf("%w: expected multipart/form-data", endpoints.ErrMalformedRequest)
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	data, err := firstFilePart(r)
	if err != nil {
		return err
	}

	archive, err := nupkg.Open(data)
	if err != nil {
		return err
	}

	ctx, span := otel.StartSpan(r.Context(), s.tracer, "nuget.Ingest", trace.WithAttributes(
		otel.PackageAttributes(call.Tenant, archive.Manifest.ID, archive.Manifest.Version)...,
	))
	defer span.End()

	result, err := call.Store.Ingest(ctx, archive, data, archive.ManifestBytes)
	if err != nil {
		otel.RecordError(span, err)
		return fmt.Errorf("failed to ingest %s %s: %w", archive.Manifest.Name, archive.Manifest.Version, err)
	}
	s.metrics.RecordIngest(ctx, call.Tenant, result.String())
	span.SetAttributes(otel.AttrIngestOutcome.String(result.String()))

	slog.Info("Package published",
		"tenant", call.Tenant,
		"id", archive.Manifest.Name,
		"version", archive.Manifest.Version,
		"outcome", result.String(),
		"principal", auth.PrincipalFromContext(r.Context()))

	if result == storage.AlreadyExists {
		return fmt.Errorf("%s %s: %w", archive.Manifest.Name, archive.Manifest.Version, storage.ErrAlreadyExists)
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (s *Service) delete(w http.ResponseWriter, r *http.Request, call *endpoints.Call) error {
	id, version := call.Segments[0], call.Segments[1]
	ctx, span := otel.StartSpan(r.Context(), s.tracer, "nuget.Delete", trace.WithAttributes(
		otel.PackageAttributes(call.Tenant, id, version)...,
	))
	defer span.End()

	deleted, err := call.Store.Delete(ctx, id, version)
	if err != nil {
		otel.RecordError(span, err)
		return fmt.Errorf("failed to delete %s %s: %w", id, version, err)
	}
	s.metrics.RecordDelete(ctx, call.Tenant, deleted)
	if !deleted {
		return fmt.Errorf("package %s %s: %w", id, version, storage.ErrNotFound)
	}

	slog.Info("Package deleted",
		"tenant", call.Tenant,
		"id", id,
		"version", version,
		"principal", auth.PrincipalFromContext(r.Context()))
	w.WriteHeader(http.StatusOK)
	return nil
}

// firstFilePart returns the contents of the first multipart part carrying a file name.
func firstFilePart(r *http.Request) ([]byte, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", endpoints.ErrMalformedRequest, err)
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: no file part in upload", endpoints.ErrMalformedRequest)
		}
		if err != nil {
			return nil, wrapBodyError(err)
		}

		if part.FileName() == "" {
			_ = part.Close()
			continue
		}

		data, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			return nil, wrapBodyError(err)
		}
		return data, nil
	}
}

// wrapBodyError keeps size-limit errors intact and marks anything else as a malformed upload.
func wrapBodyError(err error) error {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return err
	}
	return fmt.Errorf("%w: %v", endpoints.ErrMalformedRequest, err)
}
