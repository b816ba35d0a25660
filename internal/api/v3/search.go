package v3

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/nuget-registry-server/internal/api/common"
	"github.com/stacklok/nuget-registry-server/internal/endpoints"
	"github.com/stacklok/nuget-registry-server/internal/nuspec"
	"github.com/stacklok/nuget-registry-server/internal/otel"
	"github.com/stacklok/nuget-registry-server/internal/storage"
)

// Search serves GET ?q=&skip=&take=&prerelease=
func (s *Service) Search(w http.ResponseWriter, r *http.Request, call *endpoints.Call) error {
	query, err := s.parseSearchQuery(r.URL.Query())
	if err != nil {
		return err
	}

	urls, err := s.urls(call)
	if err != nil {
		return err
	}

	ctx, span := otel.StartSpan(r.Context(), s.tracer, "nuget.Search", trace.WithAttributes(
		otel.AttrTenant.String(call.Tenant),
		otel.AttrSearchSkip.Int(query.Skip),
		otel.AttrSearchTake.Int(query.Take),
		otel.AttrPrerelease.Bool(query.IncludePrerelease),
	))
	defer span.End()

	start := time.Now()
	result, err := call.Store.Search(ctx, query)
	if err != nil {
		otel.RecordError(span, err)
		return fmt.Errorf("search failed: %w", err)
	}
	s.metrics.RecordSearch(ctx, call.Tenant, time.Since(start), result.TotalHits)
	span.SetAttributes(otel.AttrResultCount.Int(result.TotalHits))

	packages := make([][]*nuspec.Manifest, 0, len(result.IDs))
	for _, id := range result.IDs {
		packages = append(packages, result.Packages[id])
	}

	common.WriteJSONResponse(w, urls.NewSearchResponse(result.TotalHits, packages), http.StatusOK)
	return nil
}

func (s *Service) parseSearchQuery(values url.Values) (storage.SearchQuery, error) {
	query := storage.SearchQuery{Text: values.Get("q")}

	var err error
	if query.Skip, err = intParam(values, "skip", 0); err != nil {
		return query, err
	}
	if query.Take, err = intParam(values, "take", defaultMaxSearchTake); err != nil {
		return query, err
	}
	if query.Take > s.maxSearchTake {
		query.Take = s.maxSearchTake
	}

	if raw := values.Get("prerelease"); raw != "" {
		query.IncludePrerelease, err = strconv.ParseBool(raw)
		if err != nil {
			return query, fmt.Errorf("%w: prerelease must be a boolean", endpoints.ErrMalformedRequest)
		}
	}
	return query, nil
}

func intParam(values url.Values, name string, def int) (int, error) {
	raw := values.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", endpoints.ErrMalformedRequest, name)
	}
	return n, nil
}
