package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/nuget-registry-server/internal/api/common"
	"github.com/stacklok/nuget-registry-server/internal/endpoints"
	"github.com/stacklok/nuget-registry-server/internal/nupkg"
	"github.com/stacklok/nuget-registry-server/internal/nuspec"
	"github.com/stacklok/nuget-registry-server/internal/protocol"
	"github.com/stacklok/nuget-registry-server/internal/storage"
)

const (
	apiSegment       = "api"
	versionSegment   = "v3"
	serviceIndexName = "index.json"

	// RoutePrefix is the chi pattern the dispatcher is mounted under
	RoutePrefix = "/{tenant}/api/v3"
)

// TenantValidator decides whether a first path segment names a tenant.
type TenantValidator interface {
	Allow(tenant string) bool
}

// TenantValidatorFunc adapts a function to TenantValidator.
type TenantValidatorFunc func(tenant string) bool

// Allow calls f(tenant).
func (f TenantValidatorFunc) Allow(tenant string) bool {
	return f(tenant)
}

// NewTenantValidator accepts tenants that appear in prefixes or fully match
// pattern. Names in reserved, such as the first segment of an unauthenticated
// route, are never tenants; listing one as a prefix is an error.
func NewTenantValidator(prefixes []string, pattern string, reserved ...string) (TenantValidator, error) {
	if len(prefixes) == 0 && pattern == "" {
		return nil, fmt.Errorf("at least one tenant prefix or a pattern is required")
	}
	for _, p := range prefixes {
		if slices.Contains(reserved, p) {
			return nil, fmt.Errorf("tenant prefix %q is reserved", p)
		}
	}

	var re *regexp.Regexp
	if pattern != "" {
		compiled, err := regexp.Compile("^(?:" + pattern + ")$")
		if err != nil {
			return nil, fmt.Errorf("invalid tenant pattern: %w", err)
		}
		re = compiled
	}

	allowed := slices.Clone(prefixes)
	blocked := slices.Clone(reserved)
	return TenantValidatorFunc(func(tenant string) bool {
		if slices.Contains(blocked, tenant) {
			return false
		}
		if slices.Contains(allowed, tenant) {
			return true
		}
		return re != nil && re.MatchString(tenant)
	}), nil
}

// Dispatcher routes /{tenant}/api/v3/{resource}/... requests to the capability
// handlers of an endpoint registry.
type Dispatcher struct {
	registry *endpoints.Registry
	stores   storage.Resolver
	tenants  TenantValidator
}

// NewDispatcher creates a dispatcher over registry, resolving stores per tenant.
func NewDispatcher(registry *endpoints.Registry, stores storage.Resolver, tenants TenantValidator) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		stores:   stores,
		tenants:  tenants,
	}
}

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			//nolint:errorlint // http.ErrAbortHandler is compared by identity
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			slog.Error("Panic in protocol handler",
				"panic", rec,
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", middleware.GetReqID(r.Context()))
			w.WriteHeader(http.StatusInternalServerError)
		}
	}()

	segments, err := common.SplitPath(r.URL.EscapedPath())
	if err != nil {
		d.writeError(w, r, fmt.Errorf("%w: %v", endpoints.ErrMalformedRequest, err))
		return
	}
	if len(segments) < 4 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	tenant := segments[0]
	if !d.tenants.Allow(tenant) || segments[1] != apiSegment || segments[2] != versionSegment {
		forgetTenant(r)
		w.WriteHeader(http.StatusNotFound)
		return
	}

	urls := d.registry.Tenant(tenant)
	name := segments[3]

	if name == serviceIndexName && len(segments) == 4 {
		annotateRoute(r, RoutePrefix+"/"+serviceIndexName)
		common.WriteJSONResponse(w, protocol.NewServiceIndex(urls.Index), http.StatusOK)
		return
	}

	handler, err := d.registry.Resolve(name)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	annotateRoute(r, RoutePrefix+"/"+name+"/*")

	store, err := d.stores.ForTenant(tenant)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidIdentifier) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		d.writeError(w, r, fmt.Errorf("failed to open store for tenant %s: %w", tenant, err))
		return
	}

	call := &endpoints.Call{
		Tenant:   tenant,
		Segments: segments[4:],
		Store:    store,
		URLs:     urls,
	}
	if err := handler(w, r, call); err != nil {
		d.writeError(w, r, err)
	}
}

// forgetTenant blanks the tenant URL parameter of a rejected request so
// arbitrary path prefixes never reach metric labels or span attributes.
func forgetTenant(r *http.Request) {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return
	}
	for i, key := range rctx.URLParams.Keys {
		if key == "tenant" && i < len(rctx.URLParams.Values) {
			rctx.URLParams.Values[i] = ""
		}
	}
}

// annotateRoute replaces the matched chi pattern with one naming the
// capability, so metrics and spans are labelled per resource.
func annotateRoute(r *http.Request, pattern string) {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		rctx.RoutePatterns = []string{pattern}
	}
}

// statusForError maps a handler error to the response status.
func statusForError(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, storage.ErrCorruptPackage):
		return http.StatusInternalServerError
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, endpoints.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrAlreadyExists):
		return http.StatusConflict
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, endpoints.ErrMalformedRequest),
		errors.Is(err, nuspec.ErrMalformedManifest),
		errors.Is(err, nupkg.ErrMalformedArchive),
		errors.Is(err, storage.ErrInvalidIdentifier):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (*Dispatcher) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	switch status {
	case http.StatusNotFound:
		w.WriteHeader(status)
	case http.StatusInternalServerError:
		level := slog.LevelError
		if errors.Is(err, context.Canceled) {
			level = slog.LevelDebug
		}
		slog.Log(r.Context(), level, "Protocol request failed",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()))
		common.WriteErrorResponse(w, http.StatusText(status), status)
	default:
		common.WriteErrorResponse(w, err.Error(), status)
	}
}
