package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/nuget-registry-server/internal/endpoints"
	"github.com/stacklok/nuget-registry-server/internal/nupkg"
	"github.com/stacklok/nuget-registry-server/internal/nuspec"
	"github.com/stacklok/nuget-registry-server/internal/protocol"
	"github.com/stacklok/nuget-registry-server/internal/storage"
	"github.com/stacklok/nuget-registry-server/internal/storage/mocks"
)

type resolverFunc func(tenant string) (storage.PackageStore, error)

func (f resolverFunc) ForTenant(tenant string) (storage.PackageStore, error) {
	return f(tenant)
}

// newTestDispatcher registers a single "Echo" capability running handler.
func newTestDispatcher(t *testing.T, store storage.PackageStore, handler endpoints.Handler) *Dispatcher {
	t.Helper()

	reg, err := endpoints.New(endpoints.BaseURL{Host: "localhost", Port: 5000}, []endpoints.Registration{
		{Name: "Echo", ResourceTypes: []string{"Echo/1.0.0", "Echo"}, Comment: "echo", Handler: handler},
	})
	require.NoError(t, err)

	tenants, err := NewTenantValidator([]string{"team", "broken"}, "proj-[0-9]+")
	require.NoError(t, err)

	return NewDispatcher(reg, resolverFunc(func(tenant string) (storage.PackageStore, error) {
		if tenant == "broken" {
			return nil, errors.New("store unavailable")
		}
		return store, nil
	}), tenants)
}

func TestNewTenantValidator(t *testing.T) {
	t.Parallel()

	v, err := NewTenantValidator([]string{"team", "ops"}, "")
	require.NoError(t, err)
	assert.True(t, v.Allow("team"))
	assert.True(t, v.Allow("ops"))
	assert.False(t, v.Allow("Team"))
	assert.False(t, v.Allow("teams"))

	v, err = NewTenantValidator(nil, "proj-[0-9]+")
	require.NoError(t, err)
	assert.True(t, v.Allow("proj-12"))
	assert.False(t, v.Allow("xproj-12"), "pattern must match the whole tenant")
	assert.False(t, v.Allow("proj-12x"))

	_, err = NewTenantValidator(nil, "")
	require.Error(t, err)
	_, err = NewTenantValidator(nil, "([")
	require.Error(t, err)
}

func TestNewTenantValidator_Reserved(t *testing.T) {
	t.Parallel()

	v, err := NewTenantValidator([]string{"team"}, "[a-z]+", "health", "metrics")
	require.NoError(t, err)
	assert.True(t, v.Allow("team"))
	assert.True(t, v.Allow("ops"))
	assert.False(t, v.Allow("health"), "reserved names never match the pattern")
	assert.False(t, v.Allow("metrics"))

	_, err = NewTenantValidator([]string{"team", "health"}, "", "health")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")
}

func TestDispatcher_Routing(t *testing.T) {
	t.Parallel()

	var gotCall *endpoints.Call
	echo := func(w http.ResponseWriter, _ *http.Request, call *endpoints.Call) error {
		gotCall = call
		w.WriteHeader(http.StatusAccepted)
		return nil
	}

	ctrl := gomock.NewController(t)
	store := mocks.NewMockPackageStore(ctrl)
	d := newTestDispatcher(t, store, echo)

	tests := []struct {
		name         string
		path         string
		wantStatus   int
		wantSegments []string
	}{
		{name: "capability with segments", path: "/team/api/v3/Echo/Demo/1.0.0", wantStatus: http.StatusAccepted, wantSegments: []string{"Demo", "1.0.0"}},
		{name: "capability without segments", path: "/team/api/v3/Echo/", wantStatus: http.StatusAccepted, wantSegments: []string{}},
		{name: "pattern tenant", path: "/proj-7/api/v3/Echo/x", wantStatus: http.StatusAccepted, wantSegments: []string{"x"}},
		{name: "encoded segment", path: "/team/api/v3/Echo/My%2EPkg", wantStatus: http.StatusAccepted, wantSegments: []string{"My.Pkg"}},
		{name: "too short", path: "/team/api/v3", wantStatus: http.StatusNotFound},
		{name: "unknown tenant", path: "/other/api/v3/Echo/", wantStatus: http.StatusNotFound},
		{name: "wrong api segment", path: "/team/apis/v3/Echo/", wantStatus: http.StatusNotFound},
		{name: "wrong version segment", path: "/team/api/v2/Echo/", wantStatus: http.StatusNotFound},
		{name: "unknown capability", path: "/team/api/v3/Nope/", wantStatus: http.StatusNotFound},
		{name: "capability names are case sensitive", path: "/team/api/v3/echo/", wantStatus: http.StatusNotFound},
		{name: "encoded whitespace", path: "/team/api/v3/Echo/a%20b", wantStatus: http.StatusBadRequest},
		{name: "store failure", path: "/broken/api/v3/Echo/", wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotCall = nil
			rr := httptest.NewRecorder()
			d.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantSegments == nil {
				return
			}
			require.NotNil(t, gotCall)
			assert.Equal(t, tt.wantSegments, gotCall.Segments)
			assert.Same(t, store, gotCall.Store)
			assert.NotNil(t, gotCall.URLs)
		})
	}
}

func TestDispatcher_ServiceIndex(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, nil, func(http.ResponseWriter, *http.Request, *endpoints.Call) error { return nil })

	rr := httptest.NewRecorder()
	d.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/team/api/v3/index.json", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var idx protocol.ServiceIndex
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &idx))
	assert.Equal(t, "3.0.0", idx.Version)
	assert.Equal(t, []endpoints.Resource{
		{ID: "http://localhost:5000/team/api/v3/Echo/", Type: "Echo/1.0.0", Comment: "echo"},
		{ID: "http://localhost:5000/team/api/v3/Echo/", Type: "Echo", Comment: "echo"},
	}, idx.Resources)

	// index.json with trailing segments is not the service index
	rr = httptest.NewRecorder()
	d.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/team/api/v3/index.json/extra", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDispatcher_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   bool
	}{
		{name: "store not found", err: fmt.Errorf("x: %w", storage.ErrNotFound), wantStatus: http.StatusNotFound},
		{name: "endpoint not found", err: endpoints.ErrNotFound, wantStatus: http.StatusNotFound},
		{name: "already exists", err: storage.ErrAlreadyExists, wantStatus: http.StatusConflict, wantBody: true},
		{name: "malformed request", err: endpoints.ErrMalformedRequest, wantStatus: http.StatusBadRequest, wantBody: true},
		{name: "malformed manifest", err: nuspec.ErrMalformedManifest, wantStatus: http.StatusBadRequest, wantBody: true},
		{name: "malformed archive", err: nupkg.ErrMalformedArchive, wantStatus: http.StatusBadRequest, wantBody: true},
		{name: "invalid identifier", err: storage.ErrInvalidIdentifier, wantStatus: http.StatusBadRequest, wantBody: true},
		{name: "too large", err: &http.MaxBytesError{Limit: 10}, wantStatus: http.StatusRequestEntityTooLarge, wantBody: true},
		{
			name:       "corrupt stored manifest",
			err:        fmt.Errorf("%w: manifest of foo 1.0.0: %v", storage.ErrCorruptPackage, nuspec.ErrMalformedManifest),
			wantStatus: http.StatusInternalServerError,
			wantBody:   true,
		},
		{name: "anything else", err: errors.New("secret internal detail"), wantStatus: http.StatusInternalServerError, wantBody: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := newTestDispatcher(t, nil, func(http.ResponseWriter, *http.Request, *endpoints.Call) error {
				return tt.err
			})
			rr := httptest.NewRecorder()
			d.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/team/api/v3/Echo/", nil))

			assert.Equal(t, tt.wantStatus, rr.Code)
			if !tt.wantBody {
				assert.Empty(t, rr.Body.String())
				return
			}
			assert.NotContains(t, rr.Body.String(), "secret internal detail")
		})
	}
}

func TestDispatcher_RecoversPanics(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, nil, func(http.ResponseWriter, *http.Request, *endpoints.Call) error {
		panic("boom")
	})
	rr := httptest.NewRecorder()
	d.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/team/api/v3/Echo/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestDispatcher_AnnotatesRoute(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, nil, func(w http.ResponseWriter, _ *http.Request, _ *endpoints.Call) error {
		w.WriteHeader(http.StatusOK)
		return nil
	})

	var pattern, tenant string
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req)
			rctx := chi.RouteContext(req.Context())
			pattern = rctx.RoutePattern()
			tenant = rctx.URLParam("tenant")
		})
	})
	r.Handle(RoutePrefix+"/*", d)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/team/api/v3/Echo/a/b", nil))
	assert.Equal(t, "/{tenant}/api/v3/Echo/*", pattern)
	assert.Equal(t, "team", tenant)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/team/api/v3/index.json", nil))
	assert.Equal(t, "/{tenant}/api/v3/index.json", pattern)

	// Rejected tenants keep the generic pattern and lose the tenant value.
	for i := range 3 {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/stranger%d/api/v3/index.json", i), nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, RoutePrefix+"/*", pattern)
		assert.Empty(t, tenant)
	}
}
