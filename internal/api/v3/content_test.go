package v3

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/nuget-registry-server/internal/endpoints"
	"github.com/stacklok/nuget-registry-server/internal/storage"
	"github.com/stacklok/nuget-registry-server/internal/storage/mocks"
	"github.com/stacklok/nuget-registry-server/internal/telemetry"
)

func TestPackageContent(t *testing.T) {
	t.Parallel()

	notFound := fmt.Errorf("package demo 9.9.9: %w", storage.ErrNotFound)

	tests := []struct {
		name            string
		segments        []string
		setupMock       func(m *mocks.MockPackageStore)
		wantErr         error
		wantContentType string
		wantBody        string
	}{
		{
			name:     "versions index",
			segments: []string{"Demo", "index.json"},
			setupMock: func(m *mocks.MockPackageStore) {
				m.EXPECT().ListVersions("Demo").Return([]string{"1.0.0", "2.0.0-rc"}, nil)
			},
			wantContentType: "application/json",
			wantBody:        `{"versions":["1.0.0","2.0.0-rc"]}`,
		},
		{
			name:     "versions index of unknown package",
			segments: []string{"nope", "index.json"},
			setupMock: func(m *mocks.MockPackageStore) {
				m.EXPECT().ListVersions("nope").Return(nil, storage.ErrNotFound)
			},
			wantErr: storage.ErrNotFound,
		},
		{
			name:     "archive",
			segments: []string{"demo", "1.0.0", "demo.1.0.0.nupkg"},
			setupMock: func(m *mocks.MockPackageStore) {
				m.EXPECT().ReadArchive("demo", "1.0.0").Return([]byte("zip"), nil)
			},
			wantContentType: "application/octet-stream",
			wantBody:        "zip",
		},
		{
			name:     "manifest",
			segments: []string{"demo", "1.0.0", "demo.nuspec"},
			setupMock: func(m *mocks.MockPackageStore) {
				m.EXPECT().ReadManifestBytes("demo", "1.0.0").Return([]byte("<package/>"), nil)
			},
			wantContentType: "application/xml",
			wantBody:        "<package/>",
		},
		{
			name:     "icon",
			segments: []string{"demo", "1.0.0", "icon"},
			setupMock: func(m *mocks.MockPackageStore) {
				m.EXPECT().ReadIcon("demo", "1.0.0").Return(pngHeader, nil)
			},
			wantContentType: "image/png",
			wantBody:        string(pngHeader),
		},
		{
			name:     "missing archive",
			segments: []string{"demo", "9.9.9", "demo.9.9.9.nupkg"},
			setupMock: func(m *mocks.MockPackageStore) {
				m.EXPECT().ReadArchive("demo", "9.9.9").Return(nil, notFound)
			},
			wantErr: storage.ErrNotFound,
		},
		{
			name:     "missing icon",
			segments: []string{"demo", "1.0.0", "icon"},
			setupMock: func(m *mocks.MockPackageStore) {
				m.EXPECT().ReadIcon("demo", "1.0.0").Return(nil, notFound)
			},
			wantErr: storage.ErrNotFound,
		},
		{name: "no segments", segments: nil, wantErr: endpoints.ErrMalformedRequest},
		{name: "id only", segments: []string{"demo"}, wantErr: endpoints.ErrMalformedRequest},
		{name: "unknown file", segments: []string{"demo", "1.0.0", "readme.md"}, wantErr: endpoints.ErrMalformedRequest},
		{name: "too deep", segments: []string{"demo", "1.0.0", "lib", "x.nupkg"}, wantErr: endpoints.ErrMalformedRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			store := mocks.NewMockPackageStore(ctrl)
			if tt.setupMock != nil {
				tt.setupMock(store)
			}

			svc := NewService()
			rr := httptest.NewRecorder()
			err := svc.PackageContent(rr, httptest.NewRequest(http.MethodGet, "/", nil), newCall(t, svc, store, tt.segments...))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, tt.wantContentType, rr.Header().Get("Content-Type"))
			if tt.wantContentType == "application/json" {
				assert.JSONEq(t, tt.wantBody, rr.Body.String())
			} else {
				assert.Equal(t, tt.wantBody, rr.Body.String())
			}
		})
	}
}

func TestPackageContent_RecordsDownloads(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := telemetry.NewPackageMetrics(mp)
	require.NoError(t, err)

	ctrl := gomock.NewController(t)
	store := mocks.NewMockPackageStore(ctrl)
	store.EXPECT().ReadArchive("demo", "1.0.0").Return([]byte("zip"), nil).Times(2)
	store.EXPECT().ReadArchive("demo", "2.0.0").Return(nil, storage.ErrNotFound)

	svc := NewService(WithPackageMetrics(metrics))
	for _, version := range []string{"1.0.0", "1.0.0", "2.0.0"} {
		call := newCall(t, svc, store, "demo", version, "demo."+version+".nupkg")
		_ = svc.PackageContent(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), call)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "nuget_reg_srv_package_downloads_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				kind, _ := dp.Attributes.Value(attribute.Key("kind"))
				assert.Equal(t, "nupkg", kind.AsString())
				total += dp.Value
			}
		}
	}
	assert.Equal(t, int64(2), total)
}
