package v3

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/nuget-registry-server/internal/endpoints"
	"github.com/stacklok/nuget-registry-server/internal/nuspec"
	"github.com/stacklok/nuget-registry-server/internal/protocol"
	"github.com/stacklok/nuget-registry-server/internal/storage"
	"github.com/stacklok/nuget-registry-server/internal/storage/mocks"
)

func TestParseSearchQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		query   string
		maxTake int
		want    storage.SearchQuery
		wantErr bool
	}{
		{
			name:  "defaults",
			query: "",
			want:  storage.SearchQuery{Take: 1000},
		},
		{
			name:  "all parameters",
			query: "q=Demo&skip=5&take=10&prerelease=true",
			want:  storage.SearchQuery{Text: "Demo", Skip: 5, Take: 10, IncludePrerelease: true},
		},
		{
			name:    "take is capped",
			query:   "take=500",
			maxTake: 100,
			want:    storage.SearchQuery{Take: 100},
		},
		{
			name:    "default take is capped",
			maxTake: 20,
			want:    storage.SearchQuery{Take: 20},
		},
		{
			name:  "take zero",
			query: "take=0",
			want:  storage.SearchQuery{Take: 0},
		},
		{name: "invalid skip", query: "skip=abc", wantErr: true},
		{name: "negative skip", query: "skip=-1", wantErr: true},
		{name: "invalid take", query: "take=1.5", wantErr: true},
		{name: "invalid prerelease", query: "prerelease=maybe", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			values, err := url.ParseQuery(tt.query)
			require.NoError(t, err)

			got, err := NewService(WithMaxSearchTake(tt.maxTake)).parseSearchQuery(values)
			if tt.wantErr {
				require.ErrorIs(t, err, endpoints.ErrMalformedRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSearch(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	store := mocks.NewMockPackageStore(ctrl)
	store.EXPECT().
		Search(gomock.Any(), storage.SearchQuery{Text: "demo", Take: 1000}).
		Return(&storage.SearchResult{
			IDs: []string{"demo"},
			Packages: map[string][]*nuspec.Manifest{
				"demo": {
					{ID: "demo", Name: "Demo", Version: "1.0.0", Tags: []string{"a", "b"}},
					{ID: "demo", Name: "Demo", Version: "1.1.0", Tags: []string{"c"}, Authors: "Ann"},
				},
			},
			TotalHits: 1,
		}, nil)

	svc := NewService()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/team/api/v3/SearchQueryService/?q=demo", nil)
	require.NoError(t, svc.Search(rr, req, newCall(t, svc, store)))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp protocol.SearchResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	assert.Equal(t, 1, resp.TotalHits)
	assert.Equal(t, testRegistrations, resp.Context.Base)
	require.Len(t, resp.Data, 1)
	hit := resp.Data[0]
	assert.Equal(t, "Demo", hit.PackageID)
	assert.Equal(t, "1.1.0", hit.Version)
	assert.Equal(t, []string{"c"}, hit.Tags)
	assert.Equal(t, []string{"Ann"}, hit.Authors)
	assert.Equal(t, testRegistrations+"demo/index.json", hit.Registration)
	require.Len(t, hit.Versions, 2)
	assert.Equal(t, testRegistrations+"demo/1.0.0.json", hit.Versions[0].ID)
}

func TestSearch_Errors(t *testing.T) {
	t.Parallel()

	t.Run("malformed query never reaches the store", func(t *testing.T) {
		t.Parallel()

		ctrl := gomock.NewController(t)
		store := mocks.NewMockPackageStore(ctrl)

		svc := NewService()
		req := httptest.NewRequest(http.MethodGet, "/?take=lots", nil)
		err := svc.Search(httptest.NewRecorder(), req, newCall(t, svc, store))
		require.ErrorIs(t, err, endpoints.ErrMalformedRequest)
	})

	t.Run("store failure", func(t *testing.T) {
		t.Parallel()

		ctrl := gomock.NewController(t)
		store := mocks.NewMockPackageStore(ctrl)
		boom := errors.New("disk on fire")
		store.EXPECT().Search(gomock.Any(), gomock.Any()).Return(nil, boom)

		svc := NewService()
		err := svc.Search(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), newCall(t, svc, store))
		require.ErrorIs(t, err, boom)
	})
}
