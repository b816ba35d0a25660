package v3

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/stacklok/nuget-registry-server/internal/api/common"
	"github.com/stacklok/nuget-registry-server/internal/endpoints"
	"github.com/stacklok/nuget-registry-server/internal/protocol"
	"github.com/stacklok/nuget-registry-server/internal/storage"
)

// Registration serves {id}/index.json and {id}/{version}.json.
func (s *Service) Registration(w http.ResponseWriter, _ *http.Request, call *endpoints.Call) error {
	if len(call.Segments) != 2 || !strings.HasSuffix(call.Segments[1], ".json") {
		return endpoints.ErrNotFound
	}
	id := call.Segments[0]
	leaf := strings.TrimSuffix(call.Segments[1], ".json")

	urls, err := s.urls(call)
	if err != nil {
		return err
	}
	exists := protocol.ExistsFunc(call.Store.PackageIdentifierExists)

	if leaf != "index" {
		v, err := loadVersion(call.Store, id, leaf)
		if err != nil {
			return err
		}
		common.WriteJSONResponse(w, urls.NewRegistrationLeaf(v, exists), http.StatusOK)
		return nil
	}

	versions, err := call.Store.ListVersions(id)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		return fmt.Errorf("package %s has no versions: %w", id, storage.ErrNotFound)
	}

	loaded := make([]protocol.PackageVersion, 0, len(versions))
	for _, version := range versions {
		v, err := loadVersion(call.Store, id, version)
		if err != nil {
			return err
		}
		loaded = append(loaded, v)
	}

	common.WriteJSONResponse(w, urls.NewRegistrationIndex(loaded[0].Manifest.Name, loaded, exists), http.StatusOK)
	return nil
}

func loadVersion(store storage.PackageStore, id, version string) (protocol.PackageVersion, error) {
	m, err := store.ReadManifest(id, version)
	if err != nil {
		return protocol.PackageVersion{}, err
	}
	published, err := store.PublishedAt(id, version)
	if err != nil {
		return protocol.PackageVersion{}, err
	}
	return protocol.PackageVersion{
		Version:   strings.ToLower(version),
		Manifest:  m,
		Published: published,
	}, nil
}
