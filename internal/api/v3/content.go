package v3

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/stacklok/nuget-registry-server/internal/api/common"
	"github.com/stacklok/nuget-registry-server/internal/endpoints"
	"github.com/stacklok/nuget-registry-server/internal/protocol"
)

// Download kinds, used as a metric attribute.
const (
	kindArchive  = "nupkg"
	kindManifest = "nuspec"
	kindIcon     = "icon"
)

// PackageContent serves {id}/index.json and {id}/{version}/{file} downloads.
func (s *Service) PackageContent(w http.ResponseWriter, r *http.Request, call *endpoints.Call) error {
	seg := call.Segments
	switch {
	case len(seg) == 2 && seg[1] == "index.json":
		versions, err := call.Store.ListVersions(seg[0])
		if err != nil {
			return err
		}
		common.WriteJSONResponse(w, protocol.NewVersionsIndex(versions), http.StatusOK)
		return nil

	case len(seg) == 3 && strings.HasSuffix(seg[2], ".nupkg"):
		data, err := call.Store.ReadArchive(seg[0], seg[1])
		if err != nil {
			return err
		}
		s.metrics.RecordDownload(r.Context(), call.Tenant, kindArchive)
		common.WriteContent(w, "application/octet-stream", data)
		return nil

	case len(seg) == 3 && strings.HasSuffix(seg[2], ".nuspec"):
		data, err := call.Store.ReadManifestBytes(seg[0], seg[1])
		if err != nil {
			return err
		}
		s.metrics.RecordDownload(r.Context(), call.Tenant, kindManifest)
		common.WriteContent(w, "application/xml", data)
		return nil

	case len(seg) == 3 && seg[2] == "icon":
		data, err := call.Store.ReadIcon(seg[0], seg[1])
		if err != nil {
			return err
		}
		s.metrics.RecordDownload(r.Context(), call.Tenant, kindIcon)
		common.WriteContent(w, http.DetectContentType(data), data)
		return nil

	default:
		return fmt.Errorf("%w: unsupported package content path", endpoints.ErrMalformedRequest)
	}
}
