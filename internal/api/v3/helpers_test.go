package v3

import (
	"bytes"
	"mime/multipart"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stacklok/nuget-registry-server/internal/endpoints"
	"github.com/stacklok/nuget-registry-server/internal/nupkg"
	"github.com/stacklok/nuget-registry-server/internal/nuspec"
	"github.com/stacklok/nuget-registry-server/internal/storage"
)

const (
	testTenant        = "team"
	testRegistrations = "http://localhost:5000/team/api/v3/RegistrationsBaseUrl/"
	testPackages      = "http://localhost:5000/team/api/v3/PackageBaseAddress/"
)

func newCall(t *testing.T, svc *Service, store storage.PackageStore, segments ...string) *endpoints.Call {
	t.Helper()

	reg, err := endpoints.New(endpoints.BaseURL{Scheme: "http", Host: "localhost", Port: 5000}, svc.Registrations())
	require.NoError(t, err)

	return &endpoints.Call{
		Tenant:   testTenant,
		Segments: segments,
		Store:    store,
		URLs:     reg.Tenant(testTenant),
	}
}

func newStore(t *testing.T) *storage.Store {
	t.Helper()

	s, err := storage.NewStore(filepath.Join(t.TempDir(), "packages"))
	require.NoError(t, err)
	return s
}

func buildPackage(t *testing.T, name, version string, opts ...func(*nuspec.Manifest)) []byte {
	t.Helper()

	m := &nuspec.Manifest{
		Name:        name,
		Version:     version,
		Authors:     "tester",
		Description: "package " + name,
		Tags:        []string{},
	}
	for _, opt := range opts {
		opt(m)
	}

	files := map[string][]byte{"lib/net8.0/" + name + ".dll": []byte("binary")}
	if m.Icon != "" {
		files[m.Icon] = pngHeader
	}

	data, err := nupkg.Build(m, files)
	require.NoError(t, err)
	return data
}

// pngHeader is enough of a PNG for content sniffing.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

// multipartBody builds an upload with one part. An empty fileName produces a plain form field.
func multipartBody(t *testing.T, fileName string, data []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if fileName != "" {
		fw, err := mw.CreateFormFile("package", fileName)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	} else {
		require.NoError(t, mw.WriteField("package", string(data)))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}
