// Package nupkg unpacks and builds NuGet package archives (.nupkg), which are
// zip containers holding a nuspec manifest plus arbitrary payload files.
package nupkg

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/stacklok/nuget-registry-server/internal/nuspec"
)

// ErrMalformedArchive is returned when the uploaded bytes are not a readable
// package archive.
var ErrMalformedArchive = errors.New("malformed package archive")

const (
	contentTypesEntry = "[Content_Types].xml"
	manifestExt       = ".nuspec"

	// Decompressed size caps for the entries Open reads into memory.
	maxManifestBytes = 4 << 20
	maxIconBytes     = 1 << 20
)

// reservedDirs hold OPC packaging metadata that is never retained.
var reservedDirs = map[string]struct{}{
	"_rels":   {},
	"package": {},
}

// Archive is an unpacked package archive.
type Archive struct {
	// Manifest is the parsed nuspec.
	Manifest *nuspec.Manifest
	// ManifestBytes are the nuspec bytes exactly as found in the archive.
	ManifestBytes []byte
	// Icon holds the embedded icon when the manifest references one that exists.
	Icon []byte
	// Files lists the payload entries, reserved and manifest entries excluded.
	Files []string
}

// Open unpacks archive bytes.
func Open(data []byte) (*Archive, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArchive, err)
	}

	archive := &Archive{Files: []string{}}
	var manifestFile *zip.File

	for _, f := range reader.File {
		name := normalizeEntryName(f.Name)
		if strings.HasSuffix(name, "/") {
			continue
		}
		if isManifestEntry(name) {
			if manifestFile == nil {
				manifestFile = f
			}
			continue
		}
		if isReservedEntry(name) {
			continue
		}
		archive.Files = append(archive.Files, name)
	}

	if manifestFile == nil {
		return nil, fmt.Errorf("%w: no manifest found", ErrMalformedArchive)
	}

	archive.ManifestBytes, err = readEntry(manifestFile, maxManifestBytes)
	if err != nil {
		return nil, err
	}

	archive.Manifest, err = nuspec.Parse(archive.ManifestBytes)
	if err != nil {
		return nil, err
	}

	if ref := archive.Manifest.Icon; ref != "" {
		if iconFile := findEntry(reader.File, ref); iconFile != nil {
			archive.Icon, err = readEntry(iconFile, maxIconBytes)
			if err != nil {
				return nil, err
			}
		}
	}

	return archive, nil
}

func normalizeEntryName(name string) string {
	return strings.ReplaceAll(name, `\`, "/")
}

// isManifestEntry matches nuspec files at the archive root only.
func isManifestEntry(name string) bool {
	return !strings.Contains(name, "/") && strings.HasSuffix(strings.ToLower(name), manifestExt)
}

func isReservedEntry(name string) bool {
	if name == contentTypesEntry {
		return true
	}
	first, _, _ := strings.Cut(name, "/")
	_, ok := reservedDirs[first]
	return ok && strings.Contains(name, "/")
}

// findEntry returns the entry whose full path or file name equals ref.
func findEntry(files []*zip.File, ref string) *zip.File {
	ref = normalizeEntryName(ref)
	for _, f := range files {
		if normalizeEntryName(f.Name) == ref {
			return f
		}
	}
	for _, f := range files {
		if path.Base(normalizeEntryName(f.Name)) == ref {
			return f
		}
	}
	return nil
}

// readEntry decompresses at most limit bytes. The declared size is checked
// first, and the stream is bounded as well since headers can lie.
func readEntry(f *zip.File, limit int64) ([]byte, error) {
	if f.UncompressedSize64 > uint64(limit) {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrMalformedArchive, f.Name, limit)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %v", ErrMalformedArchive, f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrMalformedArchive, f.Name, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrMalformedArchive, f.Name, limit)
	}
	return data, nil
}

// Build writes a package archive for the manifest and payload files. The
// manifest is stored as <Name>.nuspec at the archive root.
func Build(m *nuspec.Manifest, files map[string][]byte) ([]byte, error) {
	manifest, err := nuspec.Encode(m)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	name := m.Name
	if name == "" {
		name = m.ID
	}
	if err := writeEntry(w, name+manifestExt, manifest); err != nil {
		return nil, err
	}

	entries := make([]string, 0, len(files))
	for entry := range files {
		entries = append(entries, entry)
	}
	sort.Strings(entries)
	for _, entry := range entries {
		if err := writeEntry(w, entry, files[entry]); err != nil {
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}

func writeEntry(w *zip.Writer, name string, data []byte) error {
	fw, err := w.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create archive entry %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("failed to write archive entry %s: %w", name, err)
	}
	return nil
}
