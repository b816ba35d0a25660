// Package storage provides the filesystem-backed package store.
//
// Packages are laid out as <root>/<id>/<version>/ with the archive, the
// manifest, an optional icon and a commit token inside each version
// directory. Identifiers and versions are lowercased at the boundary.
// Entries whose names start with a dot are internal to the store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/stacklok/nuget-registry-server/internal/nupkg"
	"github.com/stacklok/nuget-registry-server/internal/nuspec"
	"github.com/stacklok/nuget-registry-server/internal/versions"
)

var (
	// ErrNotFound is returned when a package identifier or version does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidIdentifier is returned when an id or version cannot name a directory
	ErrInvalidIdentifier = errors.New("invalid package identifier")
	// ErrAlreadyExists is reported by callers when an ingest found the version present
	ErrAlreadyExists = errors.New("package version already exists")
	// ErrCorruptPackage is returned when committed package files cannot be read back
	ErrCorruptPackage = errors.New("stored package is corrupt")
)

const (
	stagingDirName = ".staging"
	locksDirName   = ".locks"

	commitFileName = "commit"
	iconFileName   = "icon"
	archiveExt     = ".nupkg"
	manifestExt    = ".nuspec"

	dirPerm  = 0750
	filePerm = 0600

	lockRetryDelay = 25 * time.Millisecond
)

// IngestResult is the outcome of a successful Ingest call.
type IngestResult int

const (
	// Created means the version was written to the store.
	Created IngestResult = iota
	// AlreadyExists means the version was already present and nothing was written.
	AlreadyExists
)

// String returns the outcome name, used as a metric attribute.
func (r IngestResult) String() string {
	switch r {
	case Created:
		return "created"
	case AlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// SearchQuery selects packages for Search.
type SearchQuery struct {
	// Text is matched as a case-insensitive substring of the package id.
	Text string
	// Skip and Take paginate over package identifiers.
	Skip int
	Take int
	// IncludePrerelease keeps versions containing '-'.
	IncludePrerelease bool
}

// SearchResult holds the manifests of every retained version per package.
type SearchResult struct {
	// IDs lists the retained package identifiers in store order.
	IDs []string
	// Packages maps each retained identifier to its manifests, in version order.
	Packages map[string][]*nuspec.Manifest
	// TotalHits is the number of retained identifiers.
	TotalHits int
}

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go PackageStore

// PackageStore defines the operations the protocol handlers need from a store.
type PackageStore interface {
	// PackageIdentifierExists reports whether any directory exists for id
	PackageIdentifierExists(id string) bool

	// PackageVersionExists reports whether id/version exists
	PackageVersionExists(id, version string) bool

	// ListVersions returns the stored versions of id, latest last
	ListVersions(id string) ([]string, error)

	// ReadArchive returns the package archive bytes
	ReadArchive(id, version string) ([]byte, error)

	// ReadManifestBytes returns the raw manifest bytes
	ReadManifestBytes(id, version string) ([]byte, error)

	// ReadIcon returns the icon bytes extracted at ingestion
	ReadIcon(id, version string) ([]byte, error)

	// ReadManifest returns the parsed manifest
	ReadManifest(id, version string) (*nuspec.Manifest, error)

	// PublishedAt returns the time the version was committed
	PublishedAt(id, version string) (time.Time, error)

	// Ingest writes a package version unless it already exists
	Ingest(ctx context.Context, archive *nupkg.Archive, rawArchive, rawManifest []byte) (IngestResult, error)

	// Delete removes a package version, reporting whether it existed
	Delete(ctx context.Context, id, version string) (bool, error)

	// Search returns packages matching the query
	Search(ctx context.Context, query SearchQuery) (*SearchResult, error)
}

// Store is a PackageStore rooted at a directory.
type Store struct {
	root string
}

var _ PackageStore = (*Store)(nil)

// NewStore creates a store rooted at root, creating the directory if needed.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("store root is required")
	}
	for _, dir := range []string{root, filepath.Join(root, stagingDirName), filepath.Join(root, locksDirName)} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
		}
	}
	return &Store{root: root}, nil
}

// normalize lowercases a path segment and rejects anything that would escape
// its directory or collide with the store's internal entries.
func normalize(segment string) (string, error) {
	segment = strings.ToLower(strings.TrimSpace(segment))
	if segment == "" || strings.HasPrefix(segment, ".") ||
		strings.ContainsAny(segment, `/\`) || strings.ContainsRune(segment, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, segment)
	}
	return segment, nil
}

func (s *Store) packageDir(id string) (string, string, error) {
	id, err := normalize(id)
	if err != nil {
		return "", "", err
	}
	return filepath.Join(s.root, id), id, nil
}

func (s *Store) versionDir(id, version string) (string, string, error) {
	pkgDir, id, err := s.packageDir(id)
	if err != nil {
		return "", "", err
	}
	version, err = normalize(version)
	if err != nil {
		return "", "", err
	}
	return filepath.Join(pkgDir, version), id, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// PackageIdentifierExists reports whether the package directory exists,
// regardless of how many versions it holds.
func (s *Store) PackageIdentifierExists(id string) bool {
	dir, _, err := s.packageDir(id)
	return err == nil && isDir(dir)
}

// PackageVersionExists reports whether the version directory exists.
func (s *Store) PackageVersionExists(id, version string) bool {
	dir, _, err := s.versionDir(id, version)
	return err == nil && isDir(dir)
}

// ListVersions returns the versions stored for id in version order.
func (s *Store) ListVersions(id string) ([]string, error) {
	dir, id, err := s.packageDir(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("package %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to list versions of %s: %w", id, err)
	}

	vs := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			vs = append(vs, e.Name())
		}
	}
	versions.Sort(vs)
	return vs, nil
}

func (s *Store) readArtifact(id, version string, name func(id string) string) ([]byte, error) {
	dir, id, err := s.versionDir(id, version)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	//nolint:gosec // path segments are normalized above
	data, err := os.ReadFile(filepath.Join(dir, name(id)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("package %s %s: %w", id, version, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read package %s %s: %w", id, version, err)
	}
	return data, nil
}

func archiveName(id string) string  { return id + archiveExt }
func manifestName(id string) string { return id + manifestExt }
func iconName(string) string        { return iconFileName }

// ReadArchive returns the stored package archive.
func (s *Store) ReadArchive(id, version string) ([]byte, error) {
	return s.readArtifact(id, version, archiveName)
}

// ReadManifestBytes returns the stored manifest exactly as uploaded.
func (s *Store) ReadManifestBytes(id, version string) ([]byte, error) {
	return s.readArtifact(id, version, manifestName)
}

// ReadIcon returns the icon extracted at ingestion time.
func (s *Store) ReadIcon(id, version string) ([]byte, error) {
	return s.readArtifact(id, version, iconName)
}

// ReadManifest reads and parses the stored manifest. Manifests are not
// cached; each call parses the bytes again.
func (s *Store) ReadManifest(id, version string) (*nuspec.Manifest, error) {
	data, err := s.ReadManifestBytes(id, version)
	if err != nil {
		return nil, err
	}
	m, err := nuspec.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: manifest of %s %s: %v", ErrCorruptPackage, id, version, err)
	}
	return m, nil
}

// PublishedAt returns the modification time of the commit token in UTC.
func (s *Store) PublishedAt(id, version string) (time.Time, error) {
	dir, id, err := s.versionDir(id, version)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	info, err := os.Stat(filepath.Join(dir, commitFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, fmt.Errorf("package %s %s: %w", id, version, ErrNotFound)
		}
		return time.Time{}, fmt.Errorf("failed to stat commit of %s %s: %w", id, version, err)
	}
	return info.ModTime().UTC(), nil
}

type artifact struct {
	name string
	data []byte
}

// lock takes the per-identifier lock guarding ingestion and deletion.
func (s *Store) lock(ctx context.Context, id string) (*flock.Flock, error) {
	fl := flock.New(filepath.Join(s.root, locksDirName, id+".lock"))
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to lock package %s: %w", id, err)
	}
	if !locked {
		return nil, fmt.Errorf("failed to lock package %s", id)
	}
	return fl, nil
}

// Ingest writes a package version into the store.
//
// The artifacts are written into a staging directory that is renamed onto
// <id>/<version> only once complete, under a lock on the identifier. A
// version that already exists is left untouched and AlreadyExists is returned.
func (s *Store) Ingest(
	ctx context.Context,
	archive *nupkg.Archive,
	rawArchive, rawManifest []byte,
) (IngestResult, error) {
	if archive == nil || archive.Manifest == nil {
		return 0, fmt.Errorf("%w: archive has no manifest", ErrInvalidIdentifier)
	}

	pkgDir, id, err := s.packageDir(archive.Manifest.ID)
	if err != nil {
		return 0, err
	}
	versionDir, _, err := s.versionDir(id, archive.Manifest.Version)
	if err != nil {
		return 0, err
	}

	fl, err := s.lock(ctx, id)
	if err != nil {
		return 0, err
	}
	defer func() { _ = fl.Unlock() }()

	if isDir(versionDir) {
		return AlreadyExists, nil
	}

	stage := filepath.Join(s.root, stagingDirName, uuid.NewString())
	if err := os.Mkdir(stage, dirPerm); err != nil {
		return 0, fmt.Errorf("failed to create staging directory: %w", err)
	}
	published := false
	defer func() {
		if !published {
			_ = os.RemoveAll(stage)
		}
	}()

	artifacts := []artifact{
		{archiveName(id), rawArchive},
		{manifestName(id), rawManifest},
	}
	if archive.Icon != nil {
		artifacts = append(artifacts, artifact{iconFileName, archive.Icon})
	}
	artifacts = append(artifacts, artifact{commitFileName, []byte(uuid.NewString())})

	for _, a := range artifacts {
		if err := os.WriteFile(filepath.Join(stage, a.name), a.data, filePerm); err != nil {
			return 0, fmt.Errorf("failed to write %s: %w", a.name, err)
		}
	}

	createdPkgDir := !isDir(pkgDir)
	if err := os.MkdirAll(pkgDir, dirPerm); err != nil {
		return 0, fmt.Errorf("failed to create package directory: %w", err)
	}
	if err := os.Rename(stage, versionDir); err != nil {
		if createdPkgDir {
			_ = os.Remove(pkgDir)
		}
		if isDir(versionDir) {
			return AlreadyExists, nil
		}
		return 0, fmt.Errorf("failed to publish %s %s: %w", id, archive.Manifest.Version, err)
	}
	published = true

	return Created, nil
}

// Delete removes a version directory. The identifier directory is kept even
// when its last version is removed.
func (s *Store) Delete(ctx context.Context, id, version string) (bool, error) {
	versionDir, id, err := s.versionDir(id, version)
	if err != nil {
		return false, nil
	}

	fl, err := s.lock(ctx, id)
	if err != nil {
		return false, err
	}
	defer func() { _ = fl.Unlock() }()

	if !isDir(versionDir) {
		return false, nil
	}

	// Move the directory out of sight first so readers never see it half-removed.
	trash := filepath.Join(s.root, stagingDirName, uuid.NewString())
	if err := os.Rename(versionDir, trash); err != nil {
		return false, fmt.Errorf("failed to delete %s %s: %w", id, version, err)
	}
	if err := os.RemoveAll(trash); err != nil {
		return true, fmt.Errorf("failed to clean up deleted %s %s: %w", id, version, err)
	}
	return true, nil
}

// Search enumerates package identifiers in lexicographic order, filters them
// by substring, paginates over the identifiers and loads the manifest of every
// retained version. There is no snapshot isolation against concurrent ingests.
func (s *Store) Search(ctx context.Context, query SearchQuery) (*SearchResult, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}

	text := strings.ToLower(strings.TrimSpace(query.Text))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if text != "" && !strings.Contains(name, text) {
			continue
		}
		ids = append(ids, name)
	}

	ids = paginate(ids, query.Skip, query.Take)

	result := &SearchResult{
		IDs:      []string{},
		Packages: map[string][]*nuspec.Manifest{},
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		manifests, err := s.loadVersions(id, query.IncludePrerelease)
		if err != nil {
			return nil, err
		}
		if len(manifests) == 0 {
			continue
		}
		result.IDs = append(result.IDs, id)
		result.Packages[id] = manifests
	}
	result.TotalHits = len(result.IDs)

	return result, nil
}

func (s *Store) loadVersions(id string, includePrerelease bool) ([]*nuspec.Manifest, error) {
	vs, err := s.ListVersions(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Removed between enumeration and load.
			return nil, nil
		}
		return nil, err
	}

	manifests := make([]*nuspec.Manifest, 0, len(vs))
	for _, v := range vs {
		if !includePrerelease && nuspec.IsPrereleaseVersion(v) {
			continue
		}
		m, err := s.ReadManifest(id, v)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}

func paginate(ids []string, skip, take int) []string {
	if skip < 0 {
		skip = 0
	}
	if skip >= len(ids) {
		return nil
	}
	ids = ids[skip:]
	if take >= 0 && take < len(ids) {
		ids = ids[:take]
	}
	return ids
}
