package protocol

import (
	"fmt"
	"strings"
	"time"

	"github.com/stacklok/nuget-registry-server/internal/endpoints"
	"github.com/stacklok/nuget-registry-server/internal/nuspec"
)

// DefaultUpstreamRegistration is the registration URL template used for
// dependencies that are not present locally. {id} is replaced by the
// lowercase package id.
const DefaultUpstreamRegistration = "https://api.nuget.org/v3/registration5-semver1/{id}/index.json"

// Capability names, as they appear in resource URLs.
const (
	SearchQueryService   = "SearchQueryService"
	RegistrationsBaseURL = "RegistrationsBaseUrl"
	PackageBaseAddress   = "PackageBaseAddress"
	PackagePublish       = "PackagePublish"
)

// URLs are the base URLs a tenant's documents link to. Base URLs end with a slash.
type URLs struct {
	RegistrationsBase    string
	PackageBase          string
	UpstreamRegistration string
}

// NewURLs derives the document URLs from a tenant URL table.
func NewURLs(tenant *endpoints.TenantURLs, upstreamTemplate string) (URLs, error) {
	registrations, err := tenant.URL(RegistrationsBaseURL)
	if err != nil {
		return URLs{}, err
	}
	packages, err := tenant.URL(PackageBaseAddress)
	if err != nil {
		return URLs{}, err
	}
	if upstreamTemplate == "" {
		upstreamTemplate = DefaultUpstreamRegistration
	}
	return URLs{
		RegistrationsBase:    registrations,
		PackageBase:          packages,
		UpstreamRegistration: upstreamTemplate,
	}, nil
}

// ExistsFunc reports whether a package identifier is present in the local store.
type ExistsFunc func(id string) bool

// PackageVersion is one stored version as the assembler consumes it.
type PackageVersion struct {
	// Version is the version as stored, which is the lowercase form.
	Version   string
	Manifest  *nuspec.Manifest
	Published time.Time
}

// RegistrationURL returns {RegistrationsBase}{id}/{version}.json, or
// {RegistrationsBase}{id}/index.json when version is empty.
func (u URLs) RegistrationURL(id, version string) string {
	if version == "" {
		version = "index"
	}
	return u.RegistrationsBase + strings.ToLower(id) + "/" + strings.ToLower(version) + ".json"
}

// ContentURL returns the archive download URL of a version.
func (u URLs) ContentURL(id, version string) string {
	id, version = strings.ToLower(id), strings.ToLower(version)
	return fmt.Sprintf("%s%s/%s/%s.%s.nupkg", u.PackageBase, id, version, id, version)
}

// IconURL returns the external icon URL of a manifest when it declares one,
// and the locally served icon otherwise.
func (u URLs) IconURL(m *nuspec.Manifest) string {
	if m.IconURL != "" {
		return m.IconURL
	}
	return fmt.Sprintf("%s%s/%s/icon", u.PackageBase, strings.ToLower(m.ID), strings.ToLower(m.Version))
}

// upstreamURL expands the upstream registration template for id.
func (u URLs) upstreamURL(id string) string {
	tmpl := u.UpstreamRegistration
	if tmpl == "" {
		tmpl = DefaultUpstreamRegistration
	}
	return strings.ReplaceAll(tmpl, "{id}", strings.ToLower(id))
}

// VersionRange renders a dependency range. Interval notation is passed
// through; a bare version is a minimum-inclusive, unbounded range.
func VersionRange(r string) string {
	r = strings.TrimSpace(r)
	switch {
	case r == "":
		return "(, )"
	case strings.HasPrefix(r, "[") || strings.HasPrefix(r, "("):
		return r
	default:
		return "[" + r + ", )"
	}
}

// DependencyGroups links every dependency of m to its local registration when
// the identifier exists locally and to the upstream registry otherwise.
func (u URLs) DependencyGroups(m *nuspec.Manifest, leafURL string, exists ExistsFunc) []DependencyGroup {
	groups := make([]DependencyGroup, 0, len(m.DependencyGroups))
	for _, g := range m.DependencyGroups {
		groupID := leafURL + "#dependencygroup"
		if g.TargetFramework != "" {
			groupID += "/" + strings.ToLower(g.TargetFramework)
		}

		deps := make([]Dependency, 0, len(g.Dependencies))
		for _, d := range g.Dependencies {
			registration := u.upstreamURL(d.ID)
			if exists != nil && exists(d.ID) {
				registration = u.RegistrationURL(d.ID, "")
			}
			deps = append(deps, Dependency{
				ID:           groupID + "/" + strings.ToLower(d.ID),
				Type:         "PackageDependency",
				PackageID:    d.ID,
				Range:        VersionRange(d.VersionRange),
				Registration: registration,
			})
		}

		groups = append(groups, DependencyGroup{
			ID:              groupID,
			Type:            "PackageDependencyGroup",
			TargetFramework: g.TargetFramework,
			Dependencies:    deps,
		})
	}
	return groups
}

// NewServiceIndex wraps the resources of a tenant in a service index.
func NewServiceIndex(resources []endpoints.Resource) *ServiceIndex {
	if resources == nil {
		resources = []endpoints.Resource{}
	}
	return &ServiceIndex{
		Version:   ServiceIndexVersion,
		Resources: resources,
		Context:   Context{Vocab: servicesVocab, Comment: commentIRI},
	}
}

// NewCatalogEntry builds the catalog entry of one version.
func (u URLs) NewCatalogEntry(v PackageVersion, exists ExistsFunc) *CatalogEntry {
	m := v.Manifest
	version := v.Version
	if version == "" {
		version = m.Version
	}
	leafURL := u.RegistrationURL(m.ID, version)

	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}

	return &CatalogEntry{
		ID:                       leafURL,
		Type:                     "PackageDetails",
		Authors:                  m.Authors,
		DependencyGroups:         u.DependencyGroups(m, leafURL, exists),
		Description:              m.Description,
		IconURL:                  u.IconURL(m),
		PackageID:                m.Name,
		Language:                 m.Language,
		LicenseExpression:        m.LicenseExpression,
		LicenseURL:               m.LicenseURL,
		Listed:                   true,
		MinClientVersion:         m.MinClientVersion,
		PackageContent:           u.ContentURL(m.ID, version),
		ProjectURL:               m.ProjectURL,
		Published:                v.Published,
		RequireLicenseAcceptance: m.RequireLicenseAcceptance,
		Summary:                  m.Summary,
		Tags:                     tags,
		Title:                    m.Title,
		Version:                  m.Version,
	}
}

// NewRegistrationLeaf builds the registration leaf of one version.
func (u URLs) NewRegistrationLeaf(v PackageVersion, exists ExistsFunc) *RegistrationLeaf {
	entry := u.NewCatalogEntry(v, exists)
	return &RegistrationLeaf{
		ID:             entry.ID,
		Type:           "Package",
		CatalogEntry:   entry,
		PackageContent: entry.PackageContent,
		Registration:   u.RegistrationURL(v.Manifest.ID, ""),
	}
}

// NewRegistrationIndex builds the registration root of a package. The root
// always holds a single page with every version inlined, in the given order.
func (u URLs) NewRegistrationIndex(id string, versions []PackageVersion, exists ExistsFunc) *RegistrationIndex {
	indexURL := u.RegistrationURL(id, "")

	leaves := make([]RegistrationLeaf, 0, len(versions))
	for _, v := range versions {
		leaves = append(leaves, *u.NewRegistrationLeaf(v, exists))
	}

	var lower, upper string
	if len(versions) > 0 {
		lower, upper = versionOf(versions[0]), versionOf(versions[len(versions)-1])
	}

	page := RegistrationPage{
		ID:     fmt.Sprintf("%s#page/%s/%s", indexURL, lower, upper),
		Type:   "catalog:CatalogPage",
		Count:  len(leaves),
		Lower:  lower,
		Upper:  upper,
		Parent: indexURL,
		Items:  leaves,
	}

	return &RegistrationIndex{
		ID:    indexURL,
		Type:  []string{"catalog:CatalogRoot", "PackageRegistration", "catalog:Permalink"},
		Count: 1,
		Items: []RegistrationPage{page},
	}
}

func versionOf(v PackageVersion) string {
	if v.Version != "" {
		return v.Version
	}
	return v.Manifest.Version
}

// NewSearchHit builds the search hit of a package from its retained manifests,
// ordered with the latest version last. It returns nil for an empty slice.
func (u URLs) NewSearchHit(manifests []*nuspec.Manifest) *SearchHit {
	if len(manifests) == 0 {
		return nil
	}
	latest := manifests[len(manifests)-1]

	versions := make([]SearchVersion, 0, len(manifests))
	for _, m := range manifests {
		versions = append(versions, SearchVersion{
			ID:      u.RegistrationURL(m.ID, m.Version),
			Version: m.Version,
		})
	}

	tags := latest.Tags
	if tags == nil {
		tags = []string{}
	}

	return &SearchHit{
		ID:           u.RegistrationURL(latest.ID, ""),
		Type:         "Package",
		Registration: u.RegistrationURL(latest.ID, ""),
		PackageID:    latest.Name,
		Version:      latest.Version,
		Description:  latest.Description,
		Summary:      latest.Summary,
		Title:        latest.Title,
		IconURL:      u.IconURL(latest),
		LicenseURL:   latest.LicenseURL,
		ProjectURL:   latest.ProjectURL,
		Tags:         tags,
		Authors:      splitAuthors(latest.Authors),
		PackageTypes: []PackageType{},
		Versions:     versions,
	}
}

// NewSearchResponse builds a search response over packages given in result order.
func (u URLs) NewSearchResponse(totalHits int, packages [][]*nuspec.Manifest) *SearchResponse {
	data := make([]SearchHit, 0, len(packages))
	for _, manifests := range packages {
		if hit := u.NewSearchHit(manifests); hit != nil {
			data = append(data, *hit)
		}
	}
	return &SearchResponse{
		TotalHits: totalHits,
		Data:      data,
		Context:   Context{Vocab: schemaVocab, Base: u.RegistrationsBase},
	}
}

// NewVersionsIndex wraps a version list for the package base address.
func NewVersionsIndex(versions []string) *VersionsIndex {
	out := make([]string, 0, len(versions))
	for _, v := range versions {
		out = append(out, strings.ToLower(v))
	}
	return &VersionsIndex{Versions: out}
}

func splitAuthors(authors string) []string {
	parts := strings.Split(authors, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
