// Package protocol assembles the JSON documents of the NuGet v3 protocol from
// stored manifests and the URLs advertised to a tenant.
package protocol

import (
	"time"

	"github.com/stacklok/nuget-registry-server/internal/endpoints"
)

// ServiceIndexVersion is the protocol version announced by the service index.
const ServiceIndexVersion = "3.0.0"

// JSON-LD vocabularies referenced by the documents.
const (
	servicesVocab = "http://schema.nuget.org/services#"
	schemaVocab   = "http://schema.nuget.org/schema#"
	commentIRI    = "http://www.w3.org/2000/01/rdf-schema#comment"
)

// Context is a JSON-LD @context object.
type Context struct {
	Vocab   string `json:"@vocab"`
	Base    string `json:"@base,omitempty"`
	Comment string `json:"comment,omitempty"`
}

// ServiceIndex is the document served at {tenant}/api/v3/index.json.
type ServiceIndex struct {
	Version   string               `json:"version"`
	Resources []endpoints.Resource `json:"resources"`
	Context   Context              `json:"@context"`
}

// SearchResponse is the document returned by the search capability.
type SearchResponse struct {
	TotalHits int         `json:"totalHits"`
	Data      []SearchHit `json:"data"`
	Context   Context     `json:"@context"`
}

// SearchHit describes one package in a search response, using its latest version.
type SearchHit struct {
	ID             string          `json:"@id"`
	Type           string          `json:"@type"`
	Registration   string          `json:"registration"`
	PackageID      string          `json:"id"`
	Version        string          `json:"version"`
	Description    string          `json:"description"`
	Summary        string          `json:"summary"`
	Title          string          `json:"title"`
	IconURL        string          `json:"iconUrl"`
	LicenseURL     string          `json:"licenseUrl"`
	ProjectURL     string          `json:"projectUrl"`
	Tags           []string        `json:"tags"`
	Authors        []string        `json:"authors"`
	TotalDownloads int64           `json:"totalDownloads"`
	Verified       bool            `json:"verified"`
	PackageTypes   []PackageType   `json:"packageTypes"`
	Versions       []SearchVersion `json:"versions"`
}

// PackageType names a package type in a search hit.
type PackageType struct {
	Name string `json:"name"`
}

// SearchVersion is the lightweight descriptor of one version in a search hit.
type SearchVersion struct {
	ID        string `json:"@id"`
	Version   string `json:"version"`
	Downloads int64  `json:"downloads"`
}

// RegistrationIndex is the registration root of one package.
type RegistrationIndex struct {
	ID    string             `json:"@id"`
	Type  []string           `json:"@type"`
	Count int                `json:"count"`
	Items []RegistrationPage `json:"items"`
}

// RegistrationPage holds every leaf of a package inline.
type RegistrationPage struct {
	ID     string             `json:"@id"`
	Type   string             `json:"@type"`
	Count  int                `json:"count"`
	Lower  string             `json:"lower"`
	Upper  string             `json:"upper"`
	Parent string             `json:"parent"`
	Items  []RegistrationLeaf `json:"items"`
}

// RegistrationLeaf describes one package version.
type RegistrationLeaf struct {
	ID             string        `json:"@id"`
	Type           string        `json:"@type"`
	CatalogEntry   *CatalogEntry `json:"catalogEntry"`
	PackageContent string        `json:"packageContent"`
	Registration   string        `json:"registration"`
}

// CatalogEntry is the per-version metadata embedded in a registration leaf.
type CatalogEntry struct {
	ID                       string            `json:"@id"`
	Type                     string            `json:"@type"`
	Authors                  string            `json:"authors"`
	DependencyGroups         []DependencyGroup `json:"dependencyGroups"`
	Description              string            `json:"description"`
	IconURL                  string            `json:"iconUrl"`
	PackageID                string            `json:"id"`
	Language                 string            `json:"language"`
	LicenseExpression        string            `json:"licenseExpression"`
	LicenseURL               string            `json:"licenseUrl"`
	Listed                   bool              `json:"listed"`
	MinClientVersion         string            `json:"minClientVersion"`
	PackageContent           string            `json:"packageContent"`
	ProjectURL               string            `json:"projectUrl"`
	Published                time.Time         `json:"published"`
	RequireLicenseAcceptance bool              `json:"requireLicenseAcceptance"`
	Summary                  string            `json:"summary"`
	Tags                     []string          `json:"tags"`
	Title                    string            `json:"title"`
	Version                  string            `json:"version"`
}

// DependencyGroup lists the dependencies of one target framework.
type DependencyGroup struct {
	ID              string       `json:"@id"`
	Type            string       `json:"@type"`
	TargetFramework string       `json:"targetFramework,omitempty"`
	Dependencies    []Dependency `json:"dependencies"`
}

// Dependency links a dependency to the registration it resolves to.
type Dependency struct {
	ID           string `json:"@id"`
	Type         string `json:"@type"`
	PackageID    string `json:"id"`
	Range        string `json:"range"`
	Registration string `json:"registration"`
}

// VersionsIndex is the version list served by the package base address.
type VersionsIndex struct {
	Versions []string `json:"versions"`
}
