// Package nuspec provides the in-memory model of a NuGet package manifest
// (.nuspec) together with its XML decoding and encoding.
package nuspec

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedManifest is returned when manifest bytes are not a well-formed
// nuspec document or lack required elements.
var ErrMalformedManifest = errors.New("malformed manifest")

// Namespace is the schema namespace written by Encode.
const Namespace = "http://schemas.microsoft.com/packaging/2013/05/nuspec.xsd"

// Manifest is the metadata of a single package version.
type Manifest struct {
	// ID is the lowercase form of Name and is used for all lookups.
	ID string
	// Name is the identifier in its original case.
	Name string
	// Version is stored verbatim, prerelease suffix included.
	Version string

	Title                    string
	Authors                  string
	Owners                   string
	Description              string
	Summary                  string
	ReleaseNotes             string
	Copyright                string
	Language                 string
	ProjectURL               string
	LicenseURL               string
	LicenseExpression        string
	Icon                     string
	IconURL                  string
	Tags                     []string
	RequireLicenseAcceptance bool
	MinClientVersion         string

	DependencyGroups []DependencyGroup
}

// DependencyGroup holds the dependencies declared for one target framework.
// An empty TargetFramework applies to every framework.
type DependencyGroup struct {
	TargetFramework string
	Dependencies    []Dependency
}

// Dependency is a reference from a manifest to another package.
type Dependency struct {
	ID           string
	VersionRange string
	ExcludedTags []string
}

// IsPrereleaseVersion reports whether version carries a prerelease suffix.
func IsPrereleaseVersion(version string) bool {
	return strings.Contains(version, "-")
}

type xmlPackage struct {
	XMLName  xml.Name     `xml:"package"`
	Xmlns    string       `xml:"xmlns,attr,omitempty"`
	Metadata *xmlMetadata `xml:"metadata"`
}

type xmlMetadata struct {
	MinClientVersion         string           `xml:"minClientVersion,attr,omitempty"`
	ID                       string           `xml:"id"`
	Version                  string           `xml:"version"`
	Title                    string           `xml:"title,omitempty"`
	Authors                  string           `xml:"authors,omitempty"`
	Owners                   string           `xml:"owners,omitempty"`
	RequireLicenseAcceptance string           `xml:"requireLicenseAcceptance,omitempty"`
	License                  *xmlLicense      `xml:"license,omitempty"`
	LicenseURL               string           `xml:"licenseUrl,omitempty"`
	Icon                     string           `xml:"icon,omitempty"`
	IconURL                  string           `xml:"iconUrl,omitempty"`
	ProjectURL               string           `xml:"projectUrl,omitempty"`
	Description              string           `xml:"description,omitempty"`
	Summary                  string           `xml:"summary,omitempty"`
	ReleaseNotes             string           `xml:"releaseNotes,omitempty"`
	Copyright                string           `xml:"copyright,omitempty"`
	Language                 string           `xml:"language,omitempty"`
	Tags                     string           `xml:"tags,omitempty"`
	Dependencies             *xmlDependencies `xml:"dependencies,omitempty"`
}

type xmlLicense struct {
	Type  string `xml:"type,attr,omitempty"`
	Value string `xml:",chardata"`
}

type xmlDependencies struct {
	Groups       []xmlGroup      `xml:"group"`
	Dependencies []xmlDependency `xml:"dependency"`
}

type xmlGroup struct {
	TargetFramework string          `xml:"targetFramework,attr,omitempty"`
	Dependencies    []xmlDependency `xml:"dependency"`
}

type xmlDependency struct {
	ID      string `xml:"id,attr"`
	Version string `xml:"version,attr,omitempty"`
	Exclude string `xml:"exclude,attr,omitempty"`
}

// Parse decodes nuspec bytes into a Manifest.
func Parse(data []byte) (*Manifest, error) {
	var doc xmlPackage
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedManifest, err)
	}
	if doc.Metadata == nil {
		return nil, fmt.Errorf("%w: missing metadata element", ErrMalformedManifest)
	}

	md := doc.Metadata
	name := strings.TrimSpace(md.ID)
	if name == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedManifest)
	}
	version := strings.TrimSpace(md.Version)
	if version == "" {
		return nil, fmt.Errorf("%w: missing version for %s", ErrMalformedManifest, name)
	}

	m := &Manifest{
		ID:               strings.ToLower(name),
		Name:             name,
		Version:          version,
		Title:            strings.TrimSpace(md.Title),
		Authors:          strings.TrimSpace(md.Authors),
		Owners:           strings.TrimSpace(md.Owners),
		Description:      strings.TrimSpace(md.Description),
		Summary:          strings.TrimSpace(md.Summary),
		ReleaseNotes:     strings.TrimSpace(md.ReleaseNotes),
		Copyright:        strings.TrimSpace(md.Copyright),
		Language:         strings.TrimSpace(md.Language),
		ProjectURL:       strings.TrimSpace(md.ProjectURL),
		LicenseURL:       strings.TrimSpace(md.LicenseURL),
		Icon:             strings.TrimSpace(md.Icon),
		IconURL:          strings.TrimSpace(md.IconURL),
		Tags:             strings.Fields(md.Tags),
		MinClientVersion: strings.TrimSpace(md.MinClientVersion),
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}
	if md.License != nil && strings.EqualFold(md.License.Type, "expression") {
		m.LicenseExpression = strings.TrimSpace(md.License.Value)
	}
	if v := strings.TrimSpace(md.RequireLicenseAcceptance); v != "" {
		accept, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid requireLicenseAcceptance %q", ErrMalformedManifest, v)
		}
		m.RequireLicenseAcceptance = accept
	}

	groups, err := parseDependencies(md.Dependencies)
	if err != nil {
		return nil, err
	}
	m.DependencyGroups = groups

	return m, nil
}

func parseDependencies(deps *xmlDependencies) ([]DependencyGroup, error) {
	groups := []DependencyGroup{}
	if deps == nil {
		return groups, nil
	}

	// Dependencies listed outside of any group apply to every framework.
	if len(deps.Dependencies) > 0 {
		parsed, err := convertDependencies(deps.Dependencies)
		if err != nil {
			return nil, err
		}
		groups = append(groups, DependencyGroup{Dependencies: parsed})
	}

	for _, g := range deps.Groups {
		parsed, err := convertDependencies(g.Dependencies)
		if err != nil {
			return nil, err
		}
		groups = append(groups, DependencyGroup{
			TargetFramework: strings.TrimSpace(g.TargetFramework),
			Dependencies:    parsed,
		})
	}

	return groups, nil
}

func convertDependencies(in []xmlDependency) ([]Dependency, error) {
	out := make([]Dependency, 0, len(in))
	for i, d := range in {
		id := strings.TrimSpace(d.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: dependency[%d] has no id", ErrMalformedManifest, i)
		}
		dep := Dependency{
			ID:           id,
			VersionRange: strings.TrimSpace(d.Version),
		}
		if d.Exclude != "" {
			for _, tag := range strings.Split(d.Exclude, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					dep.ExcludedTags = append(dep.ExcludedTags, tag)
				}
			}
		}
		out = append(out, dep)
	}
	return out, nil
}

// Encode serializes a manifest to nuspec XML.
func Encode(m *Manifest) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("manifest cannot be nil")
	}
	name := m.Name
	if name == "" {
		name = m.ID
	}
	if name == "" || m.Version == "" {
		return nil, fmt.Errorf("%w: id and version are required", ErrMalformedManifest)
	}

	md := &xmlMetadata{
		MinClientVersion: m.MinClientVersion,
		ID:               name,
		Version:          m.Version,
		Title:            m.Title,
		Authors:          m.Authors,
		Owners:           m.Owners,
		LicenseURL:       m.LicenseURL,
		Icon:             m.Icon,
		IconURL:          m.IconURL,
		ProjectURL:       m.ProjectURL,
		Description:      m.Description,
		Summary:          m.Summary,
		ReleaseNotes:     m.ReleaseNotes,
		Copyright:        m.Copyright,
		Language:         m.Language,
		Tags:             strings.Join(m.Tags, " "),
	}
	if m.RequireLicenseAcceptance {
		md.RequireLicenseAcceptance = "true"
	}
	if m.LicenseExpression != "" {
		md.License = &xmlLicense{Type: "expression", Value: m.LicenseExpression}
	}
	if len(m.DependencyGroups) > 0 {
		md.Dependencies = &xmlDependencies{}
		for _, g := range m.DependencyGroups {
			xg := xmlGroup{TargetFramework: g.TargetFramework}
			for _, d := range g.Dependencies {
				xg.Dependencies = append(xg.Dependencies, xmlDependency{
					ID:      d.ID,
					Version: d.VersionRange,
					Exclude: strings.Join(d.ExcludedTags, ","),
				})
			}
			md.Dependencies.Groups = append(md.Dependencies.Groups, xg)
		}
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(xmlPackage{Xmlns: Namespace, Metadata: md}); err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
