// Package endpoints holds the table of protocol capabilities served by the
// registry and the per-tenant absolute URLs advertised for them.
package endpoints

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/stacklok/nuget-registry-server/internal/storage"
)

var (
	// ErrNotFound is returned when no capability is registered under a resource name
	ErrNotFound = errors.New("resource not found")

	// ErrMalformedRequest is returned by handlers for requests they cannot interpret
	ErrMalformedRequest = errors.New("malformed request")
)

// Call carries the request-scoped inputs of a capability handler.
type Call struct {
	// Tenant is the tenant prefix the request was addressed to.
	Tenant string
	// Segments are the path segments following the resource name.
	Segments []string
	// Store is the package store serving the tenant.
	Store storage.PackageStore
	// URLs are the tenant's advertised resource URLs.
	URLs *TenantURLs
}

// Handler serves one capability. A returned error is mapped to a status code
// by the caller; a handler that returns nil has written its response.
type Handler func(w http.ResponseWriter, r *http.Request, call *Call) error

// Registration declares one capability.
type Registration struct {
	// ResourceTypes are the protocol resource-type identifiers the capability
	// satisfies, in the order they are advertised.
	ResourceTypes []string
	// Name is the path segment the capability is served under.
	Name string
	// Comment is advertised next to every resource type.
	Comment string
	// Handler serves requests for the capability.
	Handler Handler
}

// Resource is one row of the service index.
type Resource struct {
	ID      string `json:"@id"`
	Type    string `json:"@type"`
	Comment string `json:"comment,omitempty"`
}

// BaseURL is the public address the registry is reachable at.
type BaseURL struct {
	Scheme string
	Host   string
	Port   int
}

// String renders the base URL, omitting the port when it is the scheme default.
func (b BaseURL) String() string {
	scheme := b.Scheme
	if scheme == "" {
		scheme = "http"
	}
	if b.Port == 0 || (scheme == "http" && b.Port == 80) || (scheme == "https" && b.Port == 443) {
		return scheme + "://" + b.Host
	}
	return scheme + "://" + b.Host + ":" + strconv.Itoa(b.Port)
}

// TenantURLs are the absolute URLs advertised to one tenant.
type TenantURLs struct {
	// Tenant is the tenant prefix the URLs were built for.
	Tenant string
	// Index is the service index resource list.
	Index []Resource

	byName map[string]string
}

// URL returns the resource URL of a capability, with a trailing slash.
func (t *TenantURLs) URL(name string) (string, error) {
	u, ok := t.byName[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return u, nil
}

// maxCachedTenants bounds the URL table cache when tenants come from a pattern.
// Tables for tenants beyond it are built per request.
const maxCachedTenants = 1024

// Registry resolves capabilities by name and builds tenant URL tables.
type Registry struct {
	base          BaseURL
	registrations []Registration
	byName        map[string]*Registration

	mu         sync.RWMutex
	tenants    map[string]*TenantURLs
	cacheLimit int
}

// New creates a registry from an explicit registration table.
func New(base BaseURL, registrations []Registration) (*Registry, error) {
	if base.Host == "" {
		return nil, fmt.Errorf("public host is required")
	}
	if base.Scheme != "" && base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", base.Scheme)
	}

	reg := &Registry{
		base:          base,
		registrations: make([]Registration, len(registrations)),
		byName:        make(map[string]*Registration, len(registrations)),
		tenants:       map[string]*TenantURLs{},
		cacheLimit:    maxCachedTenants,
	}
	copy(reg.registrations, registrations)

	seenTypes := map[string]string{}
	for i := range reg.registrations {
		r := &reg.registrations[i]
		if r.Name == "" || strings.Contains(r.Name, "/") {
			return nil, fmt.Errorf("invalid capability name %q", r.Name)
		}
		if r.Handler == nil {
			return nil, fmt.Errorf("capability %s has no handler", r.Name)
		}
		if len(r.ResourceTypes) == 0 {
			return nil, fmt.Errorf("capability %s declares no resource types", r.Name)
		}
		if _, dup := reg.byName[r.Name]; dup {
			return nil, fmt.Errorf("capability %s registered twice", r.Name)
		}
		for _, t := range r.ResourceTypes {
			if owner, dup := seenTypes[t]; dup {
				return nil, fmt.Errorf("resource type %s declared by both %s and %s", t, owner, r.Name)
			}
			seenTypes[t] = r.Name
		}
		reg.byName[r.Name] = r
	}
	return reg, nil
}

// Resolve returns the handler registered under name.
func (reg *Registry) Resolve(name string) (Handler, error) {
	r, ok := reg.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return r.Handler, nil
}

func (reg *Registry) resourceURL(tenant, name string) string {
	return fmt.Sprintf("%s/%s/api/v3/%s/", reg.base, tenant, name)
}

// BuildIndex returns one resource per declared resource type, in table order.
func (reg *Registry) BuildIndex(tenant string) []Resource {
	var resources []Resource
	for _, r := range reg.registrations {
		u := reg.resourceURL(tenant, r.Name)
		for _, t := range r.ResourceTypes {
			resources = append(resources, Resource{ID: u, Type: t, Comment: r.Comment})
		}
	}
	return resources
}

// Tenant returns the URL table of a tenant, building it on first use.
func (reg *Registry) Tenant(tenant string) *TenantURLs {
	reg.mu.RLock()
	t, ok := reg.tenants[tenant]
	full := len(reg.tenants) >= reg.cacheLimit
	reg.mu.RUnlock()
	if ok {
		return t
	}
	if full {
		return reg.buildTenant(tenant)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if t, ok := reg.tenants[tenant]; ok {
		return t
	}
	t = reg.buildTenant(tenant)
	if len(reg.tenants) < reg.cacheLimit {
		reg.tenants[tenant] = t
	}
	return t
}

func (reg *Registry) buildTenant(tenant string) *TenantURLs {
	t := &TenantURLs{
		Tenant: tenant,
		Index:  reg.BuildIndex(tenant),
		byName: make(map[string]string, len(reg.registrations)),
	}
	for _, r := range reg.registrations {
		t.byName[r.Name] = reg.resourceURL(tenant, r.Name)
	}
	return t
}
