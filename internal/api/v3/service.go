// Package v3 implements the NuGet v3 capabilities served under
// /{tenant}/api/v3/{resource}/.
package v3

import (
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/nuget-registry-server/internal/endpoints"
	"github.com/stacklok/nuget-registry-server/internal/protocol"
	"github.com/stacklok/nuget-registry-server/internal/telemetry"
)

const (
	defaultMaxUploadBytes = 250 << 20
	defaultMaxSearchTake  = 1000
)

// Option configures the capability handlers
type Option func(*Service)

// WithUpstreamRegistration sets the registration URL template used for
// dependencies that are not stored locally
func WithUpstreamRegistration(template string) Option {
	return func(s *Service) {
		s.upstream = template
	}
}

// WithMaxUploadBytes bounds the size of a publish request body
func WithMaxUploadBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// WithMaxSearchTake caps the take parameter of search requests
func WithMaxSearchTake(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxSearchTake = n
		}
	}
}

// WithPackageMetrics records ingests, deletes, downloads and searches
func WithPackageMetrics(m *telemetry.PackageMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTracer traces searches, ingests and deletes
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// Service holds the settings shared by the capability handlers.
type Service struct {
	upstream       string
	maxUploadBytes int64
	maxSearchTake  int
	metrics        *telemetry.PackageMetrics
	tracer         trace.Tracer
}

// NewService creates the capability handlers.
func NewService(opts ...Option) *Service {
	s := &Service{
		upstream:       protocol.DefaultUpstreamRegistration,
		maxUploadBytes: defaultMaxUploadBytes,
		maxSearchTake:  defaultMaxSearchTake,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registrations returns the capability table, in service index order.
func (s *Service) Registrations() []endpoints.Registration {
	return []endpoints.Registration{
		{
			ResourceTypes: []string{
				"SearchQueryService",
				"SearchQueryService/3.0.0-beta",
				"SearchQueryService/3.0.0-rc",
			},
			Name:    protocol.SearchQueryService,
			Comment: "Query endpoint of the package search service",
			Handler: s.Search,
		},
		{
			ResourceTypes: []string{
				"RegistrationsBaseUrl",
				"RegistrationsBaseUrl/3.0.0-beta",
				"RegistrationsBaseUrl/3.0.0-rc",
			},
			Name:    protocol.RegistrationsBaseURL,
			Comment: "Base URL of package registration metadata",
			Handler: s.Registration,
		},
		{
			ResourceTypes: []string{"PackageBaseAddress/3.0.0"},
			Name:          protocol.PackageBaseAddress,
			Comment:       "Base URL of package content: {id}/{version}/{id}.{version}.nupkg",
			Handler:       s.PackageContent,
		},
		{
			ResourceTypes: []string{"PackagePublish/2.0.0"},
			Name:          protocol.PackagePublish,
			Comment:       "Push and delete packages",
			Handler:       s.Publish,
		},
	}
}

func (s *Service) urls(call *endpoints.Call) (protocol.URLs, error) {
	urls, err := protocol.NewURLs(call.URLs, s.upstream)
	if err != nil {
		return protocol.URLs{}, fmt.Errorf("tenant %s has no document URLs: %w", call.Tenant, err)
	}
	return urls, nil
}
