package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/nuget-registry-server/internal/api"
	v3 "github.com/stacklok/nuget-registry-server/internal/api/v3"
	"github.com/stacklok/nuget-registry-server/internal/auth"
	"github.com/stacklok/nuget-registry-server/internal/config"
	"github.com/stacklok/nuget-registry-server/internal/endpoints"
	"github.com/stacklok/nuget-registry-server/internal/storage"
	"github.com/stacklok/nuget-registry-server/internal/telemetry"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second
	defaultUploadTimeout  = 10 * time.Minute
)

// defaultPublicPaths are paths that never require authentication
var defaultPublicPaths = []string{"/health", "/readiness", "/version"}

// RegistryAppOptions is a function that configures the registry app builder
type RegistryAppOptions func(*registryAppConfig) error

// registryAppConfig collects everything NewRegistryApp needs.
// Overrides exist mainly so tests can inject components.
type registryAppConfig struct {
	config *config.Config

	storeProvider *storage.Provider

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
	uploadTimeout  time.Duration

	authMiddleware func(http.Handler) http.Handler

	// Telemetry components
	telemetry      *telemetry.Telemetry
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metricsPath    string
	metricsHandler http.Handler
}

func baseConfig(opts ...RegistryAppOptions) (*registryAppConfig, error) {
	cfg := &registryAppConfig{
		address:        config.DefaultAddress,
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
		uploadTimeout:  defaultUploadTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	cfg.applyServerConfig()

	return cfg, nil
}

// applyServerConfig fills the listener settings the options left at their defaults.
func (b *registryAppConfig) applyServerConfig() {
	s := b.config.Server
	if b.address == config.DefaultAddress && s.Address != "" {
		b.address = s.Address
	}
	b.requestTimeout = config.GetDuration(s.RequestTimeout, b.requestTimeout)
	b.readTimeout = config.GetDuration(s.ReadTimeout, b.readTimeout)
	b.writeTimeout = config.GetDuration(s.WriteTimeout, b.writeTimeout)
	b.idleTimeout = config.GetDuration(s.IdleTimeout, b.idleTimeout)
	b.uploadTimeout = config.GetDuration(s.UploadTimeout, b.uploadTimeout)
}

// NewRegistryApp wires the package store, the protocol handlers and the HTTP server
func NewRegistryApp(
	ctx context.Context,
	opts ...RegistryAppOptions,
) (*RegistryApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	if err := buildTelemetry(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to build telemetry: %w", err)
	}

	// Telemetry is the only component holding resources at this point.
	var cleanupNeeded = true
	defer func() {
		if cleanupNeeded && cfg.telemetry != nil {
			_ = cfg.telemetry.Shutdown(context.WithoutCancel(ctx))
		}
	}()

	if cfg.storeProvider == nil {
		cfg.storeProvider, err = storage.NewProvider(
			cfg.config.Storage.GetPackagesPath(),
			storage.Mode(cfg.config.Storage.GetMode()),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create package store: %w", err)
		}
	}

	dispatcher, err := buildProtocolComponents(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build protocol components: %w", err)
	}

	if cfg.authMiddleware == nil {
		cfg.authMiddleware, err = auth.NewAuthMiddleware(cfg.config.Auth)
		if err != nil {
			return nil, fmt.Errorf("failed to build auth middleware: %w", err)
		}
	}

	httpServer, err := buildHTTPServer(cfg, dispatcher)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)
	cleanupNeeded = false

	return &RegistryApp{
		config:     cfg.config,
		httpServer: httpServer,
		telemetry:  cfg.telemetry,
		ctx:        appCtx,
		cancelFunc: cancel,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address, overriding the configured one
func WithAddress(addr string) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, ok := strings.Cut(addr, ":")
		if !ok || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithStoreProvider allows injecting a package store provider (for testing)
func WithStoreProvider(p *storage.Provider) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		cfg.storeProvider = p
		return nil
	}
}

// WithAuthMiddleware allows injecting the authentication middleware (for testing)
func WithAuthMiddleware(mw func(http.Handler) http.Handler) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		cfg.authMiddleware = mw
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider, bypassing the
// telemetry section of the configuration
func WithMeterProvider(mp metric.MeterProvider) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider, bypassing the
// telemetry section of the configuration
func WithTracerProvider(tp trace.TracerProvider) RegistryAppOptions {
	return func(cfg *registryAppConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

// buildTelemetry creates providers from the configuration unless they were injected
func buildTelemetry(ctx context.Context, b *registryAppConfig) error {
	if b.meterProvider != nil || b.tracerProvider != nil {
		return nil
	}

	tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(b.config.Telemetry))
	if err != nil {
		return err
	}
	b.telemetry = tel
	b.meterProvider = tel.MeterProvider()
	b.tracerProvider = tel.TracerProvider()
	b.metricsPath, b.metricsHandler = tel.MetricsHandler()
	return nil
}

// buildProtocolComponents builds the capability registry and the tenant dispatcher
func buildProtocolComponents(b *registryAppConfig) (*api.Dispatcher, error) {
	slog.Info("Initializing protocol components")

	svcOpts := []v3.Option{
		v3.WithUpstreamRegistration(b.config.Upstream.RegistrationTemplate),
		v3.WithMaxUploadBytes(b.config.Storage.GetMaxUploadBytes()),
		v3.WithMaxSearchTake(b.config.Storage.GetMaxSearchTake()),
	}
	if b.meterProvider != nil {
		packageMetrics, err := telemetry.NewPackageMetrics(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create package metrics: %w", err)
		}
		svcOpts = append(svcOpts, v3.WithPackageMetrics(packageMetrics))
	}
	if b.tracerProvider != nil {
		svcOpts = append(svcOpts, v3.WithTracer(b.tracerProvider.Tracer(telemetry.TracerName)))
	}
	svc := v3.NewService(svcOpts...)

	base := endpoints.BaseURL{
		Scheme: b.config.Server.GetPublicScheme(),
		Host:   b.config.Server.PublicHost,
		Port:   b.config.Server.PublicPort,
	}
	registry, err := endpoints.New(base, svc.Registrations())
	if err != nil {
		return nil, fmt.Errorf("failed to create capability registry: %w", err)
	}

	tenants, err := api.NewTenantValidator(
		b.config.Tenants.Prefixes, b.config.Tenants.Pattern, reservedTenants(b)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant validator: %w", err)
	}

	slog.Info("Protocol components initialized successfully", "base_url", base.String())
	return api.NewDispatcher(registry, b.storeProvider, tenants), nil
}

// buildHTTPServer builds the HTTP server with router and middleware
func buildHTTPServer(
	b *registryAppConfig,
	dispatcher http.Handler,
) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	// Use default middlewares if not provided
	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			requestTimeouts(b.requestTimeout, b.uploadTimeout),
			api.LoggingMiddleware,
		}
	}

	// Tracing and metrics run first so they also see requests rejected by auth
	var leading []func(http.Handler) http.Handler
	if b.tracerProvider != nil {
		leading = append(leading, telemetry.TracingMiddleware(b.tracerProvider, "/health", "/readiness"))
	}
	if b.meterProvider != nil {
		metricsMiddleware, err := telemetry.MetricsMiddleware(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
		}
		if metricsMiddleware != nil {
			leading = append(leading, metricsMiddleware)
			slog.Info("HTTP metrics middleware enabled")
		}
	}
	b.middlewares = append(leading, b.middlewares...)

	// Built-in entries match exactly; reservedTenants keeps their names out of
	// the tenant namespace.
	publicPaths := append([]string{}, defaultPublicPaths...)
	if b.metricsHandler != nil {
		publicPaths = append(publicPaths, b.metricsPath)
	}
	if b.config.Auth != nil && len(b.config.Auth.PublicPaths) > 0 {
		publicPaths = append(publicPaths, b.config.Auth.PublicPaths...)
	}
	authMw := auth.WrapWithPublicPaths(b.authMiddleware, publicPaths)
	b.middlewares = append(b.middlewares, authMw)

	serverOpts := []api.ServerOption{api.WithMiddlewares(b.middlewares...)}
	if b.metricsHandler != nil {
		serverOpts = append(serverOpts, api.WithRoute(b.metricsPath, b.metricsHandler))
		slog.Info("Prometheus metrics endpoint enabled", "path", b.metricsPath)
	}
	router := api.NewServer(dispatcher, b.storeProvider, serverOpts...)

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadHeaderTimeout: b.readTimeout,
		ReadTimeout:       b.readTimeout,
		WriteTimeout:      b.writeTimeout,
		IdleTimeout:       b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}

// reservedTenants lists the first segments of the built-in unauthenticated
// routes, including a custom Prometheus path.
func reservedTenants(b *registryAppConfig) []string {
	reserved := slices.Clone(config.ReservedTenants)
	if b.metricsHandler != nil {
		first, _, _ := strings.Cut(strings.TrimPrefix(b.metricsPath, "/"), "/")
		if first != "" && !slices.Contains(reserved, first) {
			reserved = append(reserved, first)
		}
	}
	return reserved
}

// requestTimeouts applies the request timeout to every request except package
// pushes, which get the upload timeout and matching connection deadlines.
func requestTimeouts(request, upload time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		regular := middleware.Timeout(request)(next)
		push := middleware.Timeout(upload)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPut {
				regular.ServeHTTP(w, r)
				return
			}
			deadline := time.Now().Add(upload)
			rc := http.NewResponseController(w)
			if err := rc.SetReadDeadline(deadline); err != nil {
				slog.Debug("Cannot extend read deadline for upload", "error", err)
			}
			if err := rc.SetWriteDeadline(deadline); err != nil {
				slog.Debug("Cannot extend write deadline for upload", "error", err)
			}
			push.ServeHTTP(w, r)
		})
	}
}
