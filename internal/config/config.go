// Package config provides configuration loading and management for the registry server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/nuget-registry-server/internal/telemetry"
)

// Storage modes
const (
	// StorageModeShared serves every tenant from the same package tree
	StorageModeShared = "shared"
	// StorageModePerTenant gives each tenant its own package tree
	StorageModePerTenant = "per-tenant"
)

// AuthMode selects how protocol requests are authenticated.
type AuthMode string

const (
	// AuthModeAnonymous performs no credential check
	AuthModeAnonymous AuthMode = "anonymous"
	// AuthModeBasic checks HTTP Basic credentials against configured users
	AuthModeBasic AuthMode = "basic"
	// AuthModeAPIKey checks the X-NuGet-ApiKey header against configured keys
	AuthModeAPIKey AuthMode = "apikey"
)

// Defaults applied by the Get* accessors.
const (
	DefaultAddress        = ":5000"
	DefaultPackagesPath   = "./packages"
	DefaultMaxUploadBytes = 250 << 20
	DefaultMaxSearchTake  = 1000
	DefaultRealm          = "nuget-registry"

	// EnvPrefix is the prefix of every environment variable read by the server
	EnvPrefix = "NUGET_REGISTRY"

	// APIKeyEnvVar holds an additional API key, used when no key is configured in the file
	APIKeyEnvVar = EnvPrefix + "_API_KEY"
)

// ReservedTenants are the first segments of the built-in unauthenticated
// routes. None of them may be used as a tenant prefix.
var ReservedTenants = []string{"health", "readiness", "version", "metrics"}

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// EvalSymlinks also cleans the path.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}
		if !filepath.IsAbs(realPath) && !filepath.IsLocal(realPath) {
			return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Tenants   TenantsConfig     `yaml:"tenants"`
	Storage   StorageConfig     `yaml:"storage"`
	Upstream  UpstreamConfig    `yaml:"upstream,omitempty"`
	Auth      *AuthConfig       `yaml:"auth,omitempty"`
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// ServerConfig defines the listener and the public address advertised in
// protocol documents
type ServerConfig struct {
	// Address is the listen address, e.g. ":5000"
	Address string `yaml:"address,omitempty"`

	// PublicScheme is "http" or "https"
	PublicScheme string `yaml:"publicScheme,omitempty"`

	// PublicHost is the host clients reach the registry at
	PublicHost string `yaml:"publicHost"`

	// PublicPort is omitted from URLs when it is the scheme default
	PublicPort int `yaml:"publicPort,omitempty"`

	// RequestTimeout bounds handler time. ReadTimeout bounds reading the
	// request headers and body. Both apply to every request except pushes.
	RequestTimeout string `yaml:"requestTimeout,omitempty"`
	ReadTimeout    string `yaml:"readTimeout,omitempty"`
	WriteTimeout   string `yaml:"writeTimeout,omitempty"`
	IdleTimeout    string `yaml:"idleTimeout,omitempty"`

	// UploadTimeout replaces the request, read and write timeouts for
	// package pushes, whose bodies may be up to storage.maxUploadBytes.
	UploadTimeout string `yaml:"uploadTimeout,omitempty"`
}

// TenantsConfig defines which first path segments are accepted as tenants.
// Prefixes and Pattern are alternatives; a tenant passes when it matches either.
type TenantsConfig struct {
	Prefixes []string `yaml:"prefixes,omitempty"`
	Pattern  string   `yaml:"pattern,omitempty"`
}

// StorageConfig defines where packages are stored
type StorageConfig struct {
	PackagesPath   string `yaml:"packagesPath,omitempty"`
	Mode           string `yaml:"mode,omitempty"`
	MaxUploadBytes int64  `yaml:"maxUploadBytes,omitempty"`
	MaxSearchTake  int    `yaml:"maxSearchTake,omitempty"`
}

// UpstreamConfig defines where dependencies missing locally are linked to
type UpstreamConfig struct {
	// RegistrationTemplate contains {id}, replaced by the lowercase package id
	RegistrationTemplate string `yaml:"registrationTemplate,omitempty"`
}

// AuthConfig defines how protocol requests are authenticated
type AuthConfig struct {
	Mode AuthMode `yaml:"mode"`

	// Realm is announced in WWW-Authenticate challenges
	Realm string `yaml:"realm,omitempty"`

	// Users are checked in basic mode
	Users []UserConfig `yaml:"users,omitempty"`

	// APIKeys are accepted in apikey mode
	APIKeys []string `yaml:"apiKeys,omitempty"`

	// APIKeysFile lists one key per line; blank lines and lines starting with # are ignored
	APIKeysFile string `yaml:"apiKeysFile,omitempty"`

	// PublicPaths bypass authentication in addition to the built-in ones.
	// An entry matches exactly unless it ends in "/*", which covers its subtree.
	PublicPaths []string `yaml:"publicPaths,omitempty"`
}

// UserConfig is one basic-auth user
type UserConfig struct {
	Username string `yaml:"username"`

	// PasswordFile contains only the password, with optional trailing whitespace
	PasswordFile string `yaml:"passwordFile,omitempty"`
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}
	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return config, nil
}

// Parse parses and validates configuration from YAML bytes
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

// Save writes the configuration as YAML, replacing path atomically
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	var errs []error
	if err := c.Server.validate(); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}
	if err := c.Tenants.validate(); err != nil {
		errs = append(errs, fmt.Errorf("tenants: %w", err))
	}
	if err := c.Storage.validate(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}
	if t := c.Upstream.RegistrationTemplate; t != "" && !strings.Contains(t, "{id}") {
		errs = append(errs, fmt.Errorf("upstream: registrationTemplate must contain {id}"))
	}
	if err := c.Auth.validate(); err != nil {
		errs = append(errs, fmt.Errorf("auth: %w", err))
	}
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	return errors.Join(errs...)
}

func (s *ServerConfig) validate() error {
	if s.PublicHost == "" {
		return fmt.Errorf("publicHost is required")
	}
	if s.PublicScheme != "" && s.PublicScheme != "http" && s.PublicScheme != "https" {
		return fmt.Errorf("publicScheme must be http or https, got %q", s.PublicScheme)
	}
	if s.PublicPort < 0 || s.PublicPort > 65535 {
		return fmt.Errorf("publicPort out of range: %d", s.PublicPort)
	}
	for name, d := range map[string]string{
		"requestTimeout": s.RequestTimeout,
		"readTimeout":    s.ReadTimeout,
		"writeTimeout":   s.WriteTimeout,
		"idleTimeout":    s.IdleTimeout,
		"uploadTimeout":  s.UploadTimeout,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("%s must be a valid duration: %w", name, err)
		}
	}
	return nil
}

func (t *TenantsConfig) validate() error {
	if len(t.Prefixes) == 0 && t.Pattern == "" {
		return fmt.Errorf("at least one prefix or a pattern is required")
	}
	for i, p := range t.Prefixes {
		if p == "" || strings.ContainsAny(p, "/ \t") {
			return fmt.Errorf("prefixes[%d]: invalid tenant prefix %q", i, p)
		}
		if slices.Contains(ReservedTenants, p) {
			return fmt.Errorf("prefixes[%d]: tenant prefix %q is reserved", i, p)
		}
	}
	if t.Pattern != "" {
		if _, err := regexp.Compile(t.Pattern); err != nil {
			return fmt.Errorf("pattern: %w", err)
		}
	}
	return nil
}

func (s *StorageConfig) validate() error {
	switch s.Mode {
	case "", StorageModeShared, StorageModePerTenant:
	default:
		return fmt.Errorf("mode must be %s or %s, got %q", StorageModeShared, StorageModePerTenant, s.Mode)
	}
	if s.MaxUploadBytes < 0 {
		return fmt.Errorf("maxUploadBytes cannot be negative")
	}
	if s.MaxSearchTake < 0 {
		return fmt.Errorf("maxSearchTake cannot be negative")
	}
	return nil
}

func (a *AuthConfig) validate() error {
	if a == nil {
		return nil
	}
	switch a.Mode {
	case "", AuthModeAnonymous:
	case AuthModeBasic:
		if len(a.Users) == 0 {
			return fmt.Errorf("basic mode requires at least one user")
		}
		seen := map[string]bool{}
		for i, u := range a.Users {
			if u.Username == "" || strings.Contains(u.Username, ":") {
				return fmt.Errorf("users[%d]: invalid username %q", i, u.Username)
			}
			if seen[u.Username] {
				return fmt.Errorf("users[%d]: duplicate username %q", i, u.Username)
			}
			seen[u.Username] = true
		}
	case AuthModeAPIKey:
		if len(a.APIKeys) == 0 && a.APIKeysFile == "" && os.Getenv(APIKeyEnvVar) == "" {
			return fmt.Errorf("apikey mode requires apiKeys, apiKeysFile or %s", APIKeyEnvVar)
		}
	default:
		return fmt.Errorf("unsupported auth mode: %s", a.Mode)
	}
	return nil
}

// GetAddress returns the listen address
func (s *ServerConfig) GetAddress() string {
	if s.Address == "" {
		return DefaultAddress
	}
	return s.Address
}

// GetPublicScheme returns the advertised scheme
func (s *ServerConfig) GetPublicScheme() string {
	if s.PublicScheme == "" {
		return "http"
	}
	return s.PublicScheme
}

// GetDuration parses one of the timeout fields, returning def when it is unset
func GetDuration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

// GetPackagesPath returns the package tree root
func (s *StorageConfig) GetPackagesPath() string {
	if s.PackagesPath == "" {
		return DefaultPackagesPath
	}
	return s.PackagesPath
}

// GetMode returns the storage mode
func (s *StorageConfig) GetMode() string {
	if s.Mode == "" {
		return StorageModeShared
	}
	return s.Mode
}

// GetMaxUploadBytes returns the upload size limit
func (s *StorageConfig) GetMaxUploadBytes() int64 {
	if s.MaxUploadBytes == 0 {
		return DefaultMaxUploadBytes
	}
	return s.MaxUploadBytes
}

// GetMaxSearchTake returns the largest take a search may request
func (s *StorageConfig) GetMaxSearchTake() int {
	if s.MaxSearchTake == 0 {
		return DefaultMaxSearchTake
	}
	return s.MaxSearchTake
}

// GetRealm returns the authentication realm
func (a *AuthConfig) GetRealm() string {
	if a.Realm == "" {
		return DefaultRealm
	}
	return a.Realm
}

// GetPassword reads the user's password from PasswordFile, falling back to
// the NUGET_REGISTRY_PASSWORD_<USERNAME> environment variable.
func (u *UserConfig) GetPassword() (string, error) {
	if u.PasswordFile != "" {
		data, err := os.ReadFile(filepath.Clean(u.PasswordFile))
		if err != nil {
			return "", fmt.Errorf("failed to read password file for user %s: %w", u.Username, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	env := EnvPrefix + "_PASSWORD_" + envSuffix(u.Username)
	if p := os.Getenv(env); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("no password configured for user %s: set passwordFile or %s", u.Username, env)
}

// GetAPIKeys returns every accepted API key: the inline list, the keys file
// and the NUGET_REGISTRY_API_KEY environment variable.
func (a *AuthConfig) GetAPIKeys() ([]string, error) {
	keys := append([]string{}, a.APIKeys...)

	if a.APIKeysFile != "" {
		data, err := os.ReadFile(filepath.Clean(a.APIKeysFile))
		if err != nil {
			return nil, fmt.Errorf("failed to read API keys file: %w", err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			keys = append(keys, line)
		}
	}

	if k := os.Getenv(APIKeyEnvVar); k != "" {
		keys = append(keys, k)
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("no API keys configured")
	}
	return keys, nil
}

func envSuffix(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}
