package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Mode selects how tenants map onto store directories.
type Mode string

const (
	// ModeShared serves every tenant from the same store.
	ModeShared Mode = "shared"
	// ModePerTenant gives each tenant its own store under <root>/<tenant>.
	ModePerTenant Mode = "per-tenant"
)

// Resolver returns the store serving a tenant.
type Resolver interface {
	ForTenant(tenant string) (PackageStore, error)
}

// Provider resolves stores per tenant, creating them lazily and caching them.
type Provider struct {
	root string
	mode Mode

	mu     sync.Mutex
	stores map[string]*Store
}

var _ Resolver = (*Provider)(nil)

// NewProvider creates a provider over root. An empty mode means ModeShared.
func NewProvider(root string, mode Mode) (*Provider, error) {
	if mode == "" {
		mode = ModeShared
	}
	if mode != ModeShared && mode != ModePerTenant {
		return nil, fmt.Errorf("unknown storage mode %q", mode)
	}

	p := &Provider{
		root:   root,
		mode:   mode,
		stores: map[string]*Store{},
	}

	// Fail fast on an unusable root.
	if mode == ModeShared {
		if _, err := p.store(""); err != nil {
			return nil, err
		}
	} else if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create package root: %w", err)
	}
	return p, nil
}

// CheckReadiness reports whether the package root is still a usable directory.
func (p *Provider) CheckReadiness(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(p.root)
	if err != nil {
		return fmt.Errorf("package root unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("package root %s is not a directory", p.root)
	}
	return nil
}

// ForTenant returns the store for tenant.
func (p *Provider) ForTenant(tenant string) (PackageStore, error) {
	return p.store(tenant)
}

func (p *Provider) store(tenant string) (*Store, error) {
	key := ""
	if p.mode == ModePerTenant {
		normalized, err := normalize(tenant)
		if err != nil {
			return nil, err
		}
		key = normalized
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.stores[key]; ok {
		return s, nil
	}

	root := p.root
	if key != "" {
		root = filepath.Join(p.root, key)
	}
	s, err := NewStore(root)
	if err != nil {
		return nil, err
	}
	p.stores[key] = s
	return s, nil
}
