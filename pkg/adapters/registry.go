// Package adapters implements the per-kind capability adapters that
// connect the engine to package managers, the filesystem, systemd, user
// administration, and database servers.
package adapters

import (
	"fmt"
	"sort"
	"sync"

	"github.com/convergekit/converge/pkg/engine"
	"github.com/convergekit/converge/pkg/transports"
)

// Registry maps resource kinds to adapters. It implements
// engine.AdapterRegistry.
type Registry struct {
	mu       sync.RWMutex
	adapters map[engine.Kind]engine.Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[engine.Kind]engine.Adapter),
	}
}

// Register adds an adapter. Registering a kind twice is an error.
func (r *Registry) Register(adapter engine.Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := adapter.Kind()
	if _, exists := r.adapters[kind]; exists {
		return fmt.Errorf("adapter already registered for kind %q", kind)
	}
	r.adapters[kind] = adapter
	return nil
}

// Get returns the adapter for a kind.
func (r *Registry) Get(kind engine.Kind) (engine.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for kind %q", kind)
	}
	return adapter, nil
}

// Kinds lists the registered kinds in lexical order.
func (r *Registry) Kinds() []engine.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]engine.Kind, 0, len(r.adapters))
	for k := range r.adapters {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// DefaultOptions configures the standard adapter set.
type DefaultOptions struct {
	// PackageManager forces a package manager instead of auto-detection.
	PackageManager string

	// DatabaseDSN is the administrative DSN for the dbobject adapter.
	// Empty leaves the dbobject kind unregistered.
	DatabaseDSN string
}

// NewDefaultRegistry builds a registry with the standard adapters over
// the given transport.
func NewDefaultRegistry(transport transports.Transport, opts DefaultOptions) (*Registry, error) {
	registry := NewRegistry()

	for _, adapter := range []engine.Adapter{
		NewPackageAdapter(transport, opts.PackageManager),
		NewFileAdapter(transport),
		NewServiceAdapter(transport),
		NewUserAdapter(transport),
	} {
		if err := registry.Register(adapter); err != nil {
			return nil, err
		}
	}

	if opts.DatabaseDSN != "" {
		db, err := NewDBObjectAdapter(opts.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(db); err != nil {
			return nil, err
		}
	}

	return registry, nil
}
