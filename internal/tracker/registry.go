package tracker

import (
	"fmt"
	"sort"
	"sync"
)

// TargetFactory builds a Target for a connection.
type TargetFactory func(conn Connection) (DirectoryTarget, error)

// Registry manages registered target adapters.
// Adapters register themselves at init time, and the registry
// provides access to them by name.
type Registry struct {
	mu      sync.RWMutex
	targets map[string]TargetFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{targets: make(map[string]TargetFactory)}
}

// globalRegistry is the default registry used by Register and Get.
var globalRegistry = NewRegistry()

// Register adds a target factory to the global registry.
// The name should be lowercase (e.g., "azuredevops").
func Register(name string, factory TargetFactory) {
	globalRegistry.Register(name, factory)
}

// Get retrieves a target factory from the global registry.
// Returns nil if no target with that name is registered.
func Get(name string) TargetFactory {
	return globalRegistry.Get(name)
}

// List returns the names of all registered targets.
func List() []string {
	return globalRegistry.List()
}

// NewTarget creates a connected instance of the named target.
func NewTarget(name string, conn Connection) (DirectoryTarget, error) {
	return globalRegistry.NewTarget(name, conn)
}

// Register adds a target factory to this registry.
func (r *Registry) Register(name string, factory TargetFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[name] = factory
}

// Get retrieves a target factory from this registry.
func (r *Registry) Get(name string) TargetFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.targets[name]
}

// List returns the names of all registered targets, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.targets))
	for name := range r.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewTarget creates a connected instance of the named target.
func (r *Registry) NewTarget(name string, conn Connection) (DirectoryTarget, error) {
	factory := r.Get(name)
	if factory == nil {
		return nil, fmt.Errorf("unknown target %q (available: %v)", name, r.List())
	}
	return factory(conn)
}
