package hooks

import (
	"fmt"
	"sort"
	"sync"
)

// PluginFactory installs hooks into the broker.
type PluginFactory func(broker *PluginBroker) error

type registryEntry struct {
	desc    PluginDescriptor
	factory PluginFactory
}

// Registry keeps plugin factories that can be activated via configuration.
type Registry struct {
	mu      sync.RWMutex
	broker  *PluginBroker
	entries map[string]registryEntry
	loaded  map[string]bool
}

// NewRegistry creates an empty plugin registry bound to a broker.
func NewRegistry(broker *PluginBroker) *Registry {
	if broker == nil {
		broker = NewPluginBroker()
	}
	return &Registry{
		broker:  broker,
		entries: make(map[string]registryEntry),
		loaded:  make(map[string]bool),
	}
}

// Broker returns the underlying broker associated with the registry.
func (r *Registry) Broker() *PluginBroker {
	if r == nil {
		return nil
	}
	return r.broker
}

// Register registers a plugin factory under name.
func (r *Registry) Register(name string, desc PluginDescriptor, factory PluginFactory) error {
	if r == nil {
		return fmt.Errorf("registry is nil")
	}
	if name == "" {
		return fmt.Errorf("plugin name cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("plugin factory cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("plugin already registered: %s", name)
	}
	r.entries[name] = registryEntry{desc: desc, factory: factory}
	return nil
}

// Load activates the requested plugins once each.
func (r *Registry) Load(names []string) error {
	if r == nil {
		return fmt.Errorf("registry is nil")
	}
	for _, name := range names {
		r.mu.Lock()
		entry, ok := r.entries[name]
		already := r.loaded[name]
		if ok && !already {
			r.loaded[name] = true
		}
		r.mu.Unlock()
		if !ok {
			return fmt.Errorf("plugin not found: %s", name)
		}
		if already {
			continue
		}
		if err := entry.factory(r.broker); err != nil {
			return fmt.Errorf("plugin %s failed: %w", name, err)
		}
		r.broker.RegisterPluginMetadata(entry.desc)
	}
	return nil
}

// Descriptor returns metadata registered under the provided name.
func (r *Registry) Descriptor(name string) (PluginDescriptor, bool) {
	if r == nil {
		return PluginDescriptor{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	return entry.desc, ok
}

// Names lists registered plugin names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
