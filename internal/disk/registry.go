package disk

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"diskbrowser/pkg/types"
)

// Registry maps disk names to adapters. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	disks map[string]Adapter
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{disks: make(map[string]Adapter)}
}

// Register adds an adapter under name, replacing nothing
func (r *Registry) Register(name string, adapter Adapter) error {
	if name == "" {
		return fmt.Errorf("disk name cannot be empty")
	}
	if adapter == nil {
		return fmt.Errorf("disk %s: adapter is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.disks[name]; exists {
		return fmt.Errorf("disk already registered: %s", name)
	}
	r.disks[name] = adapter
	return nil
}

// Disk returns the adapter registered under name
func (r *Registry) Disk(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.disks[name]
	if !ok {
		return nil, fmt.Errorf("disk %q: %w", name, types.ErrUnknownDisk)
	}
	return adapter, nil
}

// Names returns the registered disk names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.disks))
	for name := range r.disks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every adapter that holds resources
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, adapter := range r.disks {
		if c, ok := adapter.(Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close disk %s: %w", name, err))
			}
		}
	}
	r.disks = make(map[string]Adapter)
	return errors.Join(errs...)
}
