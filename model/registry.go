package model

import (
	"fmt"
	"sync"
)

// Registry keeps named protocol definitions so that `do` interactions can be
// resolved during CFG construction. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	protocols map[string]*Protocol
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{protocols: make(map[string]*Protocol)}
}

// Register adds or replaces a protocol definition.
func (r *Registry) Register(p *Protocol) error {
	if p == nil || p.Name == "" {
		return fmt.Errorf("cannot register unnamed protocol")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.protocols[p.Name] = p
	return nil
}

// Lookup returns the protocol registered under name.
func (r *Registry) Lookup(name string) (*Protocol, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.protocols[name]
	return p, ok
}

// Names returns the registered protocol names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.protocols))
	for name := range r.protocols {
		names = append(names, name)
	}
	return names
}
