package events

import (
	"fmt"
	"slices"
	"sync"
)

// Registry keeps declared types by name.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*Type
	order []*Type
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		types: make(map[string]*Type),
	}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the registry used by the package-level Declare.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Declare introduces a new type: it linearizes the ancestor chain, builds the
// handler table from the directly declared members and registers the type
// under name. Returns error if:
//   - name is empty or already declared in this registry
//   - a base is nil
//   - the bases cannot be linearized into one ancestor chain
func (r *Registry) Declare(name string, opts ...DeclareOption) (*Type, error) {
	r.mu.RLock()
	_, exists := r.types[name]
	r.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateType, name)
	}

	t, err := newType(name, opts...)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[name]; exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateType, name)
	}
	r.types[name] = t
	r.order = append(r.order, t)
	return t, nil
}

// MustDeclare is like Declare but panics on error. It is meant for
// package-level type declarations.
func (r *Registry) MustDeclare(name string, opts ...DeclareOption) *Type {
	t, err := r.Declare(name, opts...)
	if err != nil {
		panic("events: " + err.Error())
	}
	return t
}

// Lookup returns the type declared under name, or nil.
func (r *Registry) Lookup(name string) *Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[name]
}

// Types returns the declared types in declaration order.
func (r *Registry) Types() []*Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Declare declares a type in the default registry.
func Declare(name string, opts ...DeclareOption) (*Type, error) {
	return defaultRegistry.Declare(name, opts...)
}

// MustDeclare declares a type in the default registry and panics on error.
func MustDeclare(name string, opts ...DeclareOption) *Type {
	return defaultRegistry.MustDeclare(name, opts...)
}

// Lookup returns a type of the default registry by name, or nil.
func Lookup(name string) *Type {
	return defaultRegistry.Lookup(name)
}

// Types returns the types of the default registry in declaration order.
func Types() []*Type {
	return defaultRegistry.Types()
}
