// Package registry manages the named callable bindings a workflow
// template references. Bindings are resolved once at compile time; an
// unresolved reference fails compilation, never a running workflow.
package registry

import (
	"sync"

	"github.com/loomlab/loom/pkg/domain"
)

// Registry holds the externally supplied callables and output transforms
// available to function nodes and prompt nodes.
type Registry struct {
	mu         sync.RWMutex
	callables  map[string]domain.Callable
	transforms map[string]domain.TransformFunc
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		callables:  make(map[string]domain.Callable),
		transforms: make(map[string]domain.TransformFunc),
	}
}

// Register adds a callable under name. An existing binding is overwritten.
func (r *Registry) Register(name string, fn domain.Callable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callables[name] = fn
}

// RegisterTransform adds an output transform under name.
func (r *Registry) RegisterTransform(name string, fn domain.TransformFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transforms[name] = fn
}

// Callable looks up a callable by name.
func (r *Registry) Callable(name string) (domain.Callable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.callables[name]
	return fn, ok
}

// Transform looks up an output transform by name.
func (r *Registry) Transform(name string) (domain.TransformFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.transforms[name]
	return fn, ok
}
