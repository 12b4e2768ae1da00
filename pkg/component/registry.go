// Package component maps configured names to constructors, so filters and
// serializers can be chosen by name at startup.
package component

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

const logPrefix = "component:registry"

// ErrUnknownComponent is returned when no factory is registered for a name.
var ErrUnknownComponent = errors.New("unknown component")

// Factory builds a component from its properties.
type Factory[T any] func(props Props) (T, error)

// Registry holds named factories for one kind of component.
type Registry[T any] struct {
	kind      string
	mu        sync.RWMutex
	factories map[string]Factory[T]
}

// NewRegistry creates an empty registry. kind names the component type in
// error messages.
func NewRegistry[T any](kind string) *Registry[T] {
	return &Registry[T]{
		kind:      kind,
		factories: make(map[string]Factory[T]),
	}
}

// Register binds name to factory, replacing any earlier binding.
func (r *Registry[T]) Register(name string, factory Factory[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Has reports whether name is registered.
func (r *Registry[T]) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns the registered names in sorted order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the component registered under name.
func (r *Registry[T]) New(name string, props Props) (T, error) {
	var zero T

	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("%s - %w: %s %q (known: %v)", logPrefix, ErrUnknownComponent, r.kind, name, r.Names())
	}

	c, err := factory(props)
	if err != nil {
		return zero, fmt.Errorf("%s - failed to build %s %q: %w", logPrefix, r.kind, name, err)
	}
	return c, nil
}

// Build constructs each named component in order. Each one receives the
// subset of props prefixed with its name (see Props.Sub).
func (r *Registry[T]) Build(names []string, props Props) ([]T, error) {
	out := make([]T, 0, len(names))
	for _, name := range names {
		c, err := r.New(name, props.Sub(name))
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
