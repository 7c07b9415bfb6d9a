package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/openkql/kqlgate/pkg/backends"
	"github.com/openkql/kqlgate/pkg/connstr"
)

// Builder constructs a bound engine from a raw connection string. The current
// spec, when non-nil, is the credential-inheritance source. Construction is
// atomic: a partially-valid engine is never returned.
type Builder interface {
	Kind() backends.BackendType
	New(ctx context.Context, raw string, current *connstr.ConnectionSpec, deps Deps) (Engine, error)
}

// Registry manages the registration and retrieval of engine builders.
type Registry struct {
	builders map[backends.BackendType]Builder
	mu       sync.RWMutex
}

// NewRegistry creates a new builder registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[backends.BackendType]Builder)}
}

// Register registers an engine builder. A builder registered for the same
// backend type replaces the previous one.
func (r *Registry) Register(builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[builder.Kind()] = builder
}

// Get retrieves a registered builder by backend type.
func (r *Registry) Get(kind backends.BackendType) (Builder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	builder, exists := r.builders[kind]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrBuilderNotFound, kind)
	}
	return builder, nil
}

// IsRegistered checks if a builder is registered for the backend type.
func (r *Registry) IsRegistered(kind backends.BackendType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.builders[kind]
	return exists
}

// ListRegistered returns all registered backend types in the canonical order.
func (r *Registry) ListRegistered() []backends.BackendType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var kinds []backends.BackendType
	for _, kind := range backends.IDs() {
		if _, ok := r.builders[kind]; ok {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// globalRegistry is the default builder registry; backend packages register
// themselves into it at init time.
var globalRegistry = NewRegistry()

// Register registers a builder in the global registry.
func Register(builder Builder) {
	globalRegistry.Register(builder)
}

// Get retrieves a builder from the global registry.
func Get(kind backends.BackendType) (Builder, error) {
	return globalRegistry.Get(kind)
}

// GlobalRegistry returns the global builder registry.
func GlobalRegistry() *Registry {
	return globalRegistry
}
