package registry

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/syncforge/pkg/connector/core"
	"github.com/ajitpratap0/syncforge/pkg/errors"
	"github.com/ajitpratap0/syncforge/pkg/logger"
)

// Registry manages connector registration and instantiation
type Registry struct {
	connectors map[string]Factory
	mu         sync.RWMutex
	logger     *zap.Logger
}

// Factory is a function that creates connector instances
type Factory func() core.Connector

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new connector registry
func NewRegistry() *Registry {
	return &Registry{
		connectors: make(map[string]Factory),
		logger:     logger.Get().With(zap.String("component", "connector_registry")),
	}
}

// Register registers a connector factory
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connectors[name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("connector %s already registered", name))
	}

	r.connectors[name] = factory
	r.logger.Info("connector registered", zap.String("name", name))
	return nil
}

// Create creates a connector instance by family name
func (r *Registry) Create(name string) (core.Connector, error) {
	r.mu.RLock()
	factory, exists := r.connectors[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("connector %s not found", name))
	}

	return factory(), nil
}

// List returns the registered connector family names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Exists reports whether a connector family is registered
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.connectors[name]
	return ok
}

// Register registers a connector factory in the global registry
func Register(name string, factory Factory) error {
	return globalRegistry.Register(name, factory)
}

// Create creates a connector instance from the global registry
func Create(name string) (core.Connector, error) {
	return globalRegistry.Create(name)
}

// List returns connector family names from the global registry
func List() []string {
	return globalRegistry.List()
}

// Exists reports whether a connector family is registered globally
func Exists(name string) bool {
	return globalRegistry.Exists(name)
}
