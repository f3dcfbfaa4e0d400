package executors

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry maps node type names to executors. It is safe for concurrent use,
// though mutation is expected only between runs.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	logger    *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		executors: make(map[string]Executor),
		logger:    logger,
	}
}

// Register stores an executor under nodeType. An existing registration is
// replaced and a warning is logged; the last registration wins.
func (r *Registry) Register(nodeType string, ex Executor) {
	if ex == nil || nodeType == "" {
		r.logger.Warn("ignoring invalid executor registration", "node_type", nodeType)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[nodeType]; exists {
		r.logger.Warn("executor already registered, overwriting", "node_type", nodeType)
	}
	r.executors[nodeType] = ex
}

// Get retrieves the executor for nodeType.
func (r *Registry) Get(nodeType string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ex, ok := r.executors[nodeType]
	return ex, ok
}

// Clear removes every registration.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors = make(map[string]Executor)
}

// List returns the definitions of all registered node types, sorted by type.
// The Type field reflects the registration key.
func (r *Registry) List() []NodeDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]NodeDefinition, 0, len(r.executors))
	for nodeType, ex := range r.executors {
		def := ex.Definition()
		def.Type = nodeType
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Type < defs[j].Type
	})
	return defs
}

// Has checks if a node type is registered.
func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[nodeType]
	return ok
}

// Count returns the number of registered node types.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors)
}
