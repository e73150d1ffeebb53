package index

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/hupe1980/vecbench"
	"github.com/hupe1980/vecbench/distance"
)

// Factory constructs an empty backend for cfg. Factories validate
// backend-specific params and return a vecbench.ConfigError for bad values.
type Factory func(cfg Config) (Index, error)

// Constructor builds an empty backend with params already bound.
type Constructor func(dim int, metric distance.Metric) (Index, error)

// Registry maps backend kinds to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[Kind]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Kind]Factory)}
}

// Register adds a backend variant. Registering a kind twice is an error.
func (r *Registry) Register(kind Kind, f Factory) error {
	if kind == "" || f == nil {
		return fmt.Errorf("index: register: kind and factory are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[kind]; ok {
		return fmt.Errorf("index: backend %q already registered", kind)
	}
	r.factories[kind] = f
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(kind Kind, f Factory) {
	if err := r.Register(kind, f); err != nil {
		panic(err)
	}
}

// Resolve returns a constructor for kind with params bound.
// It fails with vecbench.UnknownBackendError for unregistered kinds.
func (r *Registry) Resolve(kind Kind, params Params) (Constructor, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, &vecbench.UnknownBackendError{Kind: string(kind)}
	}

	params = maps.Clone(params)
	return func(dim int, metric distance.Metric) (Index, error) {
		cfg := Config{Kind: kind, Dim: dim, Metric: metric, Params: maps.Clone(params)}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return f(cfg)
	}, nil
}

// New validates cfg and constructs an empty backend.
func (r *Registry) New(cfg Config) (Index, error) {
	ctor, err := r.Resolve(cfg.Kind, cfg.Params)
	if err != nil {
		return nil, err
	}
	return ctor(cfg.Dim, cfg.Metric)
}

// Check validates cfg by constructing and discarding an empty backend.
func (r *Registry) Check(cfg Config) error {
	_, err := r.New(cfg)
	return err
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}
