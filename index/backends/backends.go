// Package backends wires every built-in index backend into a registry.
package backends

import (
	"github.com/hupe1980/vecbench/index"
	"github.com/hupe1980/vecbench/index/flat"
	"github.com/hupe1980/vecbench/index/hnsw"
	"github.com/hupe1980/vecbench/index/ivf"
	"github.com/hupe1980/vecbench/index/pq"
)

// Register adds the flat, ivf, hnsw and pq backends to r.
func Register(r *index.Registry) error {
	for _, register := range []func(*index.Registry) error{
		flat.Register,
		ivf.Register,
		hnsw.Register,
		pq.Register,
	} {
		if err := register(r); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding all built-in backends.
func NewRegistry() *index.Registry {
	r := index.NewRegistry()
	if err := Register(r); err != nil {
		panic(err)
	}
	return r
}
