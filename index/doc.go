// Package index defines the capability set shared by every index backend,
// the immutable index configuration and the backend registry.
//
// Backends live in the subpackages flat, ivf, hnsw and pq; backends.NewRegistry
// returns a Registry with all of them registered. New variants register a
// Factory with Registry.Register, which is the sole extension point.
//
// An Index is not safe for concurrent mutation. Concurrent Search calls are
// safe as long as no Build or Add runs at the same time; engine.Handle
// provides that exclusion.
package index
