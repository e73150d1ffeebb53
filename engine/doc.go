// Package engine owns the lifecycle of a built index: build, incremental
// add, search, rebuild, persist and load.
//
// # Concurrency
//
// A Handle publishes its current index as an immutable generation through
// an atomic pointer. Rebuild constructs a fresh index off to the side and
// swaps the pointer when it is complete, so searches that started before
// the swap finish against the old generation and searches that start after
// it see the new one. Add mutates the current generation in place and
// takes that generation's write lock, which waits for in-flight searches on
// it and blocks new ones until the insert is done. Persist holds the read
// lock, so it runs alongside searches but not alongside Add.
//
// # Persistence
//
// A persisted index is one blob: the persistence envelope wrapping the
// JSON-encoded index.Config, the vector count and the backend payload.
// Publish additionally records the blob as the next version of a named
// index in a catalog.Catalog.
package engine
