// Package embedding turns text into vectors through a pluggable Provider.
//
// The Gateway sits in front of a Provider and owns everything the pipeline
// needs around the raw call:
//
//   - an allow-list of model ids, checked before any provider call
//   - batching up to a maximum batch size
//   - a bounded number of concurrent batches (backpressure)
//   - bounded retries with exponential backoff on transient failures
//   - dimensionality validation across the whole call (no partial success)
//   - an LRU cache keyed by (sha256(text), model)
//
// Two providers ship with the package: OpenAIProvider for OpenAI-compatible
// embedding APIs and HashProvider, a deterministic offline feature-hashing
// embedder used by tests, benchmarks and air-gapped setups.
package embedding
