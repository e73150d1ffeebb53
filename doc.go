// Package vecbench is the root of a vector indexing and retrieval toolkit.
//
// Documents are split into overlapping chunks, embedded through a batching,
// caching gateway and organized into one of several interchangeable index
// backends (flat, ivf, hnsw, pq). Built indexes are persisted as single blobs
// and answer nearest-neighbor queries. A benchmark runner drives repeated
// build/query cycles across backend configurations and reports latency,
// recall and memory.
//
// # Quick Start
//
//	ctx := context.Background()
//
//	gw, _ := embedding.NewGateway(embedding.NewHashProvider(384))
//	chunks, _ := chunker.Fixed("doc-1", text, 1000, 150)
//	all := slices.Collect(chunks)
//	vecs, _ := gw.EmbedChunks(ctx, all, embedding.HashModel)
//
//	docs := docstore.NewMemoryStore()
//	_ = docs.Put(ctx, docstore.Document{ID: "doc-1"}, all)
//
//	h, _ := engine.Build(ctx, backends.NewRegistry(), index.Config{
//	    Kind:   index.KindHNSW,
//	    Dim:    384,
//	    Metric: distance.MetricCosine,
//	}, vecs)
//
//	q := query.New(gw, docs)
//	hits, _ := q.Query(ctx, h, "how do I rotate keys?", 5, embedding.HashModel)
//
// # Packages
//
//   - chunker: fixed-window, sentence and heading chunking
//   - embedding: provider gateway with batching, backpressure, retries and an LRU cache
//   - index: capability set, configuration and backend registry
//   - index/flat, index/ivf, index/hnsw, index/pq: backend variants
//   - engine: index handle lifecycle (build, add, search, rebuild, persist, load)
//   - persistence: single-blob index envelope with checksum and optional compression
//   - blobstore: local, memory, S3 and MinIO blob stores
//   - catalog: versioned index catalog (bbolt, DynamoDB)
//   - query: embed → search → resolve pipeline, optional BM25 hybrid fusion
//   - lexical, lexical/bm25: keyword index over chunk text and rank fusion
//   - benchmark: backend grid runner and golden-set evaluation
//   - docstore, ingest: document and chunk records, directory ingestion
//   - config, cmd/vecbench: YAML configuration and the command line
//
// # Errors
//
// Every error returned by the toolkit can be classified with errors.Is against
// ErrConfig, ErrEmbedding, ErrUnsupportedOperation, ErrUnknownBackend and
// ErrCorruptIndex. The typed variants (ConfigError, EmbeddingError, ...) carry
// the details and are available through errors.As.
package vecbench
