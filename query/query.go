// Package query answers text queries against an index handle: it embeds the
// query, searches the index and resolves the returned chunk ids against the
// document store.
//
// In hybrid mode the vector ranking is fused with a BM25 keyword ranking over
// the stored chunk text using reciprocal rank fusion.
package query

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/vecbench"
	"github.com/hupe1980/vecbench/docstore"
	"github.com/hupe1980/vecbench/embedding"
	"github.com/hupe1980/vecbench/index"
	"github.com/hupe1980/vecbench/lexical"
	"github.com/hupe1980/vecbench/lexical/bm25"
)

// MinVectorCandidates is the vector search depth of a hybrid query when
// top_k is smaller.
const MinVectorCandidates = 50

// Searcher is the part of an index handle the engine needs.
// *engine.Handle implements it.
type Searcher interface {
	Config() index.Config
	Search(ctx context.Context, query []float32, k int) ([]index.Result, error)
}

// Hit is one resolved search result.
type Hit struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Path       string  `json:"path,omitempty"`
	Score      float32 `json:"score"`
	Text       string  `json:"text"`
	Start      int     `json:"offset_start"`
	End        int     `json:"offset_end"`

	// RRFScore is the fused rank score of a hybrid query. Score stays the
	// vector similarity when the chunk was a vector candidate and falls
	// back to RRFScore for keyword-only hits.
	RRFScore float64 `json:"rrf_score,omitempty"`
}

// Options configures an Engine.
type Options struct {
	Logger *vecbench.Logger

	// WithPaths attaches the source document path to each hit.
	WithPaths bool

	// BM25K enables hybrid retrieval with this many keyword candidates.
	// Zero disables it.
	BM25K int
}

// Option configures an Engine.
type Option func(o *Options)

// WithLogger sets the logger.
func WithLogger(l *vecbench.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithDocumentPaths enables document path resolution.
func WithDocumentPaths(enabled bool) Option {
	return func(o *Options) { o.WithPaths = enabled }
}

// WithHybrid fuses the vector ranking with the best bm25K BM25 matches.
// The keyword index is built from the document store on the first query.
func WithHybrid(bm25K int) Option {
	return func(o *Options) { o.BM25K = bm25K }
}

// Engine orchestrates embed, search and chunk resolution.
type Engine struct {
	gateway *embedding.Gateway
	docs    docstore.Store
	opts    Options
	logger  *vecbench.Logger

	lexMu sync.Mutex
	lex   lexical.Index
}

// New creates an Engine.
func New(gateway *embedding.Gateway, docs docstore.Store, optFns ...Option) *Engine {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = vecbench.NoopLogger()
	}
	return &Engine{
		gateway: gateway,
		docs:    docs,
		opts:    opts,
		logger:  opts.Logger.WithComponent("query"),
	}
}

// Query returns at most topK hits for text, best first. Chunk ids the
// document store no longer knows are dropped with a warning. With
// WithHybrid the order is the fused rank, not the vector score.
func (e *Engine) Query(ctx context.Context, h Searcher, text string, topK int, model string) ([]Hit, error) {
	if topK <= 0 {
		return nil, vecbench.NewConfigError("top_k", fmt.Sprintf("must be positive, got %d", topK))
	}
	if err := e.gateway.CheckModel(model); err != nil {
		return nil, err
	}

	embs, err := e.gateway.Embed(ctx, []string{text}, model)
	if err != nil {
		return nil, err
	}
	q := embs[0].Values
	if dim := h.Config().Dim; len(q) != dim {
		return nil, &vecbench.DimensionMismatchError{Expected: dim, Actual: len(q)}
	}

	if e.opts.BM25K > 0 {
		return e.hybrid(ctx, h, text, q, topK)
	}

	results, err := h.Search(ctx, q, topK)
	if err != nil {
		return nil, err
	}
	ranked := make([]Hit, len(results))
	for i, r := range results {
		ranked[i] = Hit{ChunkID: r.ID, Score: r.Score}
	}
	return e.resolve(ctx, ranked)
}

func (e *Engine) hybrid(ctx context.Context, h Searcher, text string, q []float32, topK int) ([]Hit, error) {
	lex, err := e.lexicalIndex(ctx)
	if err != nil {
		return nil, err
	}

	results, err := h.Search(ctx, q, max(topK, MinVectorCandidates))
	if err != nil {
		return nil, err
	}
	keyword, err := lex.Search(text, e.opts.BM25K)
	if err != nil {
		return nil, fmt.Errorf("query: keyword search: %w", err)
	}

	vecIDs := make([]string, len(results))
	vecScores := make(map[string]float32, len(results))
	for i, r := range results {
		vecIDs[i] = r.ID
		vecScores[r.ID] = r.Score
	}
	kwIDs := make([]string, len(keyword))
	for i, c := range keyword {
		kwIDs[i] = c.ID
	}

	fused := lexical.Fuse(lexical.DefaultRRFK, topK, vecIDs, kwIDs)
	e.logger.DebugContext(ctx, "hybrid fusion",
		"vector_candidates", len(vecIDs), "keyword_candidates", len(kwIDs), "fused", len(fused))

	ranked := make([]Hit, len(fused))
	for i, f := range fused {
		score, ok := vecScores[f.ID]
		if !ok {
			score = float32(f.Score)
		}
		ranked[i] = Hit{ChunkID: f.ID, Score: score, RRFScore: f.Score}
	}
	return e.resolve(ctx, ranked)
}

func (e *Engine) lexicalIndex(ctx context.Context) (lexical.Index, error) {
	e.lexMu.Lock()
	defer e.lexMu.Unlock()
	if e.lex != nil {
		return e.lex, nil
	}

	chunks, err := docstore.AllChunks(ctx, e.docs)
	if err != nil {
		return nil, fmt.Errorf("query: load chunk text: %w", err)
	}
	idx := bm25.New()
	for _, c := range chunks {
		if err := idx.Add(c.ID, c.Text); err != nil {
			return nil, err
		}
	}
	e.lex = idx
	e.logger.DebugContext(ctx, "keyword index built", "chunks", idx.Len())
	return idx, nil
}

// resolve fills in chunk data for ranked hits that carry only ChunkID and
// scores, preserving order.
func (e *Engine) resolve(ctx context.Context, ranked []Hit) ([]Hit, error) {
	if len(ranked) == 0 {
		return []Hit{}, nil
	}

	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.ChunkID
	}
	chunks, err := e.docs.Chunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("query: resolve chunks: %w", err)
	}

	hits := make([]Hit, 0, len(ranked))
	for _, r := range ranked {
		c, ok := chunks[r.ChunkID]
		if !ok {
			e.logger.WarnContext(ctx, "dropping stale chunk id", "chunk_id", r.ChunkID, "score", r.Score)
			continue
		}
		r.DocumentID = c.DocumentID
		r.Text = c.Text
		r.Start = c.Start
		r.End = c.End
		hits = append(hits, r)
	}

	if e.opts.WithPaths {
		e.attachPaths(ctx, hits)
	}
	return hits, nil
}

func (e *Engine) attachPaths(ctx context.Context, hits []Hit) {
	paths := make(map[string]string)
	for i := range hits {
		id := hits[i].DocumentID
		p, ok := paths[id]
		if !ok {
			doc, err := e.docs.Document(ctx, id)
			if err != nil {
				e.logger.WarnContext(ctx, "document lookup failed", "doc_id", id, "error", err)
			}
			p = doc.Path
			paths[id] = p
		}
		hits[i].Path = p
	}
}
