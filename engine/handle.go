package engine

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/vecbench/index"
)

type generation struct {
	mu sync.RWMutex

	idx       index.Index
	seq       uint64
	builtAt   time.Time
	buildTime time.Duration
	source    string
}

// Handle owns one index instance and serializes its mutations.
type Handle struct {
	cfg  index.Config
	ctor index.Constructor
	opts Options

	current atomic.Pointer[generation]
	writeMu sync.Mutex
}

// Info describes the current generation of a Handle.
type Info struct {
	Config        index.Config  `json:"config"`
	VectorCount   int           `json:"vector_count"`
	MemoryBytes   int64         `json:"memory_bytes"`
	Generation    uint64        `json:"generation"`
	BuiltAt       time.Time     `json:"built_at"`
	BuildDuration time.Duration `json:"build_duration"`
	// Source is the blob the generation was loaded from, if any.
	Source string `json:"source,omitempty"`
}

// New creates a Handle with an empty index. Configuration errors surface
// here before any vectors are processed.
func New(reg *index.Registry, cfg index.Config, optFns ...Option) (*Handle, error) {
	ctor, err := reg.Resolve(cfg.Kind, cfg.Params)
	if err != nil {
		return nil, err
	}
	idx, err := ctor(cfg.Dim, cfg.Metric)
	if err != nil {
		return nil, err
	}

	h := &Handle{cfg: idx.Config(), ctor: ctor, opts: newOptions(optFns)}
	h.opts.Logger = h.opts.Logger.WithBackend(string(cfg.Kind))
	h.current.Store(&generation{idx: idx, seq: 1, builtAt: time.Now()})
	return h, nil
}

// Build creates a Handle and builds it from vectors.
func Build(ctx context.Context, reg *index.Registry, cfg index.Config, vectors []index.Vector, optFns ...Option) (*Handle, error) {
	h, err := New(reg, cfg, optFns...)
	if err != nil {
		return nil, err
	}
	g := h.current.Load()
	if err := h.build(ctx, g, vectors); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Handle) build(ctx context.Context, g *generation, vectors []index.Vector) error {
	start := time.Now()
	err := g.idx.Build(ctx, vectors)
	elapsed := time.Since(start)

	h.opts.Metrics.RecordBuild(string(h.cfg.Kind), len(vectors), elapsed, err)
	h.opts.Logger.LogBuild(ctx, string(h.cfg.Kind), len(vectors), elapsed, err)
	if err != nil {
		return err
	}
	g.builtAt = time.Now()
	g.buildTime = elapsed
	return nil
}

// Config returns the immutable index configuration.
func (h *Handle) Config() index.Config { return h.cfg }

// Search queries the current generation.
func (h *Handle) Search(ctx context.Context, query []float32, k int) ([]index.Result, error) {
	g := h.current.Load()

	start := time.Now()
	g.mu.RLock()
	res, err := g.idx.Search(ctx, query, k)
	g.mu.RUnlock()

	h.opts.Metrics.RecordSearch(k, len(res), time.Since(start), err)
	if err != nil {
		h.opts.Logger.LogSearch(ctx, k, 0, err)
		return nil, err
	}
	return res, nil
}

// Add inserts vectors into a copy of the current generation and publishes
// the copy. Backends without incremental insert return a
// vecbench.UnsupportedOperationError. On any error the handle is left
// unchanged.
func (h *Handle) Add(ctx context.Context, vectors []index.Vector) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	start := time.Now()
	prev := h.current.Load()
	next, err := h.clone(prev)
	if err == nil {
		err = next.idx.Add(ctx, vectors)
	}

	h.opts.Metrics.RecordAdd(len(vectors), time.Since(start), err)
	if err != nil {
		h.opts.Logger.WarnContext(ctx, "add failed", "count", len(vectors), "error", err)
		return err
	}
	h.current.Store(next)
	return nil
}

// clone copies g into a fresh backend through its payload encoding.
func (h *Handle) clone(g *generation) (*generation, error) {
	var buf bytes.Buffer
	g.mu.RLock()
	err := g.idx.MarshalPayload(&buf)
	g.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	idx, err := h.ctor(h.cfg.Dim, h.cfg.Metric)
	if err != nil {
		return nil, err
	}
	if err := idx.UnmarshalPayload(buf.Bytes()); err != nil {
		return nil, err
	}
	return &generation{
		idx:       idx,
		seq:       g.seq + 1,
		builtAt:   g.builtAt,
		buildTime: g.buildTime,
	}, nil
}

// Rebuild builds a new generation from vectors and publishes it. Searches
// running against the previous generation are not interrupted. On error the
// previous generation stays current.
func (h *Handle) Rebuild(ctx context.Context, vectors []index.Vector) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	idx, err := h.ctor(h.cfg.Dim, h.cfg.Metric)
	if err != nil {
		return err
	}
	prev := h.current.Load()
	g := &generation{idx: idx, seq: prev.seq + 1}
	if err := h.build(ctx, g, vectors); err != nil {
		return err
	}
	h.current.Store(g)
	return nil
}

// Size returns the number of vectors in the current generation.
func (h *Handle) Size() int {
	g := h.current.Load()
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.idx.Len()
}

// EstimateMemory returns the resident size of the current generation.
func (h *Handle) EstimateMemory() int64 {
	g := h.current.Load()
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.idx.EstimateMemory()
}

// Info returns a snapshot of the current generation's metadata.
func (h *Handle) Info() Info {
	g := h.current.Load()
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Info{
		Config:        h.cfg,
		VectorCount:   g.idx.Len(),
		MemoryBytes:   g.idx.EstimateMemory(),
		Generation:    g.seq,
		BuiltAt:       g.builtAt,
		BuildDuration: g.buildTime,
		Source:        g.source,
	}
}
