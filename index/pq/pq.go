// Package pq implements the product-quantization index backend.
//
// Build trains one k-means codebook per subspace and keeps only the byte
// codes of every vector (plus its id). Search scores all codes with
// asymmetric distance tables. The codebooks are fixed once trained, so Add is
// not supported: new vectors require a full rebuild.
package pq

import (
	"context"
	"fmt"
	"io"
	"math/rand"

	"github.com/hupe1980/vecbench"
	"github.com/hupe1980/vecbench/index"
	"github.com/hupe1980/vecbench/internal/queue"
	"github.com/hupe1980/vecbench/persistence"
	"github.com/hupe1980/vecbench/quantization"
)

const (
	// DefaultM is the default number of subvectors.
	DefaultM = 8

	// DefaultKsub is the default number of centroids per subspace.
	DefaultKsub = quantization.MaxCentroids

	// DefaultIterations is the default number of k-means iterations.
	DefaultIterations = 20

	// DefaultSeed seeds codebook training.
	DefaultSeed = 42
)

// Backend param names.
const (
	ParamM          = "m"
	ParamKsub       = "ksub"
	ParamIterations = "iterations"
	ParamSeed       = "seed"
)

var _ index.Index = (*PQ)(nil)

// PQ is a product-quantized index.
type PQ struct {
	cfg        index.Config
	m          int
	ksub       int
	iterations int
	seed       int64

	store *index.Store
	pq    *quantization.ProductQuantizer
	codes []byte // Len()*m, nil when every code is zero
	zero  []byte
}

// New creates an empty PQ index.
//
// When m is not set the largest divisor of dim not above DefaultM is used.
// An explicit m must divide dim.
func New(cfg index.Config) (*PQ, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := cfg.Params
	if err := p.Check(index.KindPQ, ParamM, ParamKsub, ParamIterations, ParamSeed); err != nil {
		return nil, err
	}

	m, err := p.Positive(ParamM, defaultM(cfg.Dim))
	if err != nil {
		return nil, err
	}
	if cfg.Dim%m != 0 {
		return nil, vecbench.NewConfigError(ParamM, fmt.Sprintf("dim %d is not divisible by %d", cfg.Dim, m))
	}
	ksub, err := p.Positive(ParamKsub, DefaultKsub)
	if err != nil {
		return nil, err
	}
	if ksub > quantization.MaxCentroids {
		return nil, vecbench.NewConfigError(ParamKsub, fmt.Sprintf("must be at most %d, got %d", quantization.MaxCentroids, ksub))
	}
	iters, err := p.Positive(ParamIterations, DefaultIterations)
	if err != nil {
		return nil, err
	}
	seed, err := p.Int(ParamSeed, DefaultSeed)
	if err != nil {
		return nil, err
	}

	return &PQ{
		cfg:        cfg.Clone(),
		m:          m,
		ksub:       ksub,
		iterations: iters,
		seed:       int64(seed),
		store:      index.NewStore(cfg.Dim, false),
		zero:       make([]byte, m),
	}, nil
}

func defaultM(dim int) int {
	for m := min(DefaultM, dim); m > 1; m-- {
		if dim%m == 0 {
			return m
		}
	}
	return 1
}

// Factory adapts New to index.Factory.
func Factory(cfg index.Config) (index.Index, error) { return New(cfg) }

// Register adds the pq backend to r.
func Register(r *index.Registry) error { return r.Register(index.KindPQ, Factory) }

// Config implements index.Index.
func (p *PQ) Config() index.Config { return p.cfg.Clone() }

// Len implements index.Index.
func (p *PQ) Len() int { return p.store.Len() }

// Build implements index.Index.
//
// The codebook size is clamped to half the vector count (at least one
// centroid), which keeps the codebooks plus codes smaller than the raw
// vectors.
func (p *PQ) Build(ctx context.Context, vectors []index.Vector) error {
	store := index.NewStore(p.cfg.Dim, false)
	if err := store.Check(vectors); err != nil {
		return err
	}
	if len(vectors) == 0 {
		p.store, p.pq, p.codes = store, nil, nil
		return nil
	}

	dim := p.cfg.Dim
	data := make([]float32, 0, len(vectors)*dim)
	for _, v := range vectors {
		data = append(data, p.cfg.Metric.Prepare(v.Values)...)
	}

	ksub := min(p.ksub, max(1, len(vectors)/2))
	quantizer, err := quantization.NewProductQuantizer(dim, p.m, ksub)
	if err != nil {
		return vecbench.WrapConfigError(ParamM, err)
	}
	if err := quantizer.Train(ctx, data, p.iterations, rand.New(rand.NewSource(p.seed))); err != nil {
		return fmt.Errorf("pq: train: %w", err)
	}

	// A single-centroid codebook encodes every vector as zeros.
	var codes []byte
	if quantizer.NumCentroids() > 1 {
		codes = make([]byte, len(vectors)*p.m)
	}
	for i, v := range vectors {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if codes != nil {
			if err := quantizer.Encode(data[i*dim:(i+1)*dim], codes[i*p.m:(i+1)*p.m]); err != nil {
				return fmt.Errorf("pq: encode %q: %w", v.ID, err)
			}
		}
		store.Append(v.ID, nil)
	}

	p.store, p.pq, p.codes = store, quantizer, codes
	return nil
}

// Add implements index.Index. Codebooks are fixed at build time.
func (p *PQ) Add(context.Context, []index.Vector) error {
	return index.Unsupported(index.KindPQ, "add")
}

// Search implements index.Index.
func (p *PQ) Search(ctx context.Context, query []float32, k int) ([]index.Result, error) {
	if err := index.CheckQuery(p.cfg, query, k); err != nil {
		return nil, err
	}
	n := p.store.Len()
	if n == 0 {
		return []index.Result{}, nil
	}

	m := p.cfg.Metric
	table := p.pq.BuildDistanceTable(m.Prepare(query), m)
	k = min(k, n)
	top := queue.NewMax(k)
	for i := 0; i < n; i++ {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		d := p.pq.AdcDistance(table, p.code(i))
		top.PushBounded(queue.Item{Node: uint32(i), Distance: d}, k)
	}
	return p.store.Results(top.Sorted(), m), nil
}

func (p *PQ) code(i int) []byte {
	if p.codes == nil {
		return p.zero
	}
	return p.codes[i*p.m : (i+1)*p.m]
}

// EstimateMemory implements index.Index. It counts ids, codes and codebooks.
func (p *PQ) EstimateMemory() int64 {
	b := p.store.EstimateMemory() + int64(len(p.codes))
	if p.pq != nil {
		b += p.pq.CodebookBytes()
	}
	return b
}

// MarshalPayload implements index.Index.
func (p *PQ) MarshalPayload(w io.Writer) error {
	bw := persistence.NewBinaryWriter(w)
	p.store.Encode(bw)
	if p.pq == nil {
		bw.Uint8(0)
		return bw.Err()
	}
	bw.Uint8(1)
	p.pq.WriteBinary(bw)
	bw.Raw(p.codes)
	return bw.Err()
}

// UnmarshalPayload implements index.Index.
func (p *PQ) UnmarshalPayload(data []byte) error {
	br := persistence.NewBinaryReader(data)
	store := index.NewStore(p.cfg.Dim, false)
	if err := store.Decode(br); err != nil {
		return fmt.Errorf("pq: %w", err)
	}

	var (
		quantizer *quantization.ProductQuantizer
		codes     []byte
	)
	if br.Uint8() == 1 {
		q, err := quantization.ReadProductQuantizer(br)
		if err != nil {
			return fmt.Errorf("pq: %w", err)
		}
		if q.Dimension() != p.cfg.Dim || q.NumSubvectors() != p.m || !q.IsTrained() {
			return fmt.Errorf("pq: codebook shape %d/%d does not match config", q.Dimension(), q.NumSubvectors())
		}
		if q.NumCentroids() > 1 {
			codes = append([]byte(nil), br.Raw(store.Len()*p.m)...)
		}
		for _, c := range codes {
			if int(c) >= q.NumCentroids() {
				return fmt.Errorf("pq: code %d out of range", c)
			}
		}
		quantizer = q
	} else if store.Len() > 0 {
		return fmt.Errorf("pq: %d vectors without codebook", store.Len())
	}
	if err := br.Err(); err != nil {
		return fmt.Errorf("pq: %w", err)
	}
	if br.Remaining() != 0 {
		return fmt.Errorf("pq: %d trailing bytes", br.Remaining())
	}

	p.store, p.pq, p.codes = store, quantizer, codes
	return nil
}
