// Package flat provides an exhaustive-scan index backend.
//
// Vectors are stored in a dense array in insertion order. Search computes the
// configured metric against every stored vector and keeps the top k in a
// bounded heap; ties are broken by insertion order. Flat is the correctness
// baseline that the approximate backends are benchmarked against.
package flat

import (
	"context"
	"fmt"
	"io"

	"github.com/hupe1980/vecbench/index"
	"github.com/hupe1980/vecbench/internal/queue"
	"github.com/hupe1980/vecbench/persistence"
)

// Compile-time check to ensure Flat satisfies the capability set.
var _ index.Index = (*Flat)(nil)

// ctxCheckInterval is how many vectors are scanned between context checks.
const ctxCheckInterval = 4096

// Flat represents a flat index for vector storage and search.
type Flat struct {
	cfg   index.Config
	store *index.Store
}

// New creates an empty flat index. Flat accepts no backend params.
func New(cfg index.Config) (*Flat, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Params.Check(index.KindFlat); err != nil {
		return nil, err
	}
	return &Flat{
		cfg:   cfg.Clone(),
		store: index.NewStore(cfg.Dim, true),
	}, nil
}

// Factory adapts New to index.Factory.
func Factory(cfg index.Config) (index.Index, error) { return New(cfg) }

// Register adds the flat backend to r.
func Register(r *index.Registry) error { return r.Register(index.KindFlat, Factory) }

// Config implements index.Index.
func (f *Flat) Config() index.Config { return f.cfg.Clone() }

// Len implements index.Index.
func (f *Flat) Len() int { return f.store.Len() }

// Build implements index.Index.
func (f *Flat) Build(ctx context.Context, vectors []index.Vector) error {
	fresh := index.NewStore(f.cfg.Dim, true)
	if err := fresh.Check(vectors); err != nil {
		return err
	}
	for i, v := range vectors {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		fresh.Append(v.ID, f.cfg.Metric.Prepare(v.Values))
	}
	f.store = fresh
	return nil
}

// Add implements index.Index.
func (f *Flat) Add(_ context.Context, vectors []index.Vector) error {
	if err := f.store.Check(vectors); err != nil {
		return err
	}
	for _, v := range vectors {
		f.store.Append(v.ID, f.cfg.Metric.Prepare(v.Values))
	}
	return nil
}

// Search implements index.Index.
func (f *Flat) Search(ctx context.Context, query []float32, k int) ([]index.Result, error) {
	if err := index.CheckQuery(f.cfg, query, k); err != nil {
		return nil, err
	}
	n := f.store.Len()
	if n == 0 {
		return []index.Result{}, nil
	}

	m := f.cfg.Metric
	q := m.Prepare(query)
	k = min(k, n)
	top := queue.NewMax(k)
	for i := 0; i < n; i++ {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		ord := uint32(i)
		top.PushBounded(queue.Item{Node: ord, Distance: m.Distance(q, f.store.Vector(ord))}, k)
	}
	return f.store.Results(top.Sorted(), m), nil
}

// EstimateMemory implements index.Index.
func (f *Flat) EstimateMemory() int64 {
	return f.store.EstimateMemory()
}

// MarshalPayload implements index.Index.
func (f *Flat) MarshalPayload(w io.Writer) error {
	bw := persistence.NewBinaryWriter(w)
	f.store.Encode(bw)
	return bw.Err()
}

// UnmarshalPayload implements index.Index.
func (f *Flat) UnmarshalPayload(data []byte) error {
	br := persistence.NewBinaryReader(data)
	store := index.NewStore(f.cfg.Dim, true)
	if err := store.Decode(br); err != nil {
		return fmt.Errorf("flat: %w", err)
	}
	if br.Remaining() != 0 {
		return fmt.Errorf("flat: %d trailing bytes", br.Remaining())
	}
	f.store = store
	return nil
}
