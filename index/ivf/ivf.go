// Package ivf implements the inverted-file index backend.
//
// Build partitions the vectors into nlist coarse clusters with k-means and
// keeps one roaring bitmap of member ordinals per cluster. Search ranks the
// centroids, scans the members of the nprobe nearest clusters exactly, and
// keeps probing further clusters until at least k candidates were seen. With
// nprobe >= nlist every list is scanned and results equal the flat backend.
package ivf

import (
	"context"
	"fmt"
	"io"
	"math/rand"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/vecbench/distance"
	"github.com/hupe1980/vecbench/index"
	"github.com/hupe1980/vecbench/internal/kmeans"
	"github.com/hupe1980/vecbench/internal/queue"
	"github.com/hupe1980/vecbench/persistence"
)

const (
	// DefaultNList is the default number of coarse clusters.
	DefaultNList = 100

	// DefaultNProbe is the default number of clusters scanned per query.
	DefaultNProbe = 10

	// DefaultIterations is the default number of k-means iterations.
	DefaultIterations = 20

	// DefaultSeed seeds centroid training.
	DefaultSeed = 42
)

// Backend param names.
const (
	ParamNList      = "nlist"
	ParamNProbe     = "nprobe"
	ParamIterations = "iterations"
	ParamSeed       = "seed"
)

var _ index.Index = (*IVF)(nil)

// IVF is an inverted-file index over exact vectors.
type IVF struct {
	cfg        index.Config
	nlist      int
	nprobe     int
	iterations int
	seed       int64

	store     *index.Store
	centroids []float32 // trained nlist*dim, nlist clamped to the build size
	lists     []*roaring.Bitmap
}

// New creates an empty IVF index.
func New(cfg index.Config) (*IVF, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := cfg.Params
	if err := p.Check(index.KindIVF, ParamNList, ParamNProbe, ParamIterations, ParamSeed); err != nil {
		return nil, err
	}

	nlist, err := p.Positive(ParamNList, DefaultNList)
	if err != nil {
		return nil, err
	}
	nprobe, err := p.Positive(ParamNProbe, DefaultNProbe)
	if err != nil {
		return nil, err
	}
	iters, err := p.Positive(ParamIterations, DefaultIterations)
	if err != nil {
		return nil, err
	}
	seed, err := p.Int(ParamSeed, DefaultSeed)
	if err != nil {
		return nil, err
	}

	return &IVF{
		cfg:        cfg.Clone(),
		nlist:      nlist,
		nprobe:     nprobe,
		iterations: iters,
		seed:       int64(seed),
		store:      index.NewStore(cfg.Dim, true),
	}, nil
}

// Factory adapts New to index.Factory.
func Factory(cfg index.Config) (index.Index, error) { return New(cfg) }

// Register adds the ivf backend to r.
func Register(r *index.Registry) error { return r.Register(index.KindIVF, Factory) }

// Config implements index.Index.
func (f *IVF) Config() index.Config { return f.cfg.Clone() }

// Len implements index.Index.
func (f *IVF) Len() int { return f.store.Len() }

// NumLists returns the number of trained clusters.
func (f *IVF) NumLists() int { return len(f.lists) }

// Build implements index.Index.
func (f *IVF) Build(ctx context.Context, vectors []index.Vector) error {
	store := index.NewStore(f.cfg.Dim, true)
	if err := store.Check(vectors); err != nil {
		return err
	}
	for _, v := range vectors {
		store.Append(v.ID, f.cfg.Metric.Prepare(v.Values))
	}

	centroids, lists, err := f.train(ctx, store)
	if err != nil {
		return err
	}
	f.store, f.centroids, f.lists = store, centroids, lists
	return nil
}

func (f *IVF) train(ctx context.Context, store *index.Store) ([]float32, []*roaring.Bitmap, error) {
	if store.Len() == 0 {
		return nil, nil, nil
	}
	dim := f.cfg.Dim
	centroids, err := kmeans.Train(ctx, store.Data(), dim, f.nlist, f.iterations, rand.New(rand.NewSource(f.seed)))
	if err != nil {
		return nil, nil, fmt.Errorf("ivf: train: %w", err)
	}

	lists := make([]*roaring.Bitmap, len(centroids)/dim)
	for i := range lists {
		lists[i] = roaring.New()
	}
	for i := 0; i < store.Len(); i++ {
		ord := uint32(i)
		lists[kmeans.Nearest(store.Vector(ord), centroids, dim)].Add(ord)
	}
	for _, l := range lists {
		l.RunOptimize()
	}
	return centroids, lists, nil
}

// Add implements index.Index. New vectors join the list of their nearest
// existing centroid; centroids are not retrained. Adding to an index that
// was built empty trains the clusters from the added vectors.
func (f *IVF) Add(ctx context.Context, vectors []index.Vector) error {
	if err := f.store.Check(vectors); err != nil {
		return err
	}
	if len(f.lists) == 0 {
		return f.Build(ctx, vectors)
	}

	dim := f.cfg.Dim
	for _, v := range vectors {
		prepared := f.cfg.Metric.Prepare(v.Values)
		ord := f.store.Append(v.ID, prepared)
		f.lists[kmeans.Nearest(prepared, f.centroids, dim)].Add(ord)
	}
	return nil
}

// Search implements index.Index.
func (f *IVF) Search(ctx context.Context, query []float32, k int) ([]index.Result, error) {
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

	// Lists are assigned by squared L2, so they are probed the same way.
	order := kmeans.Closest(q, f.centroids, f.cfg.Dim, len(f.lists), distance.MetricL2)

	top := queue.NewMax(k)
	seen := 0
	for i, c := range order {
		if i >= f.nprobe && seen >= k {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		it := f.lists[c].Iterator()
		for it.HasNext() {
			ord := it.Next()
			top.PushBounded(queue.Item{Node: ord, Distance: m.Distance(q, f.store.Vector(ord))}, k)
			seen++
		}
	}
	return f.store.Results(top.Sorted(), m), nil
}

// EstimateMemory implements index.Index.
func (f *IVF) EstimateMemory() int64 {
	b := f.store.EstimateMemory() + int64(len(f.centroids))*4
	for _, l := range f.lists {
		b += int64(l.GetSizeInBytes())
	}
	return b
}

// MarshalPayload implements index.Index.
func (f *IVF) MarshalPayload(w io.Writer) error {
	bw := persistence.NewBinaryWriter(w)
	f.store.Encode(bw)
	bw.Uint32(uint32(len(f.lists)))
	bw.Float32s(f.centroids)
	for _, l := range f.lists {
		data, err := l.ToBytes()
		if err != nil {
			return fmt.Errorf("ivf: encode list: %w", err)
		}
		bw.Bytes(data)
	}
	return bw.Err()
}

// UnmarshalPayload implements index.Index.
func (f *IVF) UnmarshalPayload(data []byte) error {
	br := persistence.NewBinaryReader(data)
	store := index.NewStore(f.cfg.Dim, true)
	if err := store.Decode(br); err != nil {
		return fmt.Errorf("ivf: %w", err)
	}

	n := store.Len()
	nlist := int(br.Uint32())
	if br.Err() == nil && (nlist > n || (n > 0 && nlist == 0)) {
		return fmt.Errorf("ivf: %d lists for %d vectors", nlist, n)
	}
	centroids := br.Float32s(nlist * f.cfg.Dim)
	lists := make([]*roaring.Bitmap, nlist)
	var members uint64
	for i := range lists {
		raw := br.Bytes()
		if br.Err() != nil {
			break
		}
		rb := roaring.New()
		if err := rb.UnmarshalBinary(raw); err != nil {
			return fmt.Errorf("ivf: list %d: %w", i, err)
		}
		if !rb.IsEmpty() && int(rb.Maximum()) >= n {
			return fmt.Errorf("ivf: list %d references unknown ordinal %d", i, rb.Maximum())
		}
		members += rb.GetCardinality()
		lists[i] = rb
	}
	if err := br.Err(); err != nil {
		return fmt.Errorf("ivf: %w", err)
	}
	if br.Remaining() != 0 {
		return fmt.Errorf("ivf: %d trailing bytes", br.Remaining())
	}
	if members != uint64(n) {
		return fmt.Errorf("ivf: lists hold %d members for %d vectors", members, n)
	}
	if nlist == 0 {
		centroids, lists = nil, nil
	}

	f.store, f.centroids, f.lists = store, centroids, lists
	return nil
}
