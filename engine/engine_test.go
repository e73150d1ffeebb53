package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hupe1980/vecbench"
	"github.com/hupe1980/vecbench/blobstore"
	"github.com/hupe1980/vecbench/catalog"
	"github.com/hupe1980/vecbench/distance"
	"github.com/hupe1980/vecbench/index"
	"github.com/hupe1980/vecbench/index/backends"
	"github.com/hupe1980/vecbench/persistence"
	"github.com/hupe1980/vecbench/resource"
	"github.com/hupe1980/vecbench/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(res []index.Result) []string {
	out := make([]string, len(res))
	for i, r := range res {
		out[i] = r.ID
	}
	return out
}

func TestBuildAndSearch(t *testing.T) {
	ctx := context.Background()
	reg := backends.NewRegistry()
	vecs := []index.Vector{
		{ID: "a", Values: []float32{0, 0}},
		{ID: "b", Values: []float32{1, 0}},
		{ID: "c", Values: []float32{5, 5}},
	}

	metrics := &vecbench.BasicMetricsCollector{}
	h, err := Build(ctx, reg, index.Config{Kind: index.KindFlat, Dim: 2, Metric: distance.MetricL2}, vecs, WithMetrics(metrics))
	require.NoError(t, err)

	res, err := h.Search(ctx, []float32{0.1, 0.1}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(res))

	res, err = h.Search(ctx, []float32{0.1, 0.1}, 10)
	require.NoError(t, err)
	assert.Len(t, res, 3)

	_, err = h.Search(ctx, []float32{0.1, 0.1}, 0)
	assert.ErrorIs(t, err, vecbench.ErrConfig)

	info := h.Info()
	assert.Equal(t, 3, info.VectorCount)
	assert.Equal(t, uint64(1), info.Generation)
	assert.Equal(t, 3, h.Size())
	assert.Positive(t, h.EstimateMemory())

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.BuildCount)
	assert.Equal(t, int64(3), stats.SearchCount)
	assert.Equal(t, int64(1), stats.SearchErrors)
}

func TestBuildRejectsBadConfig(t *testing.T) {
	ctx := context.Background()
	reg := backends.NewRegistry()

	_, err := Build(ctx, reg, index.Config{Kind: "annoy", Dim: 2, Metric: distance.MetricL2}, nil)
	assert.ErrorIs(t, err, vecbench.ErrUnknownBackend)

	_, err = Build(ctx, reg, index.Config{Kind: index.KindIVF, Dim: 2, Metric: distance.MetricL2, Params: index.Params{"nlist": 0}}, nil)
	assert.ErrorIs(t, err, vecbench.ErrConfig)

	_, err = Build(ctx, reg, index.Config{Kind: index.KindFlat, Dim: 0, Metric: distance.MetricL2}, nil)
	assert.ErrorIs(t, err, vecbench.ErrConfig)
}

func TestAddUnsupportedThenRebuild(t *testing.T) {
	ctx := context.Background()
	reg := backends.NewRegistry()
	vecs := testutil.Vectors("d", testutil.NewRNG(1).UniformVectors(50, 8))
	h, err := Build(ctx, reg, index.Config{Kind: index.KindPQ, Dim: 8, Metric: distance.MetricL2}, vecs)
	require.NoError(t, err)

	extra := index.Vector{ID: "new", Values: []float32{3, 3, 3, 3, 3, 3, 3, 3}}
	err = h.Add(ctx, []index.Vector{extra})
	assert.ErrorIs(t, err, vecbench.ErrUnsupportedOperation)
	assert.Equal(t, 50, h.Size())

	require.NoError(t, h.Rebuild(ctx, append(vecs, extra)))
	assert.Equal(t, 51, h.Size())
	assert.Equal(t, uint64(2), h.Info().Generation)

	res, err := h.Search(ctx, extra.Values, 1)
	require.NoError(t, err)
	assert.Equal(t, "new", res[0].ID)
}

func TestAddIncremental(t *testing.T) {
	ctx := context.Background()
	reg := backends.NewRegistry()
	h, err := Build(ctx, reg, index.Config{Kind: index.KindHNSW, Dim: 2, Metric: distance.MetricL2},
		[]index.Vector{{ID: "a", Values: []float32{0, 0}}})
	require.NoError(t, err)

	require.NoError(t, h.Add(ctx, []index.Vector{{ID: "b", Values: []float32{4, 4}}}))
	assert.Equal(t, 2, h.Size())

	// A rejected batch leaves the handle unchanged.
	err = h.Add(ctx, []index.Vector{{ID: "c", Values: []float32{1, 1}}, {ID: "d", Values: []float32{1}}})
	assert.ErrorIs(t, err, vecbench.ErrDimensionMismatch)
	assert.Equal(t, 2, h.Size())
}

// errAfter reports context.Canceled from its n-th Err call on.
type errAfter struct {
	context.Context
	calls atomic.Int32
	n     int32
}

func (c *errAfter) Err() error {
	if c.calls.Add(1) >= c.n {
		return context.Canceled
	}
	return nil
}

func TestAddCanceledLeavesHandleUnchanged(t *testing.T) {
	ctx := context.Background()
	reg := backends.NewRegistry()
	rng := testutil.NewRNG(5)
	base := testutil.Vectors("base", rng.UniformVectors(10, 4))
	h, err := Build(ctx, reg, index.Config{Kind: index.KindHNSW, Dim: 4, Metric: distance.MetricL2}, base)
	require.NoError(t, err)
	gen := h.Info().Generation

	extra := testutil.Vectors("extra", rng.UniformVectors(300, 4))
	err = h.Add(&errAfter{Context: ctx, n: 2}, extra)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 10, h.Size())
	assert.Equal(t, gen, h.Info().Generation)
	res, err := h.Search(ctx, extra[0].Values, 10)
	require.NoError(t, err)
	for _, r := range res {
		assert.Contains(t, r.ID, "base#")
	}

	require.NoError(t, h.Add(ctx, extra))
	assert.Equal(t, 310, h.Size())
	assert.Equal(t, gen+1, h.Info().Generation)
}

func TestRebuildFailureKeepsGeneration(t *testing.T) {
	ctx := context.Background()
	reg := backends.NewRegistry()
	vecs := testutil.Vectors("d", testutil.NewRNG(2).UniformVectors(20, 4))
	h, err := Build(ctx, reg, index.Config{Kind: index.KindFlat, Dim: 4, Metric: distance.MetricCosine}, vecs)
	require.NoError(t, err)

	err = h.Rebuild(ctx, []index.Vector{{ID: "x", Values: []float32{1}}})
	assert.Error(t, err)
	assert.Equal(t, 20, h.Size())
	assert.Equal(t, uint64(1), h.Info().Generation)
}

func roundTripConfigs() []index.Config {
	return []index.Config{
		{Kind: index.KindFlat, Dim: 8, Metric: distance.MetricL2},
		{Kind: index.KindIVF, Dim: 8, Metric: distance.MetricCosine, Params: index.Params{"nlist": 8, "nprobe": 3}},
		{Kind: index.KindHNSW, Dim: 8, Metric: distance.MetricDot, Params: index.Params{"M": 8}},
		{Kind: index.KindPQ, Dim: 8, Metric: distance.MetricL2, Params: index.Params{"m": 4, "ksub": 16}},
	}
}

func TestPersistLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	reg := backends.NewRegistry()
	rng := testutil.NewRNG(7)
	vecs := testutil.Vectors("d", rng.ClusteredVectors(300, 8, 6, 0.3))
	queries := rng.UniformVectors(10, 8)

	store, err := blobstore.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	for _, cfg := range roundTripConfigs() {
		for _, c := range []persistence.Compression{persistence.CompressionNone, persistence.CompressionLZ4, persistence.CompressionZSTD} {
			t.Run(string(cfg.Kind)+"/"+c.String(), func(t *testing.T) {
				h, err := Build(ctx, reg, cfg, vecs, WithCompression(c))
				require.NoError(t, err)

				name := "rt/" + string(cfg.Kind) + "-" + c.String() + ".vbx"
				n, err := h.Persist(ctx, store, name)
				require.NoError(t, err)
				assert.Positive(t, n)

				loaded, err := Load(ctx, reg, store, name, WithExpectedDim(8))
				require.NoError(t, err)
				assert.Equal(t, h.Size(), loaded.Size())
				assert.Equal(t, cfg.Kind, loaded.Config().Kind)
				assert.Equal(t, cfg.Metric, loaded.Config().Metric)
				assert.Equal(t, name, loaded.Info().Source)

				for _, q := range queries {
					want, err := h.Search(ctx, q, 10)
					require.NoError(t, err)
					got, err := loaded.Search(ctx, q, 10)
					require.NoError(t, err)
					assert.Equal(t, want, got)
				}
			})
		}
	}
}

func encodeFlat(t *testing.T) []byte {
	t.Helper()
	h, err := Build(context.Background(), backends.NewRegistry(),
		index.Config{Kind: index.KindFlat, Dim: 2, Metric: distance.MetricL2},
		[]index.Vector{{ID: "a", Values: []float32{1, 2}}, {ID: "b", Values: []float32{3, 4}}})
	require.NoError(t, err)

	var buf bytes.Buffer
	g := h.current.Load()
	_, err = Encode(&buf, g.idx)
	require.NoError(t, err)
	return buf.Bytes()
}

func TestDecodeRejectsCorruption(t *testing.T) {
	reg := backends.NewRegistry()
	good := encodeFlat(t)

	idx, err := Decode(reg, good)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())

	flipped := bytes.Clone(good)
	flipped[len(flipped)/2] ^= 0xff

	badMagic := bytes.Clone(good)
	badMagic[0] = 'X'

	var payload bytes.Buffer
	require.NoError(t, idx.MarshalPayload(&payload))
	cfg, err := json.Marshal(idx.Config())
	require.NoError(t, err)
	wrongCount, err := persistence.EncodeBytes(cfg, 3, payload.Bytes())
	require.NoError(t, err)

	cfg3, err := json.Marshal(index.Config{Kind: index.KindFlat, Dim: 3, Metric: distance.MetricL2})
	require.NoError(t, err)
	wrongDim, err := persistence.EncodeBytes(cfg3, 2, payload.Bytes())
	require.NoError(t, err)

	unknown, err := persistence.EncodeBytes([]byte(`{"backend_kind":"annoy","dim":2,"metric":"l2"}`), 2, payload.Bytes())
	require.NoError(t, err)

	notJSON, err := persistence.EncodeBytes([]byte("{"), 2, payload.Bytes())
	require.NoError(t, err)

	for name, data := range map[string][]byte{
		"checksum":    flipped,
		"magic":       badMagic,
		"truncated":   good[:len(good)-3],
		"empty":       nil,
		"count":       wrongCount,
		"dim":         wrongDim,
		"unknown":     unknown,
		"config json": notJSON,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(reg, data)
			assert.ErrorIs(t, err, vecbench.ErrCorruptIndex)
		})
	}

	_, err = Decode(reg, unknown)
	assert.ErrorIs(t, err, vecbench.ErrUnknownBackend)
}

func TestLoadErrors(t *testing.T) {
	ctx := context.Background()
	reg := backends.NewRegistry()
	store := blobstore.NewMemoryStore()

	_, err := Load(ctx, reg, store, "missing.vbx")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	require.NoError(t, store.Put(ctx, "flat.vbx", encodeFlat(t)))
	_, err = Load(ctx, reg, store, "flat.vbx", WithExpectedDim(384))
	assert.ErrorIs(t, err, vecbench.ErrCorruptIndex)
	assert.ErrorIs(t, err, vecbench.ErrDimensionMismatch)
}

func TestSearchDuringRebuild(t *testing.T) {
	ctx := context.Background()
	reg := backends.NewRegistry()
	rng := testutil.NewRNG(3)
	small := testutil.Vectors("s", rng.UniformVectors(100, 8))
	large := testutil.Vectors("l", rng.UniformVectors(150, 8))
	query := rng.UniformVectors(1, 8)[0]

	h, err := Build(ctx, reg, index.Config{Kind: index.KindHNSW, Dim: 8, Metric: distance.MetricL2}, small)
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				res, err := h.Search(ctx, query, 5)
				if !assert.NoError(t, err) {
					return
				}
				assert.Len(t, res, 5)
			}
		}()
	}

	for i := range 6 {
		set := small
		if i%2 == 0 {
			set = large
		}
		require.NoError(t, h.Rebuild(ctx, set))
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, 100, h.Size())
	assert.Equal(t, uint64(7), h.Info().Generation)
}

func TestPublishAndLoadVersion(t *testing.T) {
	ctx := context.Background()
	reg := backends.NewRegistry()
	store := blobstore.NewMemoryStore()
	cat, err := catalog.OpenBolt(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer cat.Close()

	rc := resource.NewController(resource.Config{IOLimitBytesPerSec: 1 << 30})
	cfg := index.Config{Kind: index.KindIVF, Dim: 4, Metric: distance.MetricL2, Params: index.Params{"nlist": 4}}
	vecs := testutil.Vectors("d", testutil.NewRNG(5).UniformVectors(40, 4))

	h, err := Build(ctx, reg, cfg, vecs, WithResources(rc), WithCompression(persistence.CompressionZSTD))
	require.NoError(t, err)

	rec1, err := h.Publish(ctx, store, cat, "docs")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec1.Version)
	assert.Equal(t, 40, rec1.VectorCount)

	require.NoError(t, h.Add(ctx, []index.Vector{{ID: "extra", Values: []float32{9, 9, 9, 9}}}))
	rec2, err := h.Publish(ctx, store, cat, "docs")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec2.Version)
	assert.NotEqual(t, rec1.Blob, rec2.Blob)

	latest, rec, err := LoadVersion(ctx, reg, store, cat, "docs", 0, WithResources(rc))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.Version)
	assert.Equal(t, 41, latest.Size())

	first, _, err := LoadVersion(ctx, reg, store, cat, "docs", 1)
	require.NoError(t, err)
	assert.Equal(t, 40, first.Size())

	_, _, err = LoadVersion(ctx, reg, store, cat, "nope", 0)
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	require.NoError(t, store.Delete(ctx, rec2.Blob))
	_, _, err = LoadVersion(ctx, reg, store, cat, "docs", 0)
	assert.ErrorIs(t, err, vecbench.ErrCorruptIndex)

	_, err = h.Publish(ctx, store, cat, "bad/name")
	assert.ErrorIs(t, err, vecbench.ErrConfig)
}

func TestThrottledLoad(t *testing.T) {
	ctx := context.Background()
	reg := backends.NewRegistry()
	store := blobstore.NewMemoryStore()
	vecs := testutil.Vectors("d", testutil.NewRNG(8).UniformVectors(30, 4))
	h, err := Build(ctx, reg, index.Config{Kind: index.KindFlat, Dim: 4, Metric: distance.MetricL2}, vecs)
	require.NoError(t, err)
	_, err = h.Persist(ctx, store, "flat.vbx")
	require.NoError(t, err)

	rc := resource.NewController(resource.Config{IOLimitBytesPerSec: 1 << 20})
	loaded, err := Load(ctx, reg, store, "flat.vbx", WithResources(rc))
	require.NoError(t, err)
	assert.Equal(t, 30, loaded.Size())

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Load(canceled, reg, store, "flat.vbx", WithResources(rc))
	assert.ErrorIs(t, err, context.Canceled)
}
