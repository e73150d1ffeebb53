package hnsw

import (
	"bytes"
	"context"
	"testing"

	"github.com/hupe1980/vecbench"
	"github.com/hupe1980/vecbench/distance"
	"github.com/hupe1980/vecbench/index"
	"github.com/hupe1980/vecbench/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHNSW(t *testing.T, dim int, m distance.Metric, params index.Params) *HNSW {
	t.Helper()
	h, err := New(index.Config{Kind: index.KindHNSW, Dim: dim, Metric: m, Params: params})
	require.NoError(t, err)
	return h
}

func TestRecall(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(4711)
	vecs := testutil.Vectors("d", rng.ClusteredVectors(1000, 16, 10, 0.2))

	for _, m := range []distance.Metric{distance.MetricL2, distance.MetricCosine, distance.MetricDot} {
		t.Run(m.String(), func(t *testing.T) {
			h := newHNSW(t, 16, m, index.Params{ParamEFSearch: 100})
			require.NoError(t, h.Build(ctx, vecs))
			assert.Equal(t, 1000, h.Len())

			var recall float64
			queries := rng.UnitVectors(20, 16)
			for _, q := range queries {
				res, err := h.Search(ctx, q, 10)
				require.NoError(t, err)
				require.Len(t, res, 10)
				recall += testutil.ComputeRecall(testutil.BruteForceSearch(vecs, m, q, 10), res)
			}
			// Inner product is not a metric, so the graph is less navigable.
			want := 0.9
			if m == distance.MetricDot {
				want = 0.8
			}
			assert.GreaterOrEqual(t, recall/float64(len(queries)), want)
		})
	}
}

func TestSearchInvariants(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(1)
	h := newHNSW(t, 4, distance.MetricL2, index.Params{ParamM: 2, ParamEFSearch: 1})

	res, err := h.Search(ctx, []float32{0, 0, 0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, res)

	vecs := testutil.Vectors("d", rng.UniformVectors(50, 4))
	require.NoError(t, h.Build(ctx, vecs))

	for _, k := range []int{1, 7, 50, 80} {
		res, err := h.Search(ctx, rng.UniformVectors(1, 4)[0], k)
		require.NoError(t, err)
		assert.Len(t, res, min(k, 50))

		seen := map[string]bool{}
		for _, r := range res {
			assert.False(t, seen[r.ID], "duplicate %s", r.ID)
			seen[r.ID] = true
		}
		for i := 1; i < len(res); i++ {
			assert.LessOrEqual(t, res[i-1].Score, res[i].Score)
		}
	}
}

func TestBuildDeterministic(t *testing.T) {
	ctx := context.Background()
	vecs := testutil.Vectors("d", testutil.NewRNG(9).UniformVectors(200, 8))
	q := testutil.NewRNG(10).UniformVectors(1, 8)[0]

	a := newHNSW(t, 8, distance.MetricL2, nil)
	b := newHNSW(t, 8, distance.MetricL2, nil)
	require.NoError(t, a.Build(ctx, vecs))
	require.NoError(t, b.Build(ctx, vecs))

	ra, err := a.Search(ctx, q, 5)
	require.NoError(t, err)
	rb, err := b.Search(ctx, q, 5)
	require.NoError(t, err)
	assert.Equal(t, ra, rb)
}

func TestAdd(t *testing.T) {
	ctx := context.Background()
	h := newHNSW(t, 2, distance.MetricL2, nil)
	require.NoError(t, h.Build(ctx, []index.Vector{{ID: "a", Values: []float32{0, 0}}}))
	require.NoError(t, h.Add(ctx, []index.Vector{{ID: "b", Values: []float32{3, 3}}}))
	assert.Equal(t, 2, h.Len())

	res, err := h.Search(ctx, []float32{3, 3}, 1)
	require.NoError(t, err)
	assert.Equal(t, "b", res[0].ID)

	assert.ErrorIs(t, h.Add(ctx, []index.Vector{{ID: "b", Values: []float32{1, 1}}}), index.ErrDuplicateID)
}

func TestInvalidParams(t *testing.T) {
	for name, p := range map[string]index.Params{
		"M too small":   {ParamM: 1},
		"ef_search":     {ParamEFSearch: 0},
		"unknown param": {"nprobe": 3},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := New(index.Config{Kind: index.KindHNSW, Dim: 2, Params: p})
			assert.ErrorIs(t, err, vecbench.ErrConfig)
		})
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(5)
	vecs := testutil.Vectors("d", rng.UniformVectors(300, 8))
	h := newHNSW(t, 8, distance.MetricCosine, nil)
	require.NoError(t, h.Build(ctx, vecs))

	var buf bytes.Buffer
	require.NoError(t, h.MarshalPayload(&buf))

	g := newHNSW(t, 8, distance.MetricCosine, nil)
	require.NoError(t, g.UnmarshalPayload(buf.Bytes()))
	assert.Equal(t, h.Len(), g.Len())

	for _, q := range rng.UniformVectors(5, 8) {
		a, err := h.Search(ctx, q, 10)
		require.NoError(t, err)
		b, err := g.Search(ctx, q, 10)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}

	assert.Error(t, g.UnmarshalPayload(buf.Bytes()[:buf.Len()-1]))
	assert.Greater(t, h.EstimateMemory(), int64(300*8*4))
}
