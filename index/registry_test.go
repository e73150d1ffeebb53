package index

import (
	"context"
	"io"
	"testing"

	"github.com/hupe1980/vecbench"
	"github.com/hupe1980/vecbench/distance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubIndex struct{ cfg Config }

func (s *stubIndex) Config() Config                                 { return s.cfg }
func (s *stubIndex) Build(context.Context, []Vector) error          { return nil }
func (s *stubIndex) Add(context.Context, []Vector) error            { return Unsupported(s.cfg.Kind, "add") }
func (s *stubIndex) Search(context.Context, []float32, int) ([]Result, error) {
	return nil, nil
}
func (s *stubIndex) Len() int                       { return 0 }
func (s *stubIndex) EstimateMemory() int64          { return 0 }
func (s *stubIndex) MarshalPayload(io.Writer) error { return nil }
func (s *stubIndex) UnmarshalPayload([]byte) error  { return nil }

func stubFactory(cfg Config) (Index, error) {
	if err := cfg.Params.Check(cfg.Kind, "size"); err != nil {
		return nil, err
	}
	if _, err := cfg.Params.Positive("size", 1); err != nil {
		return nil, err
	}
	return &stubIndex{cfg: cfg}, nil
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("stub", stubFactory))
	assert.Error(t, r.Register("stub", stubFactory))

	ctor, err := r.Resolve("stub", Params{"size": 3})
	require.NoError(t, err)

	idx, err := ctor(8, distance.MetricL2)
	require.NoError(t, err)
	assert.Equal(t, Kind("stub"), idx.Config().Kind)
	assert.Equal(t, 8, idx.Config().Dim)
	assert.Equal(t, []Kind{"stub"}, r.Kinds())
}

func TestRegistryUnknownBackend(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("annoy", nil)
	require.ErrorIs(t, err, vecbench.ErrUnknownBackend)

	var ub *vecbench.UnknownBackendError
	require.ErrorAs(t, err, &ub)
	assert.Equal(t, "annoy", ub.Kind)
}

func TestRegistryValidatesConfig(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("stub", stubFactory)

	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero dim", Config{Kind: "stub", Dim: 0}},
		{"bad metric", Config{Kind: "stub", Dim: 2, Metric: distance.Metric(9)}},
		{"unknown param", Config{Kind: "stub", Dim: 2, Params: Params{"nope": 1}}},
		{"non-positive", Config{Kind: "stub", Dim: 2, Params: Params{"size": 0}}},
		{"fractional", Config{Kind: "stub", Dim: 2, Params: Params{"size": 1.5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, r.Check(tt.cfg), vecbench.ErrConfig)
		})
	}
}

func TestConfigEqualAndString(t *testing.T) {
	a := Config{Kind: KindHNSW, Dim: 4, Metric: distance.MetricCosine, Params: Params{"M": 16}}
	b := Config{Kind: KindHNSW, Dim: 4, Metric: distance.MetricCosine, Params: Params{"M": float64(16)}}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(Config{Kind: KindHNSW, Dim: 4}))
	assert.Equal(t, "hnsw/cosine/4{M=16}", a.String())

	n, err := Params{"n": "12"}.Int("n", 0)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
}

func TestStoreCheck(t *testing.T) {
	s := NewStore(2, true)
	require.NoError(t, s.Check([]Vector{{ID: "a", Values: []float32{1, 2}}}))
	s.Append("a", []float32{1, 2})

	assert.ErrorIs(t, s.Check([]Vector{{ID: "a", Values: []float32{1, 2}}}), ErrDuplicateID)
	assert.ErrorIs(t, s.Check([]Vector{{ID: "b", Values: []float32{1}}}), vecbench.ErrConfig)
	assert.ErrorIs(t, s.Check([]Vector{
		{ID: "b", Values: []float32{1, 2}},
		{ID: "b", Values: []float32{3, 4}},
	}), ErrDuplicateID)

	assert.Equal(t, []float32{1, 2}, s.Vector(0))
	ord, ok := s.Ordinal("a")
	assert.True(t, ok)
	assert.Equal(t, uint32(0), ord)
}

func TestCheckQuery(t *testing.T) {
	cfg := Config{Kind: KindFlat, Dim: 2}
	assert.NoError(t, CheckQuery(cfg, []float32{0, 0}, 1))
	assert.ErrorIs(t, CheckQuery(cfg, []float32{0}, 1), vecbench.ErrConfig)
	assert.ErrorIs(t, CheckQuery(cfg, []float32{0, 0}, 0), vecbench.ErrConfig)
	assert.ErrorIs(t, Unsupported(KindPQ, "add"), vecbench.ErrUnsupportedOperation)
}
