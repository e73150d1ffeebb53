package embedding

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/vecbench"
	"github.com/hupe1980/vecbench/chunker"
	"github.com/hupe1980/vecbench/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider returns [len(text), 1, ...] vectors and records calls.
type fakeProvider struct {
	mu       sync.Mutex
	dim      int
	calls    int
	batches  [][]string
	failures int   // number of leading calls that fail
	err      error // error returned by failing calls
	dimFor   func(text string) int

	running atomic.Int32
	peak    atomic.Int32
	delay   time.Duration
}

func (f *fakeProvider) Models() []string { return []string{"fake"} }

func (f *fakeProvider) Embed(ctx context.Context, texts []string, _ string) ([][]float32, error) {
	cur := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		p := f.peak.Load()
		if cur <= p || f.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.calls++
	f.batches = append(f.batches, append([]string(nil), texts...))
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return nil, f.err
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		dim := f.dim
		if f.dimFor != nil {
			dim = f.dimFor(t)
		}
		v := make([]float32, dim)
		v[0] = float32(len(t))
		if dim > 1 {
			v[1] = 1
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestGatewayUnknownModelFailsBeforeCall(t *testing.T) {
	p := &fakeProvider{dim: 3}
	g, err := NewGateway(p)
	require.NoError(t, err)

	_, err = g.Embed(context.Background(), []string{"a"}, "gpt-unknown")
	var cfgErr *vecbench.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "embedding_model", cfgErr.Field)
	assert.Zero(t, p.callCount())
}

func TestGatewayBatchesAndAligns(t *testing.T) {
	p := &fakeProvider{dim: 4}
	g, err := NewGateway(p, WithBatchSize(2))
	require.NoError(t, err)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	embs, err := g.Embed(context.Background(), texts, "fake")
	require.NoError(t, err)
	require.Len(t, embs, 5)
	for i, e := range embs {
		assert.Equal(t, 4, e.Dim)
		assert.Equal(t, float32(len(texts[i])), e.Values[0])
	}
	assert.Equal(t, 3, p.callCount())
	for _, b := range p.batches {
		assert.LessOrEqual(t, len(b), 2)
	}
	assert.Equal(t, 4, g.Dimension("fake"))

	empty, err := g.Embed(context.Background(), nil, "fake")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGatewayCache(t *testing.T) {
	p := &fakeProvider{dim: 2}
	g, err := NewGateway(p)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = g.Embed(ctx, []string{"x", "y", "x"}, "fake")
	require.NoError(t, err)
	require.Equal(t, 1, p.callCount())
	// Duplicates inside one call are fetched once.
	assert.Equal(t, []string{"x", "y"}, p.batches[0])

	embs, err := g.Embed(ctx, []string{"y", "x"}, "fake")
	require.NoError(t, err)
	assert.Equal(t, 1, p.callCount())
	assert.Equal(t, float32(1), embs[0].Values[0])

	// Returned vectors are copies.
	embs[0].Values[0] = 99
	again, err := g.Embed(ctx, []string{"y"}, "fake")
	require.NoError(t, err)
	assert.Equal(t, float32(1), again[0].Values[0])
	assert.Equal(t, int64(3), g.CacheStats().Hits)
}

func TestGatewayCacheDisabled(t *testing.T) {
	p := &fakeProvider{dim: 2}
	g, err := NewGateway(p, WithCacheSize(0))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = g.Embed(context.Background(), []string{"x"}, "fake")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, p.callCount())
}

func TestGatewayRetries(t *testing.T) {
	transient := errors.New("503")
	p := &fakeProvider{dim: 2, failures: 2, err: transient}
	g, err := NewGateway(p, WithRetry(3, time.Millisecond))
	require.NoError(t, err)

	embs, err := g.Embed(context.Background(), []string{"a"}, "fake")
	require.NoError(t, err)
	assert.Len(t, embs, 1)
	assert.Equal(t, 3, p.callCount())
}

func TestGatewayRetriesExhausted(t *testing.T) {
	transient := errors.New("503")
	p := &fakeProvider{dim: 2, failures: 100, err: transient}
	g, err := NewGateway(p, WithRetry(2, time.Millisecond))
	require.NoError(t, err)

	_, err = g.Embed(context.Background(), []string{"a"}, "fake")
	var embErr *vecbench.EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.Equal(t, 3, embErr.Attempts)
	assert.ErrorIs(t, err, vecbench.ErrEmbedding)
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 3, p.callCount())
}

func TestGatewayPermanentErrorNotRetried(t *testing.T) {
	p := &fakeProvider{dim: 2, failures: 100, err: Permanent(errors.New("400 bad request"))}
	g, err := NewGateway(p, WithRetry(3, time.Millisecond))
	require.NoError(t, err)

	_, err = g.Embed(context.Background(), []string{"a"}, "fake")
	assert.ErrorIs(t, err, vecbench.ErrEmbedding)
	assert.Equal(t, 1, p.callCount())
}

func TestGatewayDimensionMismatchRejectsWholeCall(t *testing.T) {
	p := &fakeProvider{dimFor: func(text string) int {
		if text == "odd" {
			return 3
		}
		return 2
	}}
	g, err := NewGateway(p, WithBatchSize(1))
	require.NoError(t, err)

	_, err = g.Embed(context.Background(), []string{"a", "odd", "b"}, "fake")
	assert.ErrorIs(t, err, vecbench.ErrEmbedding)

	// Nothing from the failed call was cached.
	assert.Zero(t, g.CacheStats().Len)
}

func TestGatewayDimensionPinnedPerModel(t *testing.T) {
	p := &fakeProvider{dim: 2}
	g, err := NewGateway(p)
	require.NoError(t, err)

	_, err = g.Embed(context.Background(), []string{"a"}, "fake")
	require.NoError(t, err)

	p.dim = 5
	_, err = g.Embed(context.Background(), []string{"b"}, "fake")
	assert.ErrorIs(t, err, vecbench.ErrEmbedding)
}

func TestGatewayBoundsInFlightBatches(t *testing.T) {
	p := &fakeProvider{dim: 2, delay: 5 * time.Millisecond}
	rc := resource.NewController(resource.Config{MaxInFlight: 2})
	g, err := NewGateway(p, WithBatchSize(1), WithResources(rc))
	require.NoError(t, err)

	texts := make([]string, 12)
	for i := range texts {
		texts[i] = string(rune('a' + i))
	}
	_, err = g.Embed(context.Background(), texts, "fake")
	require.NoError(t, err)
	assert.Equal(t, 12, p.callCount())
	assert.LessOrEqual(t, p.peak.Load(), int32(2))
}

func TestGatewayNormalize(t *testing.T) {
	p := &fakeProvider{dim: 2}
	g, err := NewGateway(p, WithNormalize(true))
	require.NoError(t, err)

	embs, err := g.Embed(context.Background(), []string{"abc"}, "fake")
	require.NoError(t, err)
	v := embs[0].Values
	assert.InDelta(t, 1.0, v[0]*v[0]+v[1]*v[1], 1e-5)
}

func TestGatewayEmbedChunks(t *testing.T) {
	g, err := NewGateway(NewHashProvider(32))
	require.NoError(t, err)

	seq, err := chunker.Fixed("doc", "the quick brown fox jumps over the lazy dog", 12, 3)
	require.NoError(t, err)
	var chunks []chunker.Chunk
	for c := range seq {
		chunks = append(chunks, c)
	}

	vecs, err := g.EmbedChunks(context.Background(), chunks, HashModel)
	require.NoError(t, err)
	require.Len(t, vecs, len(chunks))
	for i, v := range vecs {
		assert.Equal(t, chunks[i].ID, v.ID)
		assert.Len(t, v.Values, 32)
	}
}

func TestGatewayConfigValidation(t *testing.T) {
	_, err := NewGateway(nil)
	assert.ErrorIs(t, err, vecbench.ErrConfig)

	_, err = NewGateway(&fakeProvider{}, WithBatchSize(0))
	assert.ErrorIs(t, err, vecbench.ErrConfig)

	_, err = NewGateway(&fakeProvider{}, WithModels())
	assert.ErrorIs(t, err, vecbench.ErrConfig)

	g, err := NewGateway(&fakeProvider{}, WithModels("b", "a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, g.Models())
}
