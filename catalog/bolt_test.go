package catalog

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/vecbench"
	"github.com/hupe1980/vecbench/distance"
	"github.com/hupe1980/vecbench/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openBolt(t *testing.T) *Bolt {
	t.Helper()
	c, err := OpenBolt(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func record(name string, version uint64) Record {
	return Record{
		Name:        name,
		Version:     version,
		Blob:        BlobName(name, version, "abc"),
		Config:      index.Config{Kind: index.KindIVF, Dim: 8, Metric: distance.MetricCosine, Params: index.Params{"nlist": 4}},
		VectorCount: 100,
		CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		BuildMillis: 12,
	}
}

func TestBoltCommitLatest(t *testing.T) {
	ctx := context.Background()
	c := openBolt(t)

	_, err := c.Latest(ctx, "docs")
	assert.ErrorIs(t, err, ErrNotFound)

	next, err := Next(ctx, c, "docs")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), next)

	for v := uint64(1); v <= 3; v++ {
		require.NoError(t, c.Commit(ctx, record("docs", v)))
	}
	require.NoError(t, c.Commit(ctx, record("other", 1)))

	latest, err := c.Latest(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), latest.Version)
	assert.Equal(t, "docs/v000003-abc.vbx", latest.Blob)
	assert.Equal(t, index.KindIVF, latest.Config.Kind)
	assert.Equal(t, distance.MetricCosine, latest.Config.Metric)
	nlist, err := latest.Config.Params.Int("nlist", 0)
	require.NoError(t, err)
	assert.Equal(t, 4, nlist)

	next, err = Next(ctx, c, "docs")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), next)

	err = c.Commit(ctx, record("docs", 2))
	assert.ErrorIs(t, err, ErrConcurrentModification)

	recs, err := c.List(ctx, "docs")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for i, r := range recs {
		assert.Equal(t, uint64(i+1), r.Version)
	}

	got, err := c.Get(ctx, "docs", 2)
	require.NoError(t, err)
	assert.Equal(t, 100, got.VectorCount)
	_, err = c.Get(ctx, "docs", 9)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Delete(ctx, "docs", 3))
	latest, err = c.Latest(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), latest.Version)

	names, err := c.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs", "other"}, names)
}

func TestBoltConcurrentCommit(t *testing.T) {
	ctx := context.Background()
	c := openBolt(t)

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.Commit(ctx, record("race", 1))
			if err == nil {
				wins.Add(1)
			} else if assert.ErrorIs(t, err, ErrConcurrentModification) {
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(7), conflicts.Load())
}

func TestValidateName(t *testing.T) {
	for _, bad := range []string{"", "a/b", `a\b`, ".", ".."} {
		assert.ErrorIs(t, ValidateName(bad), vecbench.ErrConfig, bad)
	}
	assert.NoError(t, ValidateName("docs-2026"))

	c := openBolt(t)
	assert.ErrorIs(t, c.Commit(context.Background(), record("docs", 0)), vecbench.ErrConfig)
}
