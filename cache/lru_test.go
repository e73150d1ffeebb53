package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/hupe1980/vecbench/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU(t *testing.T) {
	c := New[string, int](2)

	assert.True(t, c.Set("a", 1))
	assert.True(t, c.Set("b", 2))

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	// "b" is least recently used.
	c.Set("c", 3)
	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)

	c.Set("a", 10)
	v, _ = c.Get("a")
	assert.Equal(t, 10, v)

	stats := c.Stats()
	assert.Equal(t, int64(3), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, 2, stats.Len)

	c.Remove("a")
	assert.Equal(t, 1, c.Len())
	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestLRUZeroCapacity(t *testing.T) {
	c := New[string, int](0)
	assert.False(t, c.Set("a", 1))
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestLRUMemoryAccounting(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 100})
	c := New(10, WithResourceController[string](rc, func(b []byte) int64 { return int64(len(b)) }))

	assert.True(t, c.Set("a", make([]byte, 60)))
	assert.Equal(t, int64(60), rc.MemoryUsage())

	// Global limit denies the second value.
	assert.False(t, c.Set("b", make([]byte, 50)))
	assert.Equal(t, 1, c.Len())

	c.Remove("a")
	assert.Zero(t, rc.MemoryUsage())
	assert.True(t, c.Set("b", make([]byte, 50)))
}

func TestLRUConcurrent(t *testing.T) {
	c := New[string, int](100)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("k%d", i%150)
				if _, ok := c.Get(key); !ok {
					c.Set(key, i)
				}
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 100)
}
