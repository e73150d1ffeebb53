package kmeans

import (
	"context"
	"math/rand"
	"testing"

	"github.com/hupe1980/vecbench/distance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrain(t *testing.T) {
	ctx := context.Background()
	// 2 clusters: (0,0) and (10,10)
	vecs := []float32{
		0, 0, 0, 1, 1, 0,
		10, 10, 10, 11, 11, 10,
	}

	centroids, err := Train(ctx, vecs, 2, 2, 100, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Len(t, centroids, 4)

	p1 := Nearest([]float32{0.5, 0.5}, centroids, 2)
	p2 := Nearest([]float32{10.5, 10.5}, centroids, 2)
	assert.NotEqual(t, p1, p2)
}

func TestTrainClampsK(t *testing.T) {
	centroids, err := Train(context.Background(), []float32{1, 2, 3, 4}, 2, 10, 5, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Len(t, centroids, 4)
}

func TestTrainDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	vecs := make([]float32, 200*4)
	for i := range vecs {
		vecs[i] = rng.Float32()
	}

	a, err := Train(context.Background(), vecs, 4, 8, 10, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	b, err := Train(context.Background(), vecs, 4, 8, 10, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestTrainErrors(t *testing.T) {
	_, err := Train(context.Background(), nil, 2, 2, 10, rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, ErrNoData)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Train(ctx, []float32{0, 0, 1, 1}, 2, 2, 10, rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClosest(t *testing.T) {
	centroids := []float32{0, 0, 5, 5, 1, 1}
	got := Closest([]float32{0.9, 0.9}, centroids, 2, 2, distance.MetricL2)
	assert.Equal(t, []int{2, 0}, got)

	all := Closest([]float32{0, 0}, centroids, 2, 10, distance.MetricL2)
	assert.Len(t, all, 3)
}
