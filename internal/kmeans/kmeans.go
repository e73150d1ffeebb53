package kmeans

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sort"

	"github.com/hupe1980/vecbench/distance"
)

// ErrNoData is returned when training is attempted on an empty set.
var ErrNoData = errors.New("kmeans: no training vectors")

// Train learns k centroids from vectors (flattened, n*dim) with k-means++
// seeding followed by Lloyd iterations under squared L2.
// It returns the flattened centroids (k*dim). k is clamped to n.
// The result is fully determined by rng.
func Train(ctx context.Context, vectors []float32, dim, k, maxIter int, rng *rand.Rand) ([]float32, error) {
	if dim <= 0 {
		return nil, errors.New("kmeans: dimension must be positive")
	}
	n := len(vectors) / dim
	if n == 0 {
		return nil, ErrNoData
	}
	if k > n {
		k = n
	}
	if k <= 0 {
		return nil, errors.New("kmeans: k must be positive")
	}

	centroids := seed(vectors, dim, n, k, rng)

	assignments := make([]int, n)
	for i := range assignments {
		assignments[i] = -1
	}
	counts := make([]int, k)
	sums := make([]float32, k*dim)

	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		changed := false

		// Assignment step
		for i := 0; i < n; i++ {
			c := Nearest(vectors[i*dim:(i+1)*dim], centroids, dim)
			if assignments[i] != c {
				assignments[i] = c
				changed = true
			}
		}

		if !changed {
			break
		}

		// Update step
		clear(sums)
		clear(counts)
		for i := 0; i < n; i++ {
			c := assignments[i]
			vec := vectors[i*dim : (i+1)*dim]
			row := sums[c*dim : (c+1)*dim]
			for d := range vec {
				row[d] += vec[d]
			}
			counts[c]++
		}

		for j := 0; j < k; j++ {
			if counts[j] == 0 {
				// Re-seed an empty cluster with a random point.
				idx := rng.Intn(n)
				copy(centroids[j*dim:(j+1)*dim], vectors[idx*dim:(idx+1)*dim])
				continue
			}
			scale := 1 / float32(counts[j])
			for d := 0; d < dim; d++ {
				centroids[j*dim+d] = sums[j*dim+d] * scale
			}
		}
	}

	return centroids, nil
}

func seed(vectors []float32, dim, n, k int, rng *rand.Rand) []float32 {
	centroids := make([]float32, k*dim)

	first := rng.Intn(n)
	copy(centroids[:dim], vectors[first*dim:(first+1)*dim])

	// minDist tracks each vector's squared distance to its nearest chosen centroid.
	minDist := make([]float64, n)
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(distance.SquaredL2(vectors[i*dim:(i+1)*dim], centroids[:dim]))
		minDist[i] = d
		sum += d
	}

	for c := 1; c < k; c++ {
		chosen := rng.Intn(n)
		if sum > 0 {
			target := rng.Float64() * sum
			var cumsum float64
			for i, d := range minDist {
				cumsum += d
				if cumsum >= target {
					chosen = i
					break
				}
			}
		}
		center := centroids[c*dim : (c+1)*dim]
		copy(center, vectors[chosen*dim:(chosen+1)*dim])

		sum = 0
		for i := 0; i < n; i++ {
			d := float64(distance.SquaredL2(vectors[i*dim:(i+1)*dim], center))
			if d < minDist[i] {
				minDist[i] = d
			}
			sum += minDist[i]
		}
	}

	return centroids
}

// Nearest returns the index of the centroid closest to vec under squared L2.
func Nearest(vec, centroids []float32, dim int) int {
	k := len(centroids) / dim
	best := 0
	minDist := float32(math.MaxFloat32)
	for j := 0; j < k; j++ {
		d := distance.SquaredL2(vec, centroids[j*dim:(j+1)*dim])
		if d < minDist {
			minDist = d
			best = j
		}
	}
	return best
}

type centroidDist struct {
	id   int
	dist float32
}

// Closest returns the indices of the n centroids closest to query under
// metric, closest first. Ties are broken by centroid index.
func Closest(query, centroids []float32, dim, n int, metric distance.Metric) []int {
	k := len(centroids) / dim
	if n > k {
		n = k
	}

	dists := make([]centroidDist, k)
	for i := 0; i < k; i++ {
		dists[i] = centroidDist{id: i, dist: metric.Distance(query, centroids[i*dim:(i+1)*dim])}
	}

	sort.SliceStable(dists, func(i, j int) bool {
		return dists[i].dist < dists[j].dist
	})

	result := make([]int, n)
	for i := 0; i < n; i++ {
		result[i] = dists[i].id
	}
	return result
}
