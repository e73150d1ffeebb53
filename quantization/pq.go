package quantization

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/hupe1980/vecbench/distance"
	"github.com/hupe1980/vecbench/internal/kmeans"
	"github.com/hupe1980/vecbench/persistence"
)

// MaxCentroids is the largest codebook size representable by byte codes.
const MaxCentroids = 256

// ErrNotTrained is returned when encoding with an untrained quantizer.
var ErrNotTrained = errors.New("quantization: product quantizer not trained")

// ProductQuantizer implements Product Quantization (PQ).
//
// Example: 128-dim vector with M=8 subvectors → 8 uint8 codes = 8 bytes (64x compression vs float32)
type ProductQuantizer struct {
	dimension     int       // D: original vector dimension
	numSubvectors int       // M: number of subvectors
	numCentroids  int       // K: centroids per subspace (<= 256)
	subvectorDim  int       // D/M: dimensions per subvector
	codebooks     []float32 // M*K*(D/M), codebook m centroid k at (m*K+k)*(D/M)
	trained       bool
}

// NewProductQuantizer creates a new PQ quantizer.
// Parameters:
//   - dimension: vector dimensionality (must be divisible by numSubvectors)
//   - numSubvectors: number of subvectors to split into (M)
//   - numCentroids: number of centroids per subspace (K, at most 256)
func NewProductQuantizer(dimension, numSubvectors, numCentroids int) (*ProductQuantizer, error) {
	if dimension <= 0 || numSubvectors <= 0 {
		return nil, fmt.Errorf("quantization: dimension and subvector count must be positive")
	}
	if dimension%numSubvectors != 0 {
		return nil, fmt.Errorf("quantization: dimension %d is not divisible by %d subvectors", dimension, numSubvectors)
	}
	if numCentroids <= 0 || numCentroids > MaxCentroids {
		return nil, fmt.Errorf("quantization: centroid count must be in [1, %d], got %d", MaxCentroids, numCentroids)
	}

	return &ProductQuantizer{
		dimension:     dimension,
		numSubvectors: numSubvectors,
		numCentroids:  numCentroids,
		subvectorDim:  dimension / numSubvectors,
	}, nil
}

// Train learns one codebook per subspace from vectors (flattened, n*D).
// The centroid count is clamped to n. The result is fully determined by rng.
func (pq *ProductQuantizer) Train(ctx context.Context, vectors []float32, iterations int, rng *rand.Rand) error {
	n := len(vectors) / pq.dimension
	if n == 0 {
		return errors.New("quantization: no vectors provided for training")
	}
	if len(vectors) != n*pq.dimension {
		return fmt.Errorf("quantization: training data is not a multiple of dimension %d", pq.dimension)
	}

	k := min(pq.numCentroids, n)
	dsub := pq.subvectorDim
	codebooks := make([]float32, pq.numSubvectors*k*dsub)
	sub := make([]float32, n*dsub)

	// Train one codebook per subvector
	for m := 0; m < pq.numSubvectors; m++ {
		for i := 0; i < n; i++ {
			copy(sub[i*dsub:(i+1)*dsub], vectors[i*pq.dimension+m*dsub:i*pq.dimension+(m+1)*dsub])
		}

		centroids, err := kmeans.Train(ctx, sub, dsub, k, iterations, rng)
		if err != nil {
			return fmt.Errorf("quantization: subspace %d: %w", m, err)
		}
		copy(codebooks[m*k*dsub:], centroids)
	}

	pq.numCentroids = k
	pq.codebooks = codebooks
	pq.trained = true
	return nil
}

func (pq *ProductQuantizer) centroid(m, k int) []float32 {
	off := (m*pq.numCentroids + k) * pq.subvectorDim
	return pq.codebooks[off : off+pq.subvectorDim]
}

// Encode quantizes vec into dst, which must hold M bytes.
func (pq *ProductQuantizer) Encode(vec []float32, dst []byte) error {
	if !pq.trained {
		return ErrNotTrained
	}
	if len(vec) != pq.dimension || len(dst) != pq.numSubvectors {
		return fmt.Errorf("quantization: encode: got %d values into %d codes", len(vec), len(dst))
	}

	dsub := pq.subvectorDim
	for m := 0; m < pq.numSubvectors; m++ {
		base := pq.codebooks[m*pq.numCentroids*dsub : (m+1)*pq.numCentroids*dsub]
		dst[m] = uint8(kmeans.Nearest(vec[m*dsub:(m+1)*dsub], base, dsub))
	}
	return nil
}

// Decode reconstructs an approximate vector from PQ codes.
func (pq *ProductQuantizer) Decode(codes []byte) []float32 {
	out := make([]float32, pq.dimension)
	for m, c := range codes[:pq.numSubvectors] {
		copy(out[m*pq.subvectorDim:], pq.centroid(m, int(c)))
	}
	return out
}

// BuildDistanceTable precomputes distances from a query to all centroids.
// Returns a flattened table of size M*K where table[m*K+k] is the distance
// contribution of query subvector m against centroid k under metric
// (squared L2 for l2, negative dot product for cosine and dot).
func (pq *ProductQuantizer) BuildDistanceTable(query []float32, metric distance.Metric) []float32 {
	table := make([]float32, pq.numSubvectors*pq.numCentroids)
	dsub := pq.subvectorDim
	for m := 0; m < pq.numSubvectors; m++ {
		qs := query[m*dsub : (m+1)*dsub]
		for k := 0; k < pq.numCentroids; k++ {
			table[m*pq.numCentroids+k] = metric.Distance(qs, pq.centroid(m, k))
		}
	}
	return table
}

// AdcDistance computes the approximate distance between a query (represented
// by its distance table) and a quantized vector.
func (pq *ProductQuantizer) AdcDistance(table []float32, codes []byte) float32 {
	var d float32
	k := pq.numCentroids
	for m, c := range codes[:pq.numSubvectors] {
		d += table[m*k+int(c)]
	}
	return d
}

// Dimension returns D.
func (pq *ProductQuantizer) Dimension() int { return pq.dimension }

// NumSubvectors returns the number of subvectors (M).
func (pq *ProductQuantizer) NumSubvectors() int { return pq.numSubvectors }

// NumCentroids returns the number of centroids per subspace (K).
func (pq *ProductQuantizer) NumCentroids() int { return pq.numCentroids }

// IsTrained returns whether the quantizer has been trained.
func (pq *ProductQuantizer) IsTrained() bool { return pq.trained }

// BytesPerVector returns the compressed size per vector in bytes.
func (pq *ProductQuantizer) BytesPerVector() int { return pq.numSubvectors }

// CodebookBytes returns the resident size of the codebooks.
func (pq *ProductQuantizer) CodebookBytes() int64 { return int64(len(pq.codebooks)) * 4 }

// WriteBinary writes the quantizer shape and codebooks.
func (pq *ProductQuantizer) WriteBinary(bw *persistence.BinaryWriter) {
	bw.Uint32(uint32(pq.dimension))
	bw.Uint32(uint32(pq.numSubvectors))
	bw.Uint32(uint32(pq.numCentroids))
	if pq.trained {
		bw.Uint8(1)
		bw.Float32s(pq.codebooks)
	} else {
		bw.Uint8(0)
	}
}

// ReadProductQuantizer reads a quantizer written by WriteBinary.
func ReadProductQuantizer(br *persistence.BinaryReader) (*ProductQuantizer, error) {
	dim := int(br.Uint32())
	m := int(br.Uint32())
	k := int(br.Uint32())
	trained := br.Uint8() == 1
	if err := br.Err(); err != nil {
		return nil, err
	}

	pq, err := NewProductQuantizer(dim, m, k)
	if err != nil {
		return nil, err
	}
	if trained {
		pq.codebooks = br.Float32s(m * k * pq.subvectorDim)
		if err := br.Err(); err != nil {
			return nil, err
		}
		pq.trained = true
	}
	return pq, nil
}
