// Package kmeans implements seeded k-means clustering over flattened vectors.
//
// Used by the ivf backend to learn its coarse quantizer and by product
// quantization to learn per-subspace codebooks.
package kmeans
