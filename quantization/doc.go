// Package quantization provides product quantization for compact vector storage.
//
// A ProductQuantizer splits each vector into M sub-vectors and replaces each
// with the index of its nearest centroid in a per-subspace codebook learned
// with k-means. With at most 256 centroids per subspace a vector of D float32
// values (4·D bytes) is stored as M bytes.
//
// Search uses asymmetric distance computation (ADC): the query stays at full
// precision, a table of query-to-centroid distances is computed once per
// query, and the distance to an encoded vector is the sum of M table lookups.
package quantization
