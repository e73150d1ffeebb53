// Package distance provides vector distance kernels and the metric enum shared
// by every index backend.
//
// # Supported Metrics
//
//   - MetricCosine: cosine similarity (dot product of L2-normalized vectors)
//   - MetricL2: squared Euclidean distance
//   - MetricDot: dot product (inner product)
//
// Internally every backend ranks by a distance where smaller is closer
// (see Metric.Distance). Metric.Score converts that distance back into the
// number reported to callers: squared L2 distance for MetricL2 (ascending),
// similarity for MetricCosine and MetricDot (descending).
//
// # Usage
//
//	m, _ := distance.ParseMetric("cosine")
//	q := m.Prepare(query)          // normalizes for cosine
//	d := m.Distance(q, stored)     // smaller is closer
//	score := m.Score(d)            // similarity for cosine/dot
package distance
