// Package testutil provides testing utilities for vecbench.
//
// This package is intended for use in tests only. It provides helpers for
// generating seeded random vectors, computing exact nearest neighbors and
// verifying search recall.
//
//	rng := testutil.NewRNG(42)
//	vecs := testutil.Vectors("doc", rng.ClusteredVectors(1000, 32, 10, 0.1))
//	truth := testutil.BruteForceSearch(vecs, distance.MetricL2, query, 10)
//	recall := testutil.ComputeRecall(truth, approx)
package testutil
