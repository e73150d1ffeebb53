// Package benchmark drives build and query cycles across index
// configurations and reports latency, recall and memory per configuration.
//
// A Runner builds every configuration fresh from the same dataset, runs all
// queries sequentially and scores recall@k against exact results from the
// flat backend. A configuration that fails to build or search yields a
// Record with Error set; the remaining grid still runs. Only structurally
// invalid input (unknown backend kind, bad metric, dimension mismatch with
// the dataset, k <= 0) fails the whole run before any build starts.
//
// Configurations run one at a time by default. WithParallelism runs several
// at once; memory estimates stay exact but latencies then include
// contention between builds.
//
// Evaluate scores a query engine against a golden set of questions with
// known answers (hit rate@k, MRR, nDCG).
package benchmark
