package benchmark

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/vecbench"
	"github.com/hupe1980/vecbench/distance"
	"github.com/hupe1980/vecbench/engine"
	"github.com/hupe1980/vecbench/index"
	"github.com/hupe1980/vecbench/index/flat"
	"github.com/hupe1980/vecbench/resource"
)

// DefaultWarmup is the number of untimed queries run before measuring.
const DefaultWarmup = 10

// Record is the result of benchmarking one configuration.
type Record struct {
	Config          index.Config `json:"config"`
	DatasetSize     int          `json:"dataset_size"`
	QueryCount      int          `json:"query_count"`
	K               int          `json:"k"`
	BuildLatencyMS  float64      `json:"build_latency_ms"`
	QueryLatencyP50 float64      `json:"query_latency_p50_ms"`
	QueryLatencyP95 float64      `json:"query_latency_p95_ms"`
	RecallAtK       float64      `json:"recall_at_k"`
	MemoryBytes     int64        `json:"memory_bytes"`
	StartedAt       time.Time    `json:"started_at"`
	Error           string       `json:"error,omitempty"`
}

// Failed reports whether the configuration could not be benchmarked.
func (r Record) Failed() bool { return r.Error != "" }

// Options configures a Runner.
type Options struct {
	// Parallelism is the number of configurations benchmarked at once.
	Parallelism int

	// Warmup is the number of untimed queries per configuration.
	Warmup int

	// Progress is called after each configuration finishes.
	Progress func(done, total int, rec Record)

	Logger  *vecbench.Logger
	Metrics vecbench.MetricsCollector
}

// Option configures a Runner.
type Option func(o *Options)

// WithParallelism benchmarks up to n configurations concurrently.
func WithParallelism(n int) Option {
	return func(o *Options) { o.Parallelism = n }
}

// WithWarmup sets the number of untimed warmup queries.
func WithWarmup(n int) Option {
	return func(o *Options) { o.Warmup = n }
}

// WithProgress sets the progress callback.
func WithProgress(fn func(done, total int, rec Record)) Option {
	return func(o *Options) { o.Progress = fn }
}

// WithLogger sets the logger.
func WithLogger(l *vecbench.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithMetrics sets the metrics collector passed to every built handle.
func WithMetrics(m vecbench.MetricsCollector) Option {
	return func(o *Options) { o.Metrics = m }
}

// Runner benchmarks index configurations.
type Runner struct {
	reg    *index.Registry
	opts   Options
	logger *vecbench.Logger
}

// NewRunner creates a Runner resolving backends from reg.
func NewRunner(reg *index.Registry, optFns ...Option) *Runner {
	opts := Options{Parallelism: 1, Warmup: DefaultWarmup}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = vecbench.NoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = vecbench.NoopMetricsCollector{}
	}
	opts.Parallelism = max(opts.Parallelism, 1)
	return &Runner{reg: reg, opts: opts, logger: opts.Logger.WithComponent("benchmark")}
}

// Run benchmarks every configuration against dataset and returns one
// record per configuration in input order.
func (r *Runner) Run(ctx context.Context, configs []index.Config, dataset []index.Vector, queries [][]float32, k int) ([]Record, error) {
	if err := r.check(configs, dataset, queries, k); err != nil {
		return nil, err
	}

	truth, err := groundTruth(ctx, configs, dataset, queries, k)
	if err != nil {
		return nil, err
	}

	records := make([]Record, len(configs))
	var (
		mu       sync.Mutex
		finished int
	)
	err = resource.ForEach(ctx, len(configs), r.opts.Parallelism, func(ctx context.Context, i int) error {
		rec, err := r.runOne(ctx, configs[i], dataset, queries, truth[configs[i].Metric], k)
		if err != nil {
			return err
		}
		records[i] = rec
		if r.opts.Progress != nil {
			mu.Lock()
			finished++
			r.opts.Progress(finished, len(configs), rec)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *Runner) check(configs []index.Config, dataset []index.Vector, queries [][]float32, k int) error {
	if k <= 0 {
		return vecbench.NewConfigError("k", fmt.Sprintf("must be positive, got %d", k))
	}
	dim := -1
	switch {
	case len(dataset) > 0:
		dim = len(dataset[0].Values)
	case len(queries) > 0:
		dim = len(queries[0])
	}
	for i, q := range queries {
		if dim >= 0 && len(q) != dim {
			return vecbench.WrapConfigError(fmt.Sprintf("queries[%d]", i), &vecbench.DimensionMismatchError{Expected: dim, Actual: len(q)})
		}
	}
	for i, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("benchmark: configs[%d]: %w", i, err)
		}
		if _, err := r.reg.Resolve(cfg.Kind, cfg.Params); err != nil {
			return fmt.Errorf("benchmark: configs[%d]: %w", i, err)
		}
		if dim >= 0 && cfg.Dim != dim {
			return vecbench.WrapConfigError(fmt.Sprintf("configs[%d].dim", i), &vecbench.DimensionMismatchError{Expected: dim, Actual: cfg.Dim})
		}
	}
	return nil
}

// groundTruth computes exact top-k ids per query, once per metric in use.
func groundTruth(ctx context.Context, configs []index.Config, dataset []index.Vector, queries [][]float32, k int) (map[distance.Metric][][]string, error) {
	out := make(map[distance.Metric][][]string)
	for _, cfg := range configs {
		if _, ok := out[cfg.Metric]; ok {
			continue
		}
		exact, err := flat.New(index.Config{Kind: index.KindFlat, Dim: cfg.Dim, Metric: cfg.Metric})
		if err != nil {
			return nil, err
		}
		if err := exact.Build(ctx, dataset); err != nil {
			return nil, fmt.Errorf("benchmark: ground truth: %w", err)
		}
		ids := make([][]string, len(queries))
		for i, q := range queries {
			res, err := exact.Search(ctx, q, k)
			if err != nil {
				return nil, fmt.Errorf("benchmark: ground truth: %w", err)
			}
			ids[i] = resultIDs(res)
		}
		out[cfg.Metric] = ids
	}
	return out, nil
}

// runOne benchmarks one configuration. Backend failures, panics included,
// are recorded in the returned Record; only context cancellation is returned
// as an error.
func (r *Runner) runOne(ctx context.Context, cfg index.Config, dataset []index.Vector, queries [][]float32, truth [][]string, k int) (out Record, err error) {
	rec := Record{
		Config:      cfg,
		DatasetSize: len(dataset),
		QueryCount:  len(queries),
		K:           k,
		StartedAt:   time.Now().UTC(),
	}
	logger := r.logger.WithBackend(string(cfg.Kind))

	fail := func(stage string, err error) (Record, error) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Record{}, ctxErr
		}
		rec.Error = fmt.Sprintf("%s: %v", stage, err)
		logger.ErrorContext(ctx, "benchmark config failed", "stage", stage, "params", cfg.Params, "error", err)
		return rec, nil
	}

	stage := "build"
	defer func() {
		if p := recover(); p != nil {
			out, err = fail(stage, fmt.Errorf("panic: %v", p))
		}
	}()

	start := time.Now()
	h, err := engine.Build(ctx, r.reg, cfg, dataset,
		engine.WithLogger(logger),
		engine.WithMetrics(r.opts.Metrics),
	)
	if err != nil {
		return fail("build", err)
	}
	rec.BuildLatencyMS = millis(time.Since(start))

	stage = "warmup"
	for i := range min(r.opts.Warmup, len(queries)) {
		if _, err := h.Search(ctx, queries[i], k); err != nil {
			return fail("warmup", err)
		}
	}

	latencies := make([]time.Duration, len(queries))
	var recall float64
	stage = "search"
	for i, q := range queries {
		t := time.Now()
		res, err := h.Search(ctx, q, k)
		latencies[i] = time.Since(t)
		if err != nil {
			return fail("search", err)
		}
		recall += Recall(truth[i], resultIDs(res))
	}

	if len(queries) > 0 {
		slices.Sort(latencies)
		rec.QueryLatencyP50 = millis(Percentile(latencies, 50))
		rec.QueryLatencyP95 = millis(Percentile(latencies, 95))
		rec.RecallAtK = recall / float64(len(queries))
	}
	rec.MemoryBytes = h.EstimateMemory()

	logger.InfoContext(ctx, "benchmark config done",
		"params", cfg.Params,
		"build_ms", rec.BuildLatencyMS,
		"p50_ms", rec.QueryLatencyP50,
		"p95_ms", rec.QueryLatencyP95,
		"recall", rec.RecallAtK,
		"memory_bytes", rec.MemoryBytes,
	)
	return rec, nil
}

// Percentile returns the p-th percentile of sorted latencies by nearest rank.
func Percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[min(len(sorted)-1, len(sorted)*p/100)]
}

// Recall returns |truth ∩ got| / |truth|. An empty truth set has recall 1
// when got is empty too.
func Recall(truth, got []string) float64 {
	if len(truth) == 0 {
		if len(got) == 0 {
			return 1
		}
		return 0
	}
	set := make(map[string]struct{}, len(truth))
	for _, id := range truth {
		set[id] = struct{}{}
	}
	hits := 0
	for _, id := range got {
		if _, ok := set[id]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(truth))
}

func resultIDs(res []index.Result) []string {
	ids := make([]string, len(res))
	for i, r := range res {
		ids[i] = r.ID
	}
	return ids
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
