package cli

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vecbench/benchmark"
	"github.com/hupe1980/vecbench/index"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark the configured backend grid on the ingested corpus",
	Long: `Embed every recorded chunk, build each configuration of benchmark.grid
and measure build latency, query latency percentiles, recall@k against
exact search and memory. Query vectors are sampled from the corpus.

Examples:
  vecbench bench
  vecbench bench --out report.csv
  vecbench bench --format json --out report.json --parallel 2`,
	RunE: runBench,
}

var (
	benchOut      string
	benchFormat   string
	benchK        int
	benchQueries  int
	benchParallel int
	benchNoLog    bool
)

func init() {
	rootCmd.AddCommand(benchCmd)
	benchCmd.Flags().StringVarP(&benchOut, "out", "o", "", "write the report to a file instead of stdout")
	benchCmd.Flags().StringVar(&benchFormat, "format", "csv", "report format (csv or json)")
	benchCmd.Flags().IntVar(&benchK, "k", 0, "neighbors per query (default benchmark.k)")
	benchCmd.Flags().IntVar(&benchQueries, "queries", 0, "number of sampled queries (default benchmark.queries)")
	benchCmd.Flags().IntVar(&benchParallel, "parallel", 0, "configurations run concurrently (default benchmark.parallelism)")
	benchCmd.Flags().BoolVar(&benchNoLog, "no-log", false, "do not append records to the benchmark log")
}

func runBench(cmd *cobra.Command, _ []string) error {
	bc := cfg.Benchmark
	if benchK > 0 {
		bc.K = benchK
	}
	if benchQueries > 0 {
		bc.Queries = benchQueries
	}
	if benchParallel > 0 {
		bc.Parallelism = benchParallel
	}

	var write func(f *os.File, recs []benchmark.Record) error
	switch strings.ToLower(benchFormat) {
	case "csv":
		write = func(f *os.File, recs []benchmark.Record) error { return benchmark.WriteCSV(f, recs) }
	case "json":
		write = func(f *os.File, recs []benchmark.Record) error { return benchmark.WriteJSON(f, recs) }
	default:
		return fmt.Errorf("unknown report format %q", benchFormat)
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		p, err := a.pipeline()
		if err != nil {
			return err
		}
		dataset, err := p.Vectors(ctx, cfg.Embedding.Model)
		if err != nil {
			return err
		}
		if len(dataset) == 0 {
			return errors.New("no chunks recorded; run 'vecbench ingest' first")
		}

		configs, err := cfg.BenchmarkConfigs(len(dataset[0].Values))
		if err != nil {
			return err
		}
		queries := sampleQueries(dataset, bc.Queries, bc.Seed)

		var (
			mu  sync.Mutex
			bar = newBar(len(configs), "Benchmarking")
		)
		runner := benchmark.NewRunner(a.reg,
			benchmark.WithParallelism(bc.Parallelism),
			benchmark.WithWarmup(bc.Warmup),
			benchmark.WithLogger(a.logger),
			benchmark.WithMetrics(a.metrics),
			benchmark.WithProgress(func(done, _ int, rec benchmark.Record) {
				mu.Lock()
				defer mu.Unlock()
				bar.Describe(fmt.Sprintf("[cyan]Benchmarking[reset] %s", rec.Config.Kind))
				_ = bar.Set(done)
			}),
		)

		records, err := runner.Run(ctx, configs, dataset, queries, bc.K)
		if err != nil {
			return err
		}

		if !benchNoLog {
			if err := appendBenchLog(ctx, a, records); err != nil {
				a.logger.Warn("failed to append benchmark log", "error", err)
			}
		}

		f := os.Stdout
		if benchOut != "" {
			f, err = os.Create(benchOut)
			if err != nil {
				return err
			}
			defer f.Close()
		}
		if err := write(f, records); err != nil {
			return err
		}

		failed := 0
		for _, r := range records {
			if r.Failed() {
				failed++
				fmt.Fprintf(os.Stderr, "  %s failed: %s\n", r.Config.Kind, r.Error)
			}
		}
		fmt.Fprintf(os.Stderr, "%d configurations, %d failed, %d vectors, %d queries\n",
			len(records), failed, len(dataset), len(queries))
		return nil
	})
}

// sampleQueries picks n dataset vectors as queries, deterministically for seed.
func sampleQueries(dataset []index.Vector, n int, seed int64) [][]float32 {
	n = min(n, len(dataset))
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec
	perm := rng.Perm(len(dataset))
	out := make([][]float32, n)
	for i := range out {
		out[i] = dataset[perm[i]].Values
	}
	return out
}

func appendBenchLog(ctx context.Context, a *app, records []benchmark.Record) error {
	path := cfg.Benchmark.LogPath
	if path == "" || path == cfg.Storage.MetadataPath {
		l, err := benchmark.NewBoltLog(a.db)
		if err != nil {
			return err
		}
		return l.Append(ctx, records...)
	}
	l, err := benchmark.OpenBoltLog(path)
	if err != nil {
		return err
	}
	defer l.Close()
	return l.Append(ctx, records...)
}
