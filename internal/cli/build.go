package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vecbench/engine"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Embed all chunks and publish a new index version",
	Long: `Embed every recorded chunk with embedding.model, build the index
described by the index section of the config and publish it as the next
catalog version.

Examples:
  vecbench build
  vecbench build --backend ivf --param nlist=64 --param nprobe=8`,
	RunE: runBuild,
}

var (
	buildBackend string
	buildMetric  string
	buildParams  map[string]int
)

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.Flags().StringVar(&buildBackend, "backend", "", "override index.backend_kind")
	buildCmd.Flags().StringVar(&buildMetric, "metric", "", "override index.metric")
	buildCmd.Flags().StringToIntVar(&buildParams, "param", nil, "backend param (repeatable), e.g. --param M=32")
}

func runBuild(cmd *cobra.Command, _ []string) error {
	if buildBackend != "" {
		cfg.Index.Kind = buildBackend
	}
	if buildMetric != "" {
		cfg.Index.Metric = buildMetric
	}
	if len(buildParams) > 0 {
		cfg.Index.Params = make(map[string]any, len(buildParams))
		for k, v := range buildParams {
			cfg.Index.Params[k] = v
		}
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		p, err := a.pipeline()
		if err != nil {
			return err
		}

		start := time.Now()
		vectors, err := p.Vectors(ctx, cfg.Embedding.Model)
		if err != nil {
			return err
		}
		if len(vectors) == 0 {
			return errors.New("no chunks recorded; run 'vecbench ingest' first")
		}
		embedTime := time.Since(start)

		icfg, err := cfg.IndexConfig(len(vectors[0].Values))
		if err != nil {
			return err
		}
		h, err := engine.Build(ctx, a.reg, icfg, vectors, a.engineOptions()...)
		if err != nil {
			return err
		}

		rec, err := h.Publish(ctx, a.blobs, a.catalog, cfg.Index.Name)
		if err != nil {
			return err
		}

		info := h.Info()
		cache := a.gateway.CacheStats()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Published %s v%d\n", rec.Name, rec.Version)
		fmt.Fprintf(out, "  Backend:  %s (%s, dim %d)\n", icfg.Kind, icfg.Metric, icfg.Dim)
		fmt.Fprintf(out, "  Vectors:  %d\n", info.VectorCount)
		fmt.Fprintf(out, "  Embed:    %s (cache hits %d, misses %d)\n", embedTime.Round(time.Millisecond), cache.Hits, cache.Misses)
		fmt.Fprintf(out, "  Build:    %s\n", info.BuildDuration.Round(time.Millisecond))
		fmt.Fprintf(out, "  Memory:   %d bytes\n", info.MemoryBytes)
		fmt.Fprintf(out, "  Blob:     %s (%d bytes)\n", rec.Blob, rec.Bytes)
		return nil
	})
}
