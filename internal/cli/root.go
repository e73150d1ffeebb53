// Package cli implements the vecbench command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hupe1980/vecbench"
	"github.com/hupe1980/vecbench/config"
)

var (
	cfgFile  string
	envFile  string
	logLevel string
	cfg      *config.Config
	logger   *vecbench.Logger
)

var rootCmd = &cobra.Command{
	Use:   "vecbench",
	Short: "Build, query and benchmark vector indexes over your documents",
	Long: `vecbench ingests text documents, embeds their chunks and builds one of
several interchangeable vector indexes (flat, ivf, hnsw, pq). Indexes are
persisted as versioned blobs and can be queried or benchmarked against each
other.

Example usage:
  vecbench ingest ./docs            # Chunk and record documents
  vecbench build                    # Embed chunks and publish an index version
  vecbench query -q "how to deploy" # Search the latest version
  vecbench bench --out report.csv   # Compare backends on your corpus`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("load env file: %w", err)
			}
		} else {
			_ = godotenv.Load()
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		level := vecbench.ParseLevel(cfg.Logging.Level)
		if strings.EqualFold(cfg.Logging.Format, "json") {
			logger = vecbench.NewJSONLogger(os.Stderr, level)
		} else {
			logger = vecbench.NewTextLogger(os.Stderr, level)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "vecbench.yaml", "config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file with API keys (default .env if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
}

// withApp opens the shared components for the duration of fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
