package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vecbench/benchmark"
	"github.com/hupe1980/vecbench/query"
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Measure retrieval quality against a golden question set",
	Long: `Run every question of a golden set (CSV or JSON with question and
expected_id) against an index version and report hit rate, MRR and NDCG.
expected_id may name a chunk ("doc#3") or a whole document.

With --compare the same set is also run against a second version and the
per-question rank changes are reported.

Examples:
  vecbench eval --gold golden.csv
  vecbench eval --gold golden.json --version 4 --compare 3 --json`,
	RunE: runEval,
}

var (
	evalGold    string
	evalK       int
	evalVersion uint64
	evalCompare uint64
	evalJSON    bool
)

func init() {
	rootCmd.AddCommand(evalCmd)
	evalCmd.Flags().StringVar(&evalGold, "gold", "", "golden set file (.csv or .json)")
	evalCmd.Flags().IntVarP(&evalK, "top-k", "k", 0, "cutoff (default query.top_k)")
	evalCmd.Flags().Uint64Var(&evalVersion, "version", 0, "index version to evaluate (default latest)")
	evalCmd.Flags().Uint64Var(&evalCompare, "compare", 0, "baseline version to compare against")
	evalCmd.Flags().BoolVar(&evalJSON, "json", false, "print the report as JSON")
	_ = evalCmd.MarkFlagRequired("gold")
}

func runEval(cmd *cobra.Command, _ []string) error {
	gold, err := readGold(evalGold)
	if err != nil {
		return err
	}
	k := evalK
	if k == 0 {
		k = cfg.Query.TopK
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		qe := query.New(a.gateway, a.docs, query.WithLogger(a.logger))

		evaluate := func(version uint64) (*benchmark.EvalReport, uint64, error) {
			h, rec, err := a.loadIndex(ctx, version)
			if err != nil {
				return nil, 0, err
			}
			rep, err := benchmark.Evaluate(ctx, qe, h, gold, k, cfg.Embedding.Model)
			return rep, rec.Version, err
		}

		report, version, err := evaluate(evalVersion)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if evalCompare == 0 {
			if evalJSON {
				return writeJSON(out, report)
			}
			printEval(out, version, report)
			return nil
		}

		baseline, baseVersion, err := evaluate(evalCompare)
		if err != nil {
			return err
		}
		cmp, err := benchmark.Compare(baseline, report)
		if err != nil {
			return err
		}
		if evalJSON {
			return writeJSON(out, cmp)
		}
		printEval(out, baseVersion, baseline)
		printEval(out, version, report)
		fmt.Fprintf(out, "v%d vs v%d: %d regressions, %d improvements\n", baseVersion, version, cmp.Regressions, cmp.Improvements)
		for _, q := range cmp.Questions {
			switch {
			case q.Delta == benchmark.Regression:
				fmt.Fprintf(out, "  LOST     %q (was rank %d)\n", q.Question, q.LeftRank)
			case q.Delta == benchmark.Recovery:
				fmt.Fprintf(out, "  FOUND    %q (now rank %d)\n", q.Question, q.RightRank)
			case q.Delta > 0:
				fmt.Fprintf(out, "  WORSE    %q (%d -> %d)\n", q.Question, q.LeftRank, q.RightRank)
			case q.Delta < 0:
				fmt.Fprintf(out, "  BETTER   %q (%d -> %d)\n", q.Question, q.LeftRank, q.RightRank)
			}
		}
		return nil
	})
}

func readGold(path string) ([]benchmark.GoldItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return benchmark.ReadGoldJSON(f)
	}
	return benchmark.ReadGoldCSV(f)
}

func printEval(w io.Writer, version uint64, r *benchmark.EvalReport) {
	fmt.Fprintf(w, "v%d: %d questions, hit_rate@%d=%.3f mrr=%.3f ndcg=%.3f\n",
		version, r.Total, r.K, r.HitRate, r.MRR, r.NDCG)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
