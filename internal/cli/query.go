package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vecbench/query"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Search the index with a natural language query",
	Long: `Embed the query text, search the latest (or a pinned) index version and
print the top matching chunks.

Examples:
  vecbench query -q "how do I rotate credentials"
  vecbench query -q "retry policy" -k 10 --json
  vecbench query -q "retry policy" --version 3
  vecbench query -q "ERR_TLS_CERT_EXPIRED" --hybrid --bm25-k 20`,
	RunE: runQuery,
}

var (
	queryText    string
	queryTopK    int
	queryVersion uint64
	queryJSON    bool
	queryPreview int
	queryHybrid  bool
	queryBM25K   int
)

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "query text (required)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of results (default query.top_k)")
	queryCmd.Flags().Uint64Var(&queryVersion, "version", 0, "index version to query (default latest)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "print hits as JSON")
	queryCmd.Flags().IntVar(&queryPreview, "preview", 200, "characters of chunk text to print")
	queryCmd.Flags().BoolVar(&queryHybrid, "hybrid", false, "fuse vector and BM25 keyword rankings (default query.hybrid)")
	queryCmd.Flags().IntVar(&queryBM25K, "bm25-k", 0, "keyword candidates for hybrid fusion (default query.bm25_k)")
	_ = queryCmd.MarkFlagRequired("query")
}

func runQuery(cmd *cobra.Command, _ []string) error {
	topK := queryTopK
	if topK == 0 {
		topK = cfg.Query.TopK
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		h, rec, err := a.loadIndex(ctx, queryVersion)
		if err != nil {
			return err
		}

		opts := []query.Option{query.WithLogger(a.logger), query.WithDocumentPaths(true)}
		if queryHybrid || cfg.Query.Hybrid {
			bm25K := queryBM25K
			if bm25K <= 0 {
				bm25K = cfg.Query.BM25K
			}
			opts = append(opts, query.WithHybrid(bm25K))
		}
		qe := query.New(a.gateway, a.docs, opts...)
		hits, err := qe.Query(ctx, h, queryText, topK, cfg.Embedding.Model)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if queryJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(hits)
		}

		fmt.Fprintf(out, "%s v%d (%s): %d hits\n\n", rec.Name, rec.Version, rec.Config.Kind, len(hits))
		for i, hit := range hits {
			if hit.RRFScore > 0 {
				fmt.Fprintf(out, "%d. %s  score=%.4f rrf=%.4f\n", i+1, hit.ChunkID, hit.Score, hit.RRFScore)
			} else {
				fmt.Fprintf(out, "%d. %s  score=%.4f\n", i+1, hit.ChunkID, hit.Score)
			}
			if hit.Path != "" {
				fmt.Fprintf(out, "   %s [%d:%d]\n", hit.Path, hit.Start, hit.End)
			}
			fmt.Fprintf(out, "   %s\n\n", preview(hit.Text, queryPreview))
		}
		return nil
	})
}

func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if n <= 0 || len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}
