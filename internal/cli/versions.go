package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List the published versions of the configured index",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			recs, err := a.catalog.List(ctx, cfg.Index.Name)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tBACKEND\tMETRIC\tDIM\tVECTORS\tBYTES\tBUILD\tCREATED")
			for _, r := range recs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
					r.Version, r.Config.Kind, r.Config.Metric, r.Config.Dim, r.VectorCount, r.Bytes,
					(time.Duration(r.BuildMillis) * time.Millisecond).String(), r.CreatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		})
	},
}

func init() {
	rootCmd.AddCommand(versionsCmd)
}
