package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/flowlens/internal/report"
	"github.com/KaramelBytes/flowlens/internal/telemetry"
)

var (
	repOutDir   string
	repRowLimit int
	repTopK     int
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Train both models and write a JSON/Markdown report with PNG charts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		if repOutDir == "" {
			return fmt.Errorf("--out is required")
		}
		limit := c.RowLimit
		if cmd.Flags().Changed("row-limit") {
			if repRowLimit < 0 {
				return fmt.Errorf("--row-limit must be >= 0")
			}
			limit = repRowLimit
		}
		ctx := cmd.Context()
		an := newAnalyzer(c, telemetry.NewRecorder())
		if _, err := an.Retrain(ctx, limit); err != nil {
			return err
		}
		r, err := report.Build(ctx, an, repTopK)
		if err != nil {
			return err
		}
		files, err := report.WriteDir(repOutDir, r)
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", f)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().StringVar(&repOutDir, "out", "", "output directory")
	reportCmd.Flags().IntVar(&repRowLimit, "row-limit", 0, "train on the first N rows only (0 = all rows)")
	reportCmd.Flags().IntVar(&repTopK, "top", 20, "number of features per importance chart")
}
