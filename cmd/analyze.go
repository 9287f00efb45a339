package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/flowlens/internal/report"
	"github.com/KaramelBytes/flowlens/internal/telemetry"
	"github.com/KaramelBytes/flowlens/internal/utils"
)

var (
	anaRowLimit   int
	anaFormat     string
	anaOutputPath string
	anaTopK       int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Train both models and print their evaluation metrics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		limit := c.RowLimit
		if cmd.Flags().Changed("row-limit") {
			if anaRowLimit < 0 {
				return fmt.Errorf("--row-limit must be >= 0")
			}
			limit = anaRowLimit
		}
		if anaTopK < 0 {
			return fmt.Errorf("--top must be >= 0")
		}

		ctx := cmd.Context()
		an := newAnalyzer(c, telemetry.NewRecorder())
		start := time.Now()
		if _, err := an.Retrain(ctx, limit); err != nil {
			return err
		}
		r, err := report.Build(ctx, an, anaTopK)
		if err != nil {
			return err
		}
		out, err := r.Render(anaFormat)
		if err != nil {
			return err
		}
		if anaOutputPath == "" {
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			if len(out) > 0 && out[len(out)-1] != '\n' {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		}
		if err := utils.SafeWriteFile(anaOutputPath, out); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote analysis to %s (%s)\n", anaOutputPath, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().IntVar(&anaRowLimit, "row-limit", 0, "train on the first N rows only, with a smaller forest (0 = all rows)")
	analyzeCmd.Flags().StringVar(&anaFormat, "format", "markdown", "output format: markdown|json|yaml")
	analyzeCmd.Flags().StringVarP(&anaOutputPath, "output", "o", "", "write output to file instead of stdout")
	analyzeCmd.Flags().IntVar(&anaTopK, "top", 10, "number of top features to list per model")
}
