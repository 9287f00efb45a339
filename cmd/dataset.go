package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/flowlens/internal/dataset"
	"github.com/KaramelBytes/flowlens/internal/utils"
)

var (
	dsRows     int
	dsRowLimit int
	dsFormat   string
)

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Print dataset statistics and the first rows",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		if dsRows < 0 {
			return fmt.Errorf("--rows must be >= 0")
		}
		limit := c.RowLimit
		if cmd.Flags().Changed("row-limit") {
			if dsRowLimit < 0 {
				return fmt.Errorf("--row-limit must be >= 0")
			}
			limit = dsRowLimit
		}
		path, err := newResolver(c, nil, cmd.ErrOrStderr()).Resolve(cmd.Context(), c.DatasetPath, remoteRef(c))
		if err != nil {
			return err
		}
		t, err := dataset.Load(path, limit)
		if err != nil {
			return err
		}
		stats, err := t.Stats(c.LabelColumn, c.BenignLabel)
		if err != nil {
			return err
		}
		sample := t.Head(dsRows)

		out := cmd.OutOrStdout()
		switch strings.ToLower(dsFormat) {
		case "json":
			b, err := utils.PrettyJSON(map[string]any{"stats": stats, "sample": sample})
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(b))
		case "", "text", "markdown":
			writeDatasetText(out, path, t, stats, sample)
		default:
			return fmt.Errorf("unsupported --format: %s (use text|json)", dsFormat)
		}
		return nil
	},
}

func writeDatasetText(w io.Writer, path string, t *dataset.Table, stats dataset.Stats, sample dataset.Sample) {
	fmt.Fprintln(w, "[DATASET SUMMARY]")
	fmt.Fprintf(w, "File: %s\n", path)
	if t.Truncated {
		fmt.Fprintf(w, "Rows: %d (truncated)\n", stats.TotalRows)
	} else {
		fmt.Fprintf(w, "Rows: %d\n", stats.TotalRows)
	}
	fmt.Fprintf(w, "Columns: %d\n", stats.TotalColumns)
	fmt.Fprintf(w, "- malware: %d\n- benign: %d\n", stats.MalwareCount, stats.BenignCount)

	fmt.Fprintln(w, "\n[SCHEMA]")
	for _, col := range t.Columns {
		fmt.Fprintf(w, "- %s: %s\n", col.Name, col.Kind)
	}
	if len(sample.Rows) == 0 {
		return
	}
	fmt.Fprintln(w, "\n[SAMPLE ROWS]")
	fmt.Fprintf(w, "| %s |\n", strings.Join(sample.Columns, " | "))
	fmt.Fprintf(w, "|%s\n", strings.Repeat("---|", len(sample.Columns)))
	for _, row := range sample.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = ""
				continue
			}
			cells[i] = strings.ReplaceAll(fmt.Sprint(v), "|", "/")
		}
		fmt.Fprintf(w, "| %s |\n", strings.Join(cells, " | "))
	}
}

func init() {
	rootCmd.AddCommand(datasetCmd)
	datasetCmd.Flags().IntVar(&dsRows, "rows", 5, "number of leading rows to print")
	datasetCmd.Flags().IntVar(&dsRowLimit, "row-limit", 0, "load only the first N rows (0 = all rows)")
	datasetCmd.Flags().StringVar(&dsFormat, "format", "text", "output format: text|json")
}
