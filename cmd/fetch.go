package cmd

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var fetchQuiet bool

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Locate the dataset, downloading it into the cache if needed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		progress := cmd.ErrOrStderr()
		if fetchQuiet {
			progress = nil
		}
		path, err := newResolver(c, nil, progress).Resolve(cmd.Context(), c.DatasetPath, remoteRef(c))
		if err != nil {
			return err
		}
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Dataset ready: %s (%s)\n", path, humanize.Bytes(uint64(info.Size())))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().BoolVarP(&fetchQuiet, "quiet", "q", false, "disable the download progress bar")
}
