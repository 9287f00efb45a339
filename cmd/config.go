package cmd

import (
	"fmt"
	"strconv"
	"strings"

	cfgpkg "github.com/KaramelBytes/flowlens/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or set flowlens configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			c, err := cfgpkg.Load(cfgFile)
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "No config loaded")
				return nil
			}
			cfg = c
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "dataset_path: %s\n", cfg.DatasetPath)
		if cfg.RemoteFileID != "" {
			fmt.Fprintf(out, "remote_file_id: %s\n", cfg.RemoteFileID)
		}
		if cfg.RemoteFolderID != "" {
			fmt.Fprintf(out, "remote_folder_id: %s\n", cfg.RemoteFolderID)
		}
		fmt.Fprintf(out, "remote_file_name: %s\n", cfg.RemoteFileName)
		fmt.Fprintf(out, "cache_dir: %s\n", cfg.CacheDir)
		fmt.Fprintf(out, "download_timeout_sec: %d\n", cfg.DownloadTimeoutSec)
		fmt.Fprintf(out, "row_limit: %d\n", cfg.RowLimit)
		fmt.Fprintf(out, "label_column: %s\n", cfg.LabelColumn)
		fmt.Fprintf(out, "benign_label: %s\n", cfg.BenignLabel)
		fmt.Fprintf(out, "target_column: %s\n", cfg.TargetColumn)
		fmt.Fprintf(out, "leakage_columns: %s\n", strings.Join(cfg.LeakageColumns, ","))
		fmt.Fprintf(out, "trees: %d\n", cfg.Trees)
		fmt.Fprintf(out, "max_depth: %d\n", cfg.MaxDepth)
		fmt.Fprintf(out, "jobs: %d\n", cfg.Jobs)
		fmt.Fprintf(out, "bounded_trees: %d\n", cfg.BoundedTrees)
		fmt.Fprintf(out, "bounded_max_depth: %d\n", cfg.BoundedMaxDepth)
		fmt.Fprintf(out, "seed: %d\n", cfg.Seed)
		fmt.Fprintf(out, "impute_from_train: %t\n", cfg.ImputeFromTrain)
		fmt.Fprintf(out, "listen_addr: %s\n", cfg.ListenAddr)
		fmt.Fprintf(out, "log_level: %s\n", cfg.LogLevel)
		fmt.Fprintf(out, "log_format: %s\n", cfg.LogFormat)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value and save to disk",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]
		if cfg == nil {
			c, err := cfgpkg.Load(cfgFile)
			if err != nil {
				return err
			}
			cfg = c
		}
		atoi := func(lo int) (int, error) {
			i, err := strconv.Atoi(val)
			if err != nil || i < lo {
				return 0, fmt.Errorf("invalid int for %s: %v", key, val)
			}
			return i, nil
		}
		var err error
		switch key {
		case "dataset_path":
			cfg.DatasetPath = val
		case "remote_file_id":
			cfg.RemoteFileID = val
		case "remote_folder_id":
			cfg.RemoteFolderID = val
		case "remote_file_name":
			cfg.RemoteFileName = val
		case "cache_dir":
			cfg.CacheDir = val
		case "download_timeout_sec":
			cfg.DownloadTimeoutSec, err = atoi(1)
		case "row_limit":
			cfg.RowLimit, err = atoi(0)
		case "label_column":
			cfg.LabelColumn = val
		case "benign_label":
			cfg.BenignLabel = val
		case "target_column":
			cfg.TargetColumn = val
		case "leakage_columns":
			cfg.LeakageColumns = splitList(val)
		case "trees":
			cfg.Trees, err = atoi(1)
		case "max_depth":
			cfg.MaxDepth, err = atoi(0)
		case "jobs":
			cfg.Jobs, err = atoi(-1)
		case "bounded_trees":
			cfg.BoundedTrees, err = atoi(1)
		case "bounded_max_depth":
			cfg.BoundedMaxDepth, err = atoi(0)
		case "seed":
			s, perr := strconv.ParseInt(val, 10, 64)
			if perr != nil {
				return fmt.Errorf("invalid int for seed: %w", perr)
			}
			cfg.Seed = s
		case "impute_from_train":
			b, perr := strconv.ParseBool(val)
			if perr != nil {
				return fmt.Errorf("invalid bool for impute_from_train: %w", perr)
			}
			cfg.ImputeFromTrain = b
		case "listen_addr":
			cfg.ListenAddr = val
		case "log_level":
			switch strings.ToLower(val) {
			case "debug", "info", "warn", "error":
				cfg.LogLevel = strings.ToLower(val)
			default:
				return fmt.Errorf("invalid log_level: %s (use debug|info|warn|error)", val)
			}
		case "log_format":
			switch strings.ToLower(val) {
			case "console", "json":
				cfg.LogFormat = strings.ToLower(val)
			default:
				return fmt.Errorf("invalid log_format: %s (use console or json)", val)
			}
		default:
			return fmt.Errorf("unknown key: %s", key)
		}
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := cfgpkg.Save(cfg, cfgFile); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Saved config")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
