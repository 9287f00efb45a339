package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// DefaultLeakageColumns are timing aggregates derived from, or strongly
// correlated with, flow duration. They are removed from the regression features.
var DefaultLeakageColumns = []string{
	"total_fiat", "total_biat",
	"min_fiat", "max_fiat", "mean_fiat", "std_fiat",
	"min_biat", "max_biat", "mean_biat", "std_biat",
	"min_flowiat", "max_flowiat", "mean_flowiat", "std_flowiat",
	"min_active", "mean_active", "max_active", "std_active",
	"min_idle", "mean_idle", "max_idle", "std_idle",
}

// Global configuration structure.
type Global struct {
	// Data source
	DatasetPath        string `mapstructure:"dataset_path" yaml:"dataset_path"`
	RemoteFileID       string `mapstructure:"remote_file_id" yaml:"remote_file_id"`
	RemoteFolderID     string `mapstructure:"remote_folder_id" yaml:"remote_folder_id"`
	RemoteFileName     string `mapstructure:"remote_file_name" yaml:"remote_file_name"`
	CacheDir           string `mapstructure:"cache_dir" yaml:"cache_dir"`
	DownloadTimeoutSec int    `mapstructure:"download_timeout_sec" yaml:"download_timeout_sec"`

	// Dataset schema
	RowLimit       int      `mapstructure:"row_limit" yaml:"row_limit"`
	LabelColumn    string   `mapstructure:"label_column" yaml:"label_column"`
	BenignLabel    string   `mapstructure:"benign_label" yaml:"benign_label"`
	TargetColumn   string   `mapstructure:"target_column" yaml:"target_column"`
	LeakageColumns []string `mapstructure:"leakage_columns" yaml:"leakage_columns"`

	// Forest
	Trees           int   `mapstructure:"trees" yaml:"trees"`
	MaxDepth        int   `mapstructure:"max_depth" yaml:"max_depth"`
	Jobs            int   `mapstructure:"jobs" yaml:"jobs"`
	BoundedTrees    int   `mapstructure:"bounded_trees" yaml:"bounded_trees"`
	BoundedMaxDepth int   `mapstructure:"bounded_max_depth" yaml:"bounded_max_depth"`
	Seed            int64 `mapstructure:"seed" yaml:"seed"`
	ImputeFromTrain bool  `mapstructure:"impute_from_train" yaml:"impute_from_train"`

	// Serving / logging
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	LogLevel   string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat  string `mapstructure:"log_format" yaml:"log_format"`
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.flowlens/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	var path string
	if cfgFile != "" {
		path = cfgFile
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home dir: %w", err)
		}
		dir := filepath.Join(home, ".flowlens")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir config dir: %w", err)
		}
		path = filepath.Join(dir, "config.yaml")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load loads configuration from file, env, and defaults.
// Precedence: flags (cfgFile) > env > config file > defaults.
func Load(cfgFile string) (*Global, error) {
	v := viper.New()
	v.SetEnvPrefix("FLOWLENS")
	v.AutomaticEnv()

	// Data source defaults
	v.SetDefault("dataset_path", filepath.Join("dataset", "TotalFeatures-ISCXFlowMeter.csv"))
	v.SetDefault("remote_file_id", "")
	v.SetDefault("remote_folder_id", "")
	v.SetDefault("remote_file_name", "TotalFeatures-ISCXFlowMeter.csv")
	v.SetDefault("cache_dir", "temp_data")
	v.SetDefault("download_timeout_sec", 300)
	// Schema defaults; the upstream dataset really spells the label column "calss".
	v.SetDefault("row_limit", 0)
	v.SetDefault("label_column", "calss")
	v.SetDefault("benign_label", "benign")
	v.SetDefault("target_column", "duration")
	v.SetDefault("leakage_columns", DefaultLeakageColumns)
	// Forest defaults
	v.SetDefault("trees", 100)
	v.SetDefault("max_depth", 0)
	v.SetDefault("jobs", -1)
	v.SetDefault("bounded_trees", 30)
	v.SetDefault("bounded_max_depth", 12)
	v.SetDefault("seed", 42)
	v.SetDefault("impute_from_train", false)
	// Serving defaults; PORT mirrors the hosting platform convention.
	listen := ":10000"
	if port := os.Getenv("PORT"); port != "" {
		listen = ":" + port
	}
	v.SetDefault("listen_addr", listen)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	// Config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		v.AddConfigPath(filepath.Join(home, ".flowlens"))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	// optional read
	_ = v.ReadInConfig()

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

// Validate reports every violated constraint at once.
func (c *Global) Validate() error {
	var err error
	if c.Trees < 1 {
		err = multierr.Append(err, fmt.Errorf("trees must be >= 1, got %d", c.Trees))
	}
	if c.BoundedTrees < 1 {
		err = multierr.Append(err, fmt.Errorf("bounded_trees must be >= 1, got %d", c.BoundedTrees))
	}
	if c.MaxDepth < 0 {
		err = multierr.Append(err, fmt.Errorf("max_depth must be >= 0, got %d", c.MaxDepth))
	}
	if c.BoundedMaxDepth < 0 {
		err = multierr.Append(err, fmt.Errorf("bounded_max_depth must be >= 0, got %d", c.BoundedMaxDepth))
	}
	if c.RowLimit < 0 {
		err = multierr.Append(err, fmt.Errorf("row_limit must be >= 0, got %d", c.RowLimit))
	}
	if c.Jobs == 0 {
		err = multierr.Append(err, errors.New("jobs must be -1 (all cores) or a positive worker count"))
	}
	if c.LabelColumn == "" {
		err = multierr.Append(err, errors.New("label_column is required"))
	}
	if c.TargetColumn == "" {
		err = multierr.Append(err, errors.New("target_column is required"))
	}
	if c.LabelColumn != "" && c.LabelColumn == c.TargetColumn {
		err = multierr.Append(err, fmt.Errorf("label_column and target_column must differ (both %q)", c.LabelColumn))
	}
	return err
}
