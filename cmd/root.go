package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KaramelBytes/flowlens/internal/analyzer"
	cfgpkg "github.com/KaramelBytes/flowlens/internal/config"
	"github.com/KaramelBytes/flowlens/internal/logging"
	"github.com/KaramelBytes/flowlens/internal/source"
	"github.com/KaramelBytes/flowlens/internal/telemetry"
)

var (
	// Global flags
	cfgFile   string
	debug     bool
	logFormat string

	// Loaded configuration
	cfg    *cfgpkg.Global
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "flowlens",
	Short: "flowlens: malware traffic classification and flow-duration regression",
	Long: `flowlens loads a labelled network-flow dataset, trains a random-forest traffic
classifier and a flow-duration regressor, and reports their metrics from the
command line or over a small JSON API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the entry point called by main.main()
func Execute() {
	// Initialize configuration before executing commands
	cobra.OnInitialize(loadConfig)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.flowlens/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: console|json (overrides config)")
}

func loadConfig() {
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		// Non-fatal: config show/set still work on defaults
		fmt.Fprintf(os.Stderr, "⚠ Warning: failed to load config: %v\n", err)
		return
	}
	cfg = c
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "⚠ Warning: invalid config: %v\n", err)
	}
	initLogger()
}

func initLogger() {
	level, format := "info", "console"
	if cfg != nil {
		level, format = cfg.LogLevel, cfg.LogFormat
	}
	if debug {
		level = "debug"
	}
	if logFormat != "" {
		format = logFormat
	}
	l, err := logging.New(level, format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠ Warning: %v; logging disabled\n", err)
		l = nil
	}
	logger = logging.OrNop(l)
}

// requireConfig returns the loaded config, loading it on demand when the
// command was run without Execute (tests).
func requireConfig() (*cfgpkg.Global, error) {
	if cfg == nil {
		c, err := cfgpkg.Load(cfgFile)
		if err != nil {
			return nil, err
		}
		cfg = c
	}
	if logger == nil {
		initLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newResolver(c *cfgpkg.Global, tel *telemetry.Recorder, progress io.Writer) *source.Resolver {
	return source.NewResolver(source.Options{
		CacheDir:  c.CacheDir,
		Timeout:   time.Duration(c.DownloadTimeoutSec) * time.Second,
		Progress:  progress,
		Logger:    logger,
		Telemetry: tel,
	})
}

func remoteRef(c *cfgpkg.Global) source.RemoteRef {
	return source.RemoteRef{FileID: c.RemoteFileID, FolderID: c.RemoteFolderID, FileName: c.RemoteFileName}
}

// newAnalyzer wires an analyzer from the loaded config. Download progress
// goes to stderr so stdout stays machine-readable.
func newAnalyzer(c *cfgpkg.Global, tel *telemetry.Recorder) *analyzer.Analyzer {
	opts := analyzer.OptionsFromConfig(c)
	opts.Logger = logger
	opts.Telemetry = tel
	opts.Resolver = newResolver(c, tel, os.Stderr)
	return analyzer.New(opts)
}
