package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KaramelBytes/flowlens/internal/api"
	"github.com/KaramelBytes/flowlens/internal/telemetry"
)

var (
	serveAddr   string
	serveWarmup bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve metrics, dataset samples and charts over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		addr := c.ListenAddr
		if serveAddr != "" {
			addr = serveAddr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		tel := telemetry.NewRecorder()
		an := newAnalyzer(c, tel)
		if serveWarmup {
			// First query triggers the pipeline; failures surface through /api/status.
			go func() {
				if _, err := an.Summary(context.WithoutCancel(ctx)); err != nil {
					logger.Warn("warmup failed", zap.Error(err))
				}
			}()
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Listening on %s\n", addr)
		return api.Serve(ctx, addr, api.NewRouter(api.NewHandler(an, tel, logger)), logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides listen_addr)")
	serveCmd.Flags().BoolVar(&serveWarmup, "warmup", false, "train in the background at startup instead of on the first request")
}
