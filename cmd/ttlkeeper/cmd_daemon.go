package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/ttlkeeper/internal/daemon"
	"github.com/yairfalse/ttlkeeper/internal/telemetry"
)

var (
	daemonInterval    time.Duration
	daemonMetricsAddr string
	daemonDryRun      bool
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run scan and reap on an interval",
	Long: `Run ttlkeeper in daemon mode: scan then reap on every tick until
interrupted, with Prometheus metrics on /metrics. When otel.endpoint
is configured, cycle traces and metrics are also pushed over OTLP.

Overlapping runs (a daemon next to scheduled jobs against the same
delete list) can lose updates. Run one writer per list.`,
	Example: `  ttlkeeper daemon                         # Interval from config
  ttlkeeper daemon --interval 5m
  ttlkeeper daemon --metrics-addr :2112`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().DurationVar(&daemonInterval, "interval", 0, "Cycle interval (default from config)")
	daemonCmd.Flags().StringVar(&daemonMetricsAddr, "metrics-addr", "", "Metrics server address (default from config)")
	daemonCmd.Flags().BoolVar(&daemonDryRun, "dry-run", false, "Scan for real but do not terminate")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		interval := a.cfg.Daemon.Interval
		if daemonInterval > 0 {
			interval = daemonInterval
		}
		addr := a.cfg.Daemon.MetricsAddr
		if daemonMetricsAddr != "" {
			addr = daemonMetricsAddr
		}

		tel, err := telemetry.NewProvider(cmd.Context(), a.cfg.OTEL,
			telemetry.WithPrometheus(nil), telemetry.WithRegion(a.cfg.AWS.Region))
		if err != nil {
			return fmt.Errorf("setup telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tel.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn().Err(err).Msg("telemetry shutdown failed")
			}
		}()

		metrics, err := daemon.NewMetrics(tel.MeterProvider(), a.cfg.AWS.Region)
		if err != nil {
			return fmt.Errorf("create metrics: %w", err)
		}

		d := daemon.New(daemon.Config{
			Interval:    interval,
			MetricsAddr: addr,
			Region:      a.cfg.AWS.Region,
		}, newScanner(a), newReaper(a, daemonDryRun), metrics, a.logger,
			daemon.WithTracer(tel.Tracer()))

		return d.Run(cmd.Context())
	})
}
