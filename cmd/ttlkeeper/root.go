package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"

	configPath string
	region     string
	profile    string
	backend    string
	debug      bool
	logFile    string
	noArchive  bool

	rootCmd = &cobra.Command{
		Use:   "ttlkeeper",
		Short: "TTL-based EC2 instance lifecycle",
		Long: `ttlkeeper - TTL-based EC2 instance lifecycle

ttlkeeper creates EC2 instances tagged with their owner, creation time
and a TTL in minutes, finds running instances whose TTL has passed (or
that carry no tags at all), records them on a persistent delete list,
and terminates everything on that list in one batch.

Every run writes a log file that is uploaded to S3 when the run ends.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command under a context cancelled on SIGINT or SIGTERM
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// init sets up the root command
func init() {
	rootCmd.SetVersionTemplate(`ttlkeeper {{.Version}}
`)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Config file (.toml, .yaml or .yml)")
	flags.StringVarP(&region, "region", "r", "", "AWS region (overrides config)")
	flags.StringVar(&profile, "profile", "", "AWS shared config profile (overrides config)")
	flags.StringVar(&backend, "backend", "", "Delete list backend: dynamodb or bolt (overrides config)")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")
	flags.StringVar(&logFile, "log-file", "", "Run log file path (overrides config)")
	flags.BoolVar(&noArchive, "no-archive", false, "Do not upload the run log to S3")
}
