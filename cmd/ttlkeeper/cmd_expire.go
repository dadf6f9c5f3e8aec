package main

import (
	"errors"

	"github.com/spf13/cobra"
)

var expireDryRun bool

// expireCmd represents the expire command
var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Scan, then reap",
	Long: `Run scan followed by reap in one invocation. A failed scan does not
skip the reap: the delete list may still hold instances from earlier runs.`,
	Example: `  ttlkeeper expire
  ttlkeeper expire --dry-run`,
	RunE: runExpire,
}

func init() {
	rootCmd.AddCommand(expireCmd)

	expireCmd.Flags().BoolVar(&expireDryRun, "dry-run", false, "Scan for real but do not terminate")
}

func runExpire(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		out := cmd.OutOrStdout()

		scanResult, scanErr := newScanner(a).Scan(cmd.Context())
		if scanErr != nil {
			a.logger.Error().Err(scanErr).Msg("unable to check instances TTL")
		} else {
			printScan(out, scanResult)
		}

		reapResult, reapErr := newReaper(a, expireDryRun).Reap(cmd.Context())
		if reapResult != nil {
			printReap(out, reapResult)
		}

		return errors.Join(scanErr, reapErr)
	})
}
