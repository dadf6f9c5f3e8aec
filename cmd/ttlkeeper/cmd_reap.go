package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yairfalse/ttlkeeper/internal/reaper"
)

var reapDryRun bool

// reapCmd represents the reap command
var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Terminate every instance on the delete list",
	Long: `Read the delete list and terminate all of it in one call.
The list is only rewritten after the provider accepted the call:
confirmed instances are removed, rejected ones stay for the next run.`,
	Example: `  ttlkeeper reap
  ttlkeeper reap --dry-run   # Show what would be terminated`,
	RunE: runReap,
}

func init() {
	rootCmd.AddCommand(reapCmd)

	reapCmd.Flags().BoolVar(&reapDryRun, "dry-run", false, "Report without terminating")
}

func runReap(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		result, err := newReaper(a, reapDryRun).Reap(cmd.Context())
		if result != nil {
			printReap(cmd.OutOrStdout(), result)
		}
		return err
	})
}

func newReaper(a *app, dryRun bool) *reaper.Reaper {
	return reaper.New(a.compute, a.store, a.logger, reaper.WithDryRun(dryRun))
}

func printReap(out io.Writer, r *reaper.Result) {
	switch {
	case r.Requested.Len() == 0:
		fmt.Fprintln(out, "there is no expired instance in the list")
	case r.DryRun:
		fmt.Fprintf(out, "would terminate: %s\n", strings.Join(r.Requested.Sorted(), ", "))
	default:
		fmt.Fprintf(out, "terminated: %s\n", strings.Join(r.Terminated.Sorted(), ", "))
		if r.Rejected.Len() > 0 {
			fmt.Fprintf(out, "rejected, kept on the list: %s\n", strings.Join(r.Rejected.Sorted(), ", "))
		}
	}
}
