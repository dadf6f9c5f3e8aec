package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/yairfalse/ttlkeeper/internal/provisioner"
	"github.com/yairfalse/ttlkeeper/pkg/resource"
)

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start <instance-id>[,<instance-id>...]",
	Short: "Start stopped instances",
	Long: `Start each given instance that is currently stopped. Instances in
any other state are left alone. One failure does not stop the others.`,
	Example: `  ttlkeeper start i-0abc i-0def
  ttlkeeper start i-0abc,i-0def`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStart,
}

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop <instance-id>[,<instance-id>...]",
	Short: "Stop instances",
	Example: `  ttlkeeper stop i-0abc i-0def
  ttlkeeper stop i-0abc,i-0def`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	return runPower(cmd, args, (*provisioner.Provisioner).Start)
}

func runStop(cmd *cobra.Command, args []string) error {
	return runPower(cmd, args, (*provisioner.Provisioner).Stop)
}

type powerFunc func(*provisioner.Provisioner, context.Context, []string) ([]resource.Outcome, error)

func runPower(cmd *cobra.Command, args []string, fn powerFunc) error {
	ids := splitIDs(args)
	if len(ids) == 0 {
		return fmt.Errorf("no instance IDs given")
	}
	return withApp(cmd.Context(), func(a *app) error {
		p := provisioner.New(a.compute, a.codec, nil, a.logger)
		outcomes, err := fn(p, cmd.Context(), ids)
		printOutcomes(cmd.OutOrStdout(), outcomes)
		return err
	})
}

func printOutcomes(out io.Writer, outcomes []resource.Outcome) {
	for _, o := range outcomes {
		switch {
		case !o.OK():
			fmt.Fprintf(out, "%s\tfailed: %v\n", o.ID, o.Err)
		case provisioner.Skipped(o):
			fmt.Fprintf(out, "%s\tunchanged (%s)\n", o.ID, o.Current)
		default:
			fmt.Fprintf(out, "%s\t%s -> %s\n", o.ID, o.Previous, o.Current)
		}
	}
}
