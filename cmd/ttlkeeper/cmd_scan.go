package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yairfalse/ttlkeeper/internal/filter"
	"github.com/yairfalse/ttlkeeper/internal/scanner"
	"github.com/yairfalse/ttlkeeper/internal/ttl"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Add expired and untagged running instances to the delete list",
	Long: `List running instances, evaluate their TTL tags and merge every
expired or untagged instance into the delete list. Nothing is written
when no instance qualifies. Instances are not terminated; use reap.`,
	Example: `  ttlkeeper scan
  ttlkeeper scan --backend bolt   # Keep the list in a local file`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		result, err := newScanner(a).Scan(cmd.Context())
		if err != nil {
			return err
		}
		printScan(cmd.OutOrStdout(), result)
		return nil
	})
}

func newScanner(a *app) *scanner.Scanner {
	return scanner.New(a.compute, a.store, a.evaluator, a.logger,
		scanner.WithFilter(filter.New(a.cfg.Scan.IncludeTags, a.cfg.Scan.ExcludeTags)))
}

func printScan(out io.Writer, r *scanner.Result) {
	fmt.Fprintf(out, "scanned %d running instances: %d alive, %d expired, %d untagged, %d malformed\n",
		r.Scanned, r.Count(ttl.Alive), r.Count(ttl.Expired), r.Count(ttl.Untagged), r.Count(ttl.Malformed))
	if r.Excluded > 0 {
		fmt.Fprintf(out, "excluded by tag filter: %d\n", r.Excluded)
	}
	if r.NewlyFlagged.Len() == 0 {
		fmt.Fprintln(out, "no instances added to the delete list")
	} else {
		fmt.Fprintf(out, "flagged: %s\n", strings.Join(r.NewlyFlagged.Sorted(), ", "))
	}
	if len(r.Review) > 0 {
		fmt.Fprintf(out, "needs review (malformed tags): %s\n", strings.Join(r.Review, ", "))
	}
}
