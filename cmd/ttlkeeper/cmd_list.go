package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var listOutput string

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the delete list",
	Example: `  ttlkeeper list
  ttlkeeper list -o json`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVarP(&listOutput, "output", "o", "text", "Output format: text, json")
}

func runList(cmd *cobra.Command, args []string) error {
	if listOutput != "text" && listOutput != "json" {
		return fmt.Errorf("invalid output format: %s (must be one of: text, json)", listOutput)
	}
	return withApp(cmd.Context(), func(a *app) error {
		ids, err := a.store.Get(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if listOutput == "json" {
			enc := json.NewEncoder(out)
			return enc.Encode(ids)
		}
		for _, id := range ids.Sorted() {
			fmt.Fprintln(out, id)
		}
		return nil
	})
}
