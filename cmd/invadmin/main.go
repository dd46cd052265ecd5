/*
main.go - Administrative CLI for the invoice reconciliation server

PURPOSE:
  Drives the server's reconciliation endpoints from the command line:
  preview and correct misallocations, run the batched orphan corrector to
  completion, and validate cached invoice totals.

COMMANDS:
  invadmin preview    Show misallocated transactions (read-only)
  invadmin correct    Apply allocation corrections in bulk
  invadmin orphans    Correct orphaned purchases batch by batch
  invadmin validate   Recompute cached card totals

EXAMPLES:
  invadmin --server http://localhost:8080 preview
  invadmin orphans --batch-size 50

SEE ALSO:
  - api/server.go: The endpoints this CLI talks to
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var serverURL string

	rootCmd := &cobra.Command{
		Use:   "invadmin",
		Short: "Invoice reconciliation administration",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "base URL of the invoice server")

	rootCmd.AddCommand(newPreviewCommand(&serverURL))
	rootCmd.AddCommand(newCorrectCommand(&serverURL))
	rootCmd.AddCommand(newOrphansCommand(&serverURL))
	rootCmd.AddCommand(newValidateCommand(&serverURL))

	return rootCmd
}
