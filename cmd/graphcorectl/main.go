// Command graphcorectl is a small offline diagnostic CLI over a graphcore
// database directory: inspect table statistics, force a checkpoint, and
// report WAL size, without going through a host application's own query
// surface. Grounded on cuemby-warren's cmd/warren (github.com/cuemby/warren),
// same cobra root-command-plus-subcommands shape.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "graphcorectl",
	Short: "Offline diagnostic tool for a graphcore database directory",
	Long: `graphcorectl inspects and maintains a graphcore database directory
without a host application: table row counts and column statistics,
WAL size, and forcing a checkpoint.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
