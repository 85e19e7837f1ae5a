package main

import (
	"fmt"

	"github.com/korivak/graphcore"
	"github.com/spf13/cobra"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint <db-dir>",
	Short: "Force an immediate checkpoint and report the WAL size before/after",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpoint,
}

func init() {
	rootCmd.AddCommand(checkpointCmd)
}

func runCheckpoint(cmd *cobra.Command, args []string) error {
	dir := args[0]
	db, err := graphcore.Open(dir, graphcore.Options{})
	if err != nil {
		return fmt.Errorf("open %q: %w", dir, err)
	}
	defer db.Close()

	before := db.WALSizeBytes()
	if err := db.Checkpoint(); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wal size before=%d after=%d\n", before, db.WALSizeBytes())
	return nil
}
