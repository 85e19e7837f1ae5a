package main

import (
	"fmt"

	"github.com/korivak/graphcore"
	"github.com/spf13/cobra"
)

var statCmd = &cobra.Command{
	Use:   "stat <db-dir> <table>",
	Short: "Print a table's row count and column statistics",
	Args:  cobra.ExactArgs(2),
	RunE:  runStat,
}

func init() {
	rootCmd.AddCommand(statCmd)
}

func runStat(cmd *cobra.Command, args []string) error {
	dir, table := args[0], args[1]
	db, err := graphcore.Open(dir, graphcore.Options{})
	if err != nil {
		return fmt.Errorf("open %q: %w", dir, err)
	}
	defer db.Close()

	ts, ok := db.Catalog().TableStats(table)
	if !ok {
		return fmt.Errorf("table %q has no recorded statistics", table)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "table %s: %d rows\n", table, ts.RowCount)
	for name, cs := range ts.Columns {
		fmt.Fprintf(cmd.OutOrStdout(), "  %-20s nulls=%d", name, cs.NullCount)
		if cs.HasMinMax {
			fmt.Fprintf(cmd.OutOrStdout(), " min=%x max=%x", cs.Min, cs.Max)
		}
		fmt.Fprintln(cmd.OutOrStdout())
	}
	return nil
}
