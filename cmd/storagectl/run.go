package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/framersai/sql-storage-adapter/storage"
)

var runCmd = &cobra.Command{
	Use:   "run <sql> [args...]",
	Short: "Run a single mutating statement and print its RunResult",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		adapter, err := openAdapter(ctx, flagDSN, flagBackend, flagDBFile)
		if err != nil {
			return err
		}
		defer adapter.Close(ctx)

		params := storage.NormalizeParams(stringsToAny(args[1:]))
		result, err := adapter.Run(ctx, storage.Statement(args[0]), params)
		if err != nil {
			return err
		}
		fmt.Printf("changes: %d\n", result.Changes)
		if result.LastInsertRowID.Valid {
			if result.LastInsertRowID.IsString {
				fmt.Printf("last_insert_row_id: %s\n", result.LastInsertRowID.StringValue)
			} else {
				fmt.Printf("last_insert_row_id: %d\n", result.LastInsertRowID.Int64Value)
			}
		}
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <sql> [args...]",
	Short: "Run a read-only statement and print every returned row",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		adapter, err := openAdapter(ctx, flagDSN, flagBackend, flagDBFile)
		if err != nil {
			return err
		}
		defer adapter.Close(ctx)

		params := storage.NormalizeParams(stringsToAny(args[1:]))
		rows, err := adapter.All(ctx, storage.Statement(args[0]), params)
		if err != nil {
			return err
		}
		for _, row := range rows {
			fmt.Println(row)
		}
		return nil
	},
}

var execCmd = &cobra.Command{
	Use:   "exec <script-file>",
	Short: "Run a multi-statement SQL script with no result set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		adapter, err := openAdapter(ctx, flagDSN, flagBackend, flagDBFile)
		if err != nil {
			return err
		}
		defer adapter.Close(ctx)

		script, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		return adapter.Exec(ctx, string(script))
	},
}

func stringsToAny(args []string) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}
