// Command storagectl is a thin CLI over the resolver and adapters: it lets
// an operator open whichever backend the environment resolves to and issue
// ad hoc statements, run a one-shot sync cycle between two backends, or
// export/import a backup payload, without writing Go.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/framersai/sql-storage-adapter/adapters/memory"
	_ "github.com/framersai/sql-storage-adapter/adapters/mobile"
	_ "github.com/framersai/sql-storage-adapter/adapters/native"
	_ "github.com/framersai/sql-storage-adapter/adapters/network"
	_ "github.com/framersai/sql-storage-adapter/adapters/wasmembed"
	_ "github.com/framersai/sql-storage-adapter/blobengine"
)

var (
	flagDSN     string
	flagBackend string
	flagDBFile  string
)

var rootCmd = &cobra.Command{
	Use:   "storagectl",
	Short: "Inspect and drive the SQL storage adapter resolver from the command line",
	Long: "storagectl resolves a storage.Adapter the same way an embedding application would " +
		"(STORAGE_ADAPTER override, then DSN/file hints) and exposes its operations as subcommands.",
}

func Execute() error { return rootCmd.Execute() }

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDSN, "dsn", "", "network-relational connection string (postgres://...)")
	rootCmd.PersistentFlags().StringVar(&flagBackend, "backend", "", "force a specific backend kind instead of resolving by hint")
	rootCmd.PersistentFlags().StringVar(&flagDBFile, "file", "", "native/wasm-embedded database file path")

	rootCmd.AddCommand(resolveCmd, runCmd, queryCmd, execCmd, syncCmd, backupCmd)
}

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "storagectl:", err)
		os.Exit(1)
	}
}
