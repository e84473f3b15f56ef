package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/framersai/sql-storage-adapter/storage"
)

// openAdapter resolves a storage.Adapter per the current flag set: an
// explicit --backend short-circuits to that one kind, otherwise the
// priority list is derived from which connection hints are present, the
// same way DefaultPriority documents for a hosted application.
func openAdapter(ctx context.Context, dsn, backend, file string) (storage.Adapter, error) {
	resolver := storage.NewResolver(nil)

	var priority []storage.Kind
	if backend != "" {
		priority = []storage.Kind{storage.Kind(backend)}
	} else {
		priority = storage.DefaultPriority(storage.RuntimeHint{
			NetworkConnStringPresent: dsn != "",
		})
	}

	cfgFor := func(kind storage.Kind) storage.BackendConfig {
		switch kind {
		case storage.KindNetworkRelational:
			return storage.BackendConfig{Kind: kind, Network: storage.NetworkConfig{ConnectionString: dsn}}
		case storage.KindNativeEmbedded:
			return storage.BackendConfig{Kind: kind, Native: storage.NativeConfig{FilePath: file}}
		case storage.KindWASMEmbedded:
			return storage.BackendConfig{Kind: kind, WASM: storage.WASMConfig{FilePath: file}}
		default:
			return storage.BackendConfig{Kind: kind}
		}
	}

	return resolver.Resolve(ctx, priority, cfgFor)
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve a backend and print which kind was chosen, its capabilities, and its connection descriptor",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		adapter, err := openAdapter(ctx, flagDSN, flagBackend, flagDBFile)
		if err != nil {
			return err
		}
		defer adapter.Close(ctx)

		info := adapter.Context()
		fmt.Printf("kind:       %s\n", info.AdapterKind)
		fmt.Printf("caps:       %v\n", info.Caps.Tags())
		fmt.Printf("connection: %s\n", info.ConnDescriptor)
		return nil
	},
}
