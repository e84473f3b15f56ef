package syncmgr_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framersai/sql-storage-adapter/adapters/wasmembed"
	"github.com/framersai/sql-storage-adapter/storage"
	"github.com/framersai/sql-storage-adapter/syncmgr"
)

// openWasm opens a WASM-embedded adapter, the cheapest real-SQL backend in
// this module (no cgo, no network) that actually supports ORDER BY/LIMIT,
// needed to exercise applyRowCap's eviction query — the in-memory adapter's
// minimal statement dialect cannot parse it.
func openWasm(t *testing.T, ctx context.Context) storage.Adapter {
	t.Helper()
	a := wasmembed.New()
	require.NoError(t, a.Open(ctx, storage.BackendConfig{Kind: storage.KindWASMEmbedded}))
	require.NoError(t, a.Exec(ctx, "CREATE TABLE items (id TEXT PRIMARY KEY, value TEXT, updated_at TIMESTAMP)"))
	return a
}

func seedWasm(t *testing.T, ctx context.Context, a storage.Adapter, id, value string, updatedAt time.Time) {
	t.Helper()
	_, err := a.Run(ctx, "INSERT INTO items (id, value, updated_at) VALUES (?, ?, ?)",
		storage.NormalizeParams([]any{id, value, updatedAt}))
	require.NoError(t, err)
}

// TestRowCapEvictsOldestRowBeforePullingANewOne confirms a per-table
// MaxRecords cap evicts the primary's oldest row (by updated_at) to make
// room right before a remote-only row is pulled in, matching
// applyRowCap's one call site in syncTable's pull branch.
func TestRowCapEvictsOldestRowBeforePullingANewOne(t *testing.T) {
	ctx := context.Background()
	primary := openWasm(t, ctx)
	defer primary.Close(ctx)
	remote := openWasm(t, ctx)
	defer remote.Close(ctx)

	seedWasm(t, ctx, primary, "old", "o", time.Unix(1, 0).UTC())
	seedWasm(t, ctx, primary, "mid", "m", time.Unix(50, 0).UTC())
	seedWasm(t, ctx, remote, "fresh", "f", time.Unix(100, 0).UTC())

	mgr := syncmgr.New(syncmgr.Config{
		Primary:   primary,
		Remote:    remote,
		Direction: syncmgr.DirectionBidirectional,
		Tables:    []syncmgr.TableConfig{{Name: "items", Priority: syncmgr.PriorityMedium, MaxRecords: 2}},
	})

	result := mgr.Sync(ctx)
	require.True(t, result.Success, "errors: %v", result.Errors)

	rows, err := primary.All(ctx, "SELECT id FROM items", storage.ParameterBundle{})
	require.NoError(t, err)
	var ids []string
	for _, r := range rows {
		ids = append(ids, r["id"].(string))
	}
	assert.Len(t, ids, 2, "the cap must hold even after pulling the remote-only row")
	assert.NotContains(t, ids, "old", "the row cap must evict the oldest row before pulling a new one in")
	assert.Contains(t, ids, "fresh")
}

// TestRowCapIsANoOpUnderTheLimit ensures a table under its MaxRecords cap
// is left untouched.
func TestRowCapIsANoOpUnderTheLimit(t *testing.T) {
	ctx := context.Background()
	primary := openWasm(t, ctx)
	defer primary.Close(ctx)

	seedWasm(t, ctx, primary, "only", "o", time.Unix(1, 0).UTC())

	remote := openWasm(t, ctx)
	defer remote.Close(ctx)

	mgr := syncmgr.New(syncmgr.Config{
		Primary: primary,
		Remote:  remote,
		Tables:  []syncmgr.TableConfig{{Name: "items", Priority: syncmgr.PriorityMedium, MaxRecords: 10}},
	})

	result := mgr.Sync(ctx)
	require.True(t, result.Success)

	rows, err := primary.All(ctx, "SELECT id FROM items", storage.ParameterBundle{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

// TestStorageBudgetWarnDoesNotFailTheCycle exercises the row-count-surrogate
// budget path (the in-memory adapter implements no FootprintReporter) under
// the warn action: exceeding the configured limit should be reported but
// must not make the cycle unsuccessful. A 1MB limit divided by the 256
// assumed-bytes-per-row surrogate is comfortably exceeded by seeding more
// rows than that.
func TestStorageBudgetWarnDoesNotFailTheCycle(t *testing.T) {
	ctx := context.Background()
	primary := openMemory(t, ctx)
	remote := openMemory(t, ctx)
	for i := 0; i < 5000; i++ {
		seed(t, ctx, primary, fmt.Sprintf("r%d", i), "x", time.Unix(int64(i), 0).UTC())
	}

	mgr := syncmgr.New(syncmgr.Config{
		Primary:            primary,
		Remote:             remote,
		Tables:             itemsTable(),
		StorageLimitMB:     1,
		StorageLimitAction: syncmgr.BudgetWarn,
	})

	result := mgr.Sync(ctx)
	assert.True(t, result.Success, "warn action must not fail the cycle even when over budget")
}

// TestStorageBudgetErrorFailsTheCycle exercises the same over-budget
// condition under the error action.
func TestStorageBudgetErrorFailsTheCycle(t *testing.T) {
	ctx := context.Background()
	primary := openMemory(t, ctx)
	remote := openMemory(t, ctx)
	for i := 0; i < 5000; i++ {
		seed(t, ctx, primary, fmt.Sprintf("r%d", i), "x", time.Unix(int64(i), 0).UTC())
	}

	mgr := syncmgr.New(syncmgr.Config{
		Primary:            primary,
		Remote:             remote,
		Tables:             itemsTable(),
		StorageLimitMB:     1,
		StorageLimitAction: syncmgr.BudgetError,
	})

	result := mgr.Sync(ctx)
	assert.False(t, result.Success, "error action must fail the cycle once over budget")
	assert.NotEmpty(t, result.Errors)
}
