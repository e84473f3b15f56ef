package syncmgr_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framersai/sql-storage-adapter/adapters/memory"
	"github.com/framersai/sql-storage-adapter/storage"
	"github.com/framersai/sql-storage-adapter/syncmgr"
)

func openMemory(t *testing.T, ctx context.Context) storage.Adapter {
	t.Helper()
	a := memory.New()
	require.NoError(t, a.Open(ctx, storage.BackendConfig{Kind: storage.KindInMemory}))
	return a
}

func seed(t *testing.T, ctx context.Context, a storage.Adapter, id, value string, updatedAt time.Time) {
	t.Helper()
	_, err := a.Run(ctx, "INSERT INTO items (id, value, updated_at) VALUES (?, ?, ?)",
		storage.NormalizeParams([]any{id, value, updatedAt}))
	require.NoError(t, err)
}

func itemsTable() []syncmgr.TableConfig {
	return []syncmgr.TableConfig{{Name: "items", Priority: syncmgr.PriorityMedium}}
}

// TestLastWriteWinsPullsNewerRemote exercises spec.md §8's worked example:
// local {id:"r1", value:"L", updated_at:10} vs remote {id:"r1", value:"R",
// updated_at:20} resolves to the remote value locally, with one conflict
// reported.
func TestLastWriteWinsPullsNewerRemote(t *testing.T) {
	ctx := context.Background()
	primary := openMemory(t, ctx)
	remote := openMemory(t, ctx)

	seed(t, ctx, primary, "r1", "L", time.Unix(10, 0).UTC())
	seed(t, ctx, remote, "r1", "R", time.Unix(20, 0).UTC())

	mgr := syncmgr.New(syncmgr.Config{
		Primary:          primary,
		Remote:           remote,
		Mode:             syncmgr.ModeManual,
		Direction:        syncmgr.DirectionBidirectional,
		ConflictStrategy: syncmgr.StrategyLastWriteWins,
		Tables:           itemsTable(),
	})

	result := mgr.Sync(ctx)
	require.True(t, result.Success, "errors: %v", result.Errors)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, storage.ResolutionRemote, result.Conflicts[0].Resolution)

	row, ok, err := primary.Get(ctx, "SELECT * FROM items WHERE id = ?", storage.NormalizeParams([]any{"r1"}))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "R", row["value"])
}

// TestLastWriteWinsPrefersRemoteOnEqualTimestamps covers the tie case: equal
// updated_at with differing field values must resolve to the remote side,
// per spec.md's "ties prefer remote" rule.
func TestLastWriteWinsPrefersRemoteOnEqualTimestamps(t *testing.T) {
	ctx := context.Background()
	primary := openMemory(t, ctx)
	remote := openMemory(t, ctx)

	tie := time.Unix(10, 0).UTC()
	seed(t, ctx, primary, "r1", "L", tie)
	seed(t, ctx, remote, "r1", "R", tie)

	mgr := syncmgr.New(syncmgr.Config{
		Primary:          primary,
		Remote:           remote,
		Mode:             syncmgr.ModeManual,
		Direction:        syncmgr.DirectionBidirectional,
		ConflictStrategy: syncmgr.StrategyLastWriteWins,
		Tables:           itemsTable(),
	})

	result := mgr.Sync(ctx)
	require.True(t, result.Success, "errors: %v", result.Errors)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, storage.ResolutionRemote, result.Conflicts[0].Resolution)

	row, ok, err := primary.Get(ctx, "SELECT * FROM items WHERE id = ?", storage.NormalizeParams([]any{"r1"}))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "R", row["value"], "a tied timestamp with differing fields must resolve to the remote value")
}

// TestLocalWinsPushesOlderLocalOverNewerRemote checks that local-wins
// ignores which side is actually newer.
func TestLocalWinsPushesOlderLocalOverNewerRemote(t *testing.T) {
	ctx := context.Background()
	primary := openMemory(t, ctx)
	remote := openMemory(t, ctx)

	seed(t, ctx, primary, "r1", "L", time.Unix(10, 0).UTC())
	seed(t, ctx, remote, "r1", "R", time.Unix(20, 0).UTC())

	mgr := syncmgr.New(syncmgr.Config{
		Primary:          primary,
		Remote:           remote,
		Mode:             syncmgr.ModeManual,
		Direction:        syncmgr.DirectionBidirectional,
		ConflictStrategy: syncmgr.StrategyLocalWins,
		Tables:           itemsTable(),
	})

	result := mgr.Sync(ctx)
	require.True(t, result.Success, "errors: %v", result.Errors)

	row, ok, err := remote.Get(ctx, "SELECT * FROM items WHERE id = ?", storage.NormalizeParams([]any{"r1"}))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "L", row["value"])
}

// TestKeepBothInsertsDerivedRowAndLeavesBothSidesDivergent checks the
// keep-both strategy grows the primary's row count by one conflict without
// disturbing the remote's copy.
func TestKeepBothInsertsDerivedRowAndLeavesBothSidesDivergent(t *testing.T) {
	ctx := context.Background()
	primary := openMemory(t, ctx)
	remote := openMemory(t, ctx)

	seed(t, ctx, primary, "r1", "L", time.Unix(10, 0).UTC())
	seed(t, ctx, remote, "r1", "R", time.Unix(20, 0).UTC())

	mgr := syncmgr.New(syncmgr.Config{
		Primary:          primary,
		Remote:           remote,
		Mode:             syncmgr.ModeManual,
		Direction:        syncmgr.DirectionBidirectional,
		ConflictStrategy: syncmgr.StrategyKeepBoth,
		Tables:           itemsTable(),
	})

	result := mgr.Sync(ctx)
	require.True(t, result.Success, "errors: %v", result.Errors)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, storage.ResolutionKeptBoth, result.Conflicts[0].Resolution)

	rows, err := primary.All(ctx, "SELECT * FROM items", storage.ParameterBundle{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	derived, ok, err := primary.Get(ctx, "SELECT * FROM items WHERE id = ?", storage.NormalizeParams([]any{"r1~remote"}))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "R", derived["value"])
}

// TestPushOnlyNeverWritesToPrimary verifies direction gating: a
// remote-only row is never pulled when Direction is push-only.
func TestPushOnlyNeverWritesToPrimary(t *testing.T) {
	ctx := context.Background()
	primary := openMemory(t, ctx)
	remote := openMemory(t, ctx)

	seed(t, ctx, primary, "local-only", "L", time.Unix(10, 0).UTC())
	seed(t, ctx, remote, "remote-only", "R", time.Unix(10, 0).UTC())

	mgr := syncmgr.New(syncmgr.Config{
		Primary:   primary,
		Remote:    remote,
		Mode:      syncmgr.ModeManual,
		Direction: syncmgr.DirectionPushOnly,
		Tables:    itemsTable(),
	})

	result := mgr.Sync(ctx)
	require.True(t, result.Success, "errors: %v", result.Errors)

	rows, err := primary.All(ctx, "SELECT * FROM items", storage.ParameterBundle{})
	require.NoError(t, err)
	assert.Len(t, rows, 1, "push-only must not pull the remote-only row into primary")

	remoteRows, err := remote.All(ctx, "SELECT * FROM items", storage.ParameterBundle{})
	require.NoError(t, err)
	assert.Len(t, remoteRows, 2, "push-only must still push the local-only row to remote")
}

// TestSyncWithNilRemoteIsANoOp matches spec.md's "nil Remote disables
// syncing" contract.
func TestSyncWithNilRemoteIsANoOp(t *testing.T) {
	ctx := context.Background()
	primary := openMemory(t, ctx)

	mgr := syncmgr.New(syncmgr.Config{Primary: primary, Tables: itemsTable()})
	result := mgr.Sync(ctx)
	assert.True(t, result.Success)
	assert.Zero(t, result.RecordsSynced)
	assert.Empty(t, result.Conflicts)
}

// TestManualModeDoesNotScheduleAnything ensures Start/Stop are safe even
// when nothing will ever tick under manual mode.
func TestManualModeDoesNotScheduleAnything(t *testing.T) {
	ctx := context.Background()
	primary := openMemory(t, ctx)
	remote := openMemory(t, ctx)

	mgr := syncmgr.New(syncmgr.Config{
		Primary: primary,
		Remote:  remote,
		Mode:    syncmgr.ModeManual,
		Tables:  itemsTable(),
	})
	mgr.Start()
	defer mgr.Stop()

	assert.False(t, mgr.Syncing())
	result := mgr.Sync(ctx)
	assert.True(t, result.Success)
}
