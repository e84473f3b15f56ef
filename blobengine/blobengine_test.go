package blobengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framersai/sql-storage-adapter/kv"
	"github.com/framersai/sql-storage-adapter/storage"
)

func openAdapter(t *testing.T, ctx context.Context, store kv.Store) *Adapter {
	t.Helper()
	a := New(store)
	require.NoError(t, a.Open(ctx, storage.BackendConfig{
		Kind: storage.KindBlobPersisted,
		Blob: storage.DefaultBlobConfig("test", "main"),
	}))
	return a
}

func TestRunAndQueryAgainstUnderlyingEngine(t *testing.T) {
	ctx := context.Background()
	a := openAdapter(t, ctx, kv.NewMemoryStore())

	require.NoError(t, a.Exec(ctx, "CREATE TABLE items (id TEXT PRIMARY KEY, value TEXT)"))
	_, err := a.Run(ctx, "INSERT INTO items (id, value) VALUES (?, ?)", storage.NormalizeParams([]any{"r1", "hello"}))
	require.NoError(t, err)

	row, ok, err := a.Get(ctx, "SELECT * FROM items WHERE id = ?", storage.NormalizeParams([]any{"r1"}))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", row["value"])
}

func TestCloseFlushesToStoreAndReopenRestoresState(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	a := openAdapter(t, ctx, store)

	require.NoError(t, a.Exec(ctx, "CREATE TABLE items (id TEXT PRIMARY KEY, value TEXT)"))
	_, err := a.Run(ctx, "INSERT INTO items (id, value) VALUES (?, ?)", storage.NormalizeParams([]any{"r1", "hello"}))
	require.NoError(t, err)
	require.NoError(t, a.Close(ctx))

	_, err = store.Get(ctx, kv.Key("test", "main"))
	require.NoError(t, err, "close must persist a snapshot into the store")

	reopened := openAdapter(t, ctx, store)
	row, ok, err := reopened.Get(ctx, "SELECT * FROM items WHERE id = ?", storage.NormalizeParams([]any{"r1"}))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", row["value"])
}

// TestAutoSaveWritesThroughOnFirstMutation simulates a crash: a single
// mutation is performed and Close is never called, standing in for the
// process dying before the 5s batch timer would have fired. The write-through
// flush on the first dirty transition must already have persisted the
// snapshot into the store.
func TestAutoSaveWritesThroughOnFirstMutation(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()

	// The schema comes from an earlier, cleanly closed adapter, so the
	// INSERT below is the crashed adapter's one and only mutation.
	seed := openAdapter(t, ctx, store)
	require.NoError(t, seed.Exec(ctx, "CREATE TABLE items (id TEXT PRIMARY KEY, value TEXT)"))
	require.NoError(t, seed.Close(ctx))

	a := openAdapter(t, ctx, store)
	_, err := a.Run(ctx, "INSERT INTO items (id, value) VALUES (?, ?)", storage.NormalizeParams([]any{"r1", "hello"}))
	require.NoError(t, err)

	_, err = store.Get(ctx, kv.Key("test", "main"))
	require.NoError(t, err, "the first mutation must write through to the store without waiting for the batch timer or Close")

	reopened := openAdapter(t, ctx, store)
	row, ok, err := reopened.Get(ctx, "SELECT * FROM items WHERE id = ?", storage.NormalizeParams([]any{"r1"}))
	require.NoError(t, err)
	require.True(t, ok, "a fresh adapter over the same store must already see the crashed adapter's row")
	assert.Equal(t, "hello", row["value"])
}

func TestTransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	a := openAdapter(t, ctx, kv.NewMemoryStore())
	require.NoError(t, a.Exec(ctx, "CREATE TABLE items (id TEXT PRIMARY KEY, value TEXT)"))

	boom := assert.AnError
	_, err := a.Transaction(ctx, func(ctx context.Context, tx storage.Adapter) (any, error) {
		if _, err := tx.Run(ctx, "INSERT INTO items (id, value) VALUES (?, ?)", storage.NormalizeParams([]any{"r1", "a"})); err != nil {
			return nil, err
		}
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	rows, err := a.All(ctx, "SELECT * FROM items", storage.ParameterBundle{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFootprintBytesReflectsExportedSize(t *testing.T) {
	ctx := context.Background()
	a := openAdapter(t, ctx, kv.NewMemoryStore())
	require.NoError(t, a.Exec(ctx, "CREATE TABLE items (id TEXT PRIMARY KEY)"))

	n, ok := a.FootprintBytes(ctx)
	assert.True(t, ok)
	assert.Positive(t, n)
}

func TestOperationsFailBeforeOpen(t *testing.T) {
	a := New(kv.NewMemoryStore())
	_, err := a.All(context.Background(), "SELECT 1", storage.ParameterBundle{})
	assert.ErrorIs(t, err, storage.ErrNotOpen)
}
