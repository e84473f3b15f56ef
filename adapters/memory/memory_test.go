package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framersai/sql-storage-adapter/storage"
)

func openAdapter(t *testing.T, ctx context.Context) *Adapter {
	t.Helper()
	a := New()
	require.NoError(t, a.Open(ctx, storage.BackendConfig{Kind: storage.KindInMemory}))
	return a
}

func TestInsertGetAllRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := openAdapter(t, ctx)

	rr, err := a.Run(ctx, "INSERT INTO items (id, value) VALUES (?, ?)",
		storage.NormalizeParams([]any{"r1", "hello"}))
	require.NoError(t, err)
	assert.EqualValues(t, 1, rr.Changes)

	row, ok, err := a.Get(ctx, "SELECT * FROM items WHERE id = ?", storage.NormalizeParams([]any{"r1"}))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", row["value"])

	rows, err := a.All(ctx, "SELECT * FROM items", storage.ParameterBundle{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestUpdateAndDeleteByWhereClause(t *testing.T) {
	ctx := context.Background()
	a := openAdapter(t, ctx)

	_, err := a.Run(ctx, "INSERT INTO items (id, value) VALUES (?, ?)", storage.NormalizeParams([]any{"r1", "a"}))
	require.NoError(t, err)
	_, err = a.Run(ctx, "INSERT INTO items (id, value) VALUES (?, ?)", storage.NormalizeParams([]any{"r2", "b"}))
	require.NoError(t, err)

	rr, err := a.Run(ctx, "UPDATE items SET value = ? WHERE id = ?", storage.NormalizeParams([]any{"a2", "r1"}))
	require.NoError(t, err)
	assert.EqualValues(t, 1, rr.Changes)

	row, ok, err := a.Get(ctx, "SELECT * FROM items WHERE id = ?", storage.NormalizeParams([]any{"r1"}))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a2", row["value"])

	rr, err = a.Run(ctx, "DELETE FROM items WHERE id = ?", storage.NormalizeParams([]any{"r2"}))
	require.NoError(t, err)
	assert.EqualValues(t, 1, rr.Changes)

	rows, err := a.All(ctx, "SELECT * FROM items", storage.ParameterBundle{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestNamedParameters(t *testing.T) {
	ctx := context.Background()
	a := openAdapter(t, ctx)

	_, err := a.Run(ctx, "INSERT INTO items (id, value) VALUES (@id, @value)",
		storage.ParameterBundle{Kind: storage.BundleNamed, Named: map[string]any{"id": "r1", "value": "x"}})
	require.NoError(t, err)

	row, ok, err := a.Get(ctx, "SELECT * FROM items WHERE id = @id",
		storage.ParameterBundle{Kind: storage.BundleNamed, Named: map[string]any{"id": "r1"}})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x", row["value"])
}

func TestTransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	a := openAdapter(t, ctx)

	_, err := a.Run(ctx, "INSERT INTO items (id, value) VALUES (?, ?)", storage.NormalizeParams([]any{"r1", "a"}))
	require.NoError(t, err)

	boom := assert.AnError
	_, err = a.Transaction(ctx, func(ctx context.Context, tx storage.Adapter) (any, error) {
		if _, err := tx.Run(ctx, "INSERT INTO items (id, value) VALUES (?, ?)", storage.NormalizeParams([]any{"r2", "b"})); err != nil {
			return nil, err
		}
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	rows, err := a.All(ctx, "SELECT * FROM items", storage.ParameterBundle{})
	require.NoError(t, err)
	assert.Len(t, rows, 1, "rollback must undo the in-flight insert")
}

func TestOperationsFailBeforeOpen(t *testing.T) {
	ctx := context.Background()
	a := New()
	_, err := a.Run(ctx, "INSERT INTO items (id) VALUES (?)", storage.NormalizeParams([]any{"r1"}))
	assert.ErrorIs(t, err, storage.ErrNotOpen)
}

func TestCloseClearsState(t *testing.T) {
	ctx := context.Background()
	a := openAdapter(t, ctx)
	_, err := a.Run(ctx, "INSERT INTO items (id) VALUES (?)", storage.NormalizeParams([]any{"r1"}))
	require.NoError(t, err)

	require.NoError(t, a.Close(ctx))
	assert.Equal(t, storage.StateClosed, a.GetState())

	_, err = a.Run(ctx, "INSERT INTO items (id) VALUES (?)", storage.NormalizeParams([]any{"r2"}))
	assert.ErrorIs(t, err, storage.ErrNotOpen)
}

func TestBatchReportsPerOpResults(t *testing.T) {
	ctx := context.Background()
	a := openAdapter(t, ctx)

	result, err := a.Batch(ctx, []storage.BatchOp{
		{Statement: "INSERT INTO items (id, value) VALUES (?, ?)", Params: storage.NormalizeParams([]any{"r1", "a"})},
		{Statement: "INSERT INTO items (id, value) VALUES (?, ?)", Params: storage.NormalizeParams([]any{"r2", "b"})},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Successful)
	assert.Equal(t, 0, result.Failed)

	rows, err := a.All(ctx, "SELECT * FROM items", storage.ParameterBundle{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
