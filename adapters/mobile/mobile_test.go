package mobile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framersai/sql-storage-adapter/storage"
)

// fakePlugin stands in for the host-supplied native bridge, grounded on
// storage/resolver_test.go's fakeAdapter pattern: exercise the adapter's
// own logic without any real mobile SQLite binding.
type fakePlugin struct {
	opened      bool
	rows        map[string][]storage.Row
	nextID      int64
	closeCalled bool
	txHandle    int64
	commitErr   error
	inTx        bool
}

func newFakePlugin() *fakePlugin {
	return &fakePlugin{rows: make(map[string][]storage.Row)}
}

func (f *fakePlugin) Open(ctx context.Context, databaseName string, encrypted bool) error {
	f.opened = true
	return nil
}

func (f *fakePlugin) Exec(ctx context.Context, sqlText string, args []any) (int64, int64, error) {
	if sqlText == "PRAGMA journal_mode=WAL" {
		return 0, 0, nil
	}
	f.nextID++
	f.rows[sqlText] = append(f.rows[sqlText], storage.Row{"sql": sqlText})
	return 1, f.nextID, nil
}

func (f *fakePlugin) Query(ctx context.Context, sqlText string, args []any) ([]storage.Row, error) {
	return []storage.Row{{"id": "r1"}}, nil
}

func (f *fakePlugin) BeginTx(ctx context.Context) (int64, error) {
	f.txHandle++
	f.inTx = true
	return f.txHandle, nil
}

func (f *fakePlugin) CommitTx(ctx context.Context, txHandle int64) error {
	f.inTx = false
	return f.commitErr
}

func (f *fakePlugin) RollbackTx(ctx context.Context, txHandle int64) error {
	f.inTx = false
	return nil
}

func (f *fakePlugin) ExecInTx(ctx context.Context, txHandle int64, sqlText string, args []any) (int64, int64, error) {
	return f.Exec(ctx, sqlText, args)
}

func (f *fakePlugin) QueryInTx(ctx context.Context, txHandle int64, sqlText string, args []any) ([]storage.Row, error) {
	return f.Query(ctx, sqlText, args)
}

func (f *fakePlugin) Close(ctx context.Context) error {
	f.closeCalled = true
	return nil
}

func TestOpenWithoutPluginFails(t *testing.T) {
	a := New(nil)
	err := a.Open(context.Background(), storage.BackendConfig{Kind: storage.KindMobileNative})
	assert.Error(t, err)
	assert.Equal(t, storage.StateError, a.GetState())
}

func TestOpenSetsPluginAndState(t *testing.T) {
	p := newFakePlugin()
	a := New(p)
	require.NoError(t, a.Open(context.Background(), storage.BackendConfig{
		Kind:   storage.KindMobileNative,
		Mobile: storage.MobileConfig{DatabaseName: "app.db"},
	}))
	assert.True(t, p.opened)
	assert.Equal(t, storage.StateOpen, a.GetState())
	assert.Equal(t, "app.db", a.Context().ConnDescriptor)
}

func TestRunAndQueryRouteThroughPlugin(t *testing.T) {
	ctx := context.Background()
	p := newFakePlugin()
	a := New(p)
	require.NoError(t, a.Open(ctx, storage.BackendConfig{Kind: storage.KindMobileNative}))

	rr, err := a.Run(ctx, "INSERT INTO items (id) VALUES (?)", storage.NormalizeParams([]any{"r1"}))
	require.NoError(t, err)
	assert.EqualValues(t, 1, rr.Changes)

	row, ok, err := a.Get(ctx, "SELECT * FROM items", storage.ParameterBundle{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "r1", row["id"])
}

func TestTransactionCommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	p := newFakePlugin()
	a := New(p)
	require.NoError(t, a.Open(ctx, storage.BackendConfig{Kind: storage.KindMobileNative}))

	_, err := a.Transaction(ctx, func(ctx context.Context, tx storage.Adapter) (any, error) {
		_, err := tx.Run(ctx, "INSERT INTO items (id) VALUES (?)", storage.NormalizeParams([]any{"r1"}))
		return nil, err
	})
	require.NoError(t, err)
	assert.False(t, p.inTx)
}

func TestTransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	p := newFakePlugin()
	a := New(p)
	require.NoError(t, a.Open(ctx, storage.BackendConfig{Kind: storage.KindMobileNative}))

	boom := assert.AnError
	_, err := a.Transaction(ctx, func(ctx context.Context, tx storage.Adapter) (any, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, p.inTx)
}

func TestNestedTransactionIsRejected(t *testing.T) {
	ctx := context.Background()
	p := newFakePlugin()
	a := New(p)
	require.NoError(t, a.Open(ctx, storage.BackendConfig{Kind: storage.KindMobileNative}))

	_, err := a.Transaction(ctx, func(ctx context.Context, tx storage.Adapter) (any, error) {
		return tx.Transaction(ctx, func(ctx context.Context, tx storage.Adapter) (any, error) {
			return nil, nil
		})
	})
	assert.Error(t, err)
}

func TestCloseClosesPluginOnce(t *testing.T) {
	ctx := context.Background()
	p := newFakePlugin()
	a := New(p)
	require.NoError(t, a.Open(ctx, storage.BackendConfig{Kind: storage.KindMobileNative}))

	require.NoError(t, a.Close(ctx))
	assert.True(t, p.closeCalled)
	assert.Equal(t, storage.StateClosed, a.GetState())

	p.closeCalled = false
	require.NoError(t, a.Close(ctx))
	assert.False(t, p.closeCalled, "closing an already-closed adapter must not call the plugin again")
}
