package backup

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framersai/sql-storage-adapter/adapters/memory"
	"github.com/framersai/sql-storage-adapter/internal/coreconfig"
	"github.com/framersai/sql-storage-adapter/storage"
)

// fakeCloud is an in-process Cloud for exercising Manager without a real
// S3-compatible endpoint, grounded on storage/resolver_test.go's fakeAdapter
// pattern of standing in for an external collaborator with a plain map.
type fakeCloud struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeCloud() *fakeCloud { return &fakeCloud{objects: make(map[string][]byte)} }

func (f *fakeCloud) Upload(ctx context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeCloud) Download(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (f *fakeCloud) List(ctx context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *fakeCloud) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func seededAdapter(t *testing.T, ctx context.Context) storage.Adapter {
	t.Helper()
	a := memory.New()
	require.NoError(t, a.Open(ctx, storage.BackendConfig{Kind: storage.KindInMemory}))
	_, err := a.Run(ctx, "INSERT INTO items (id, value) VALUES (?, ?)", storage.NormalizeParams([]any{"r1", "hello"}))
	require.NoError(t, err)
	_, err = a.Run(ctx, "INSERT INTO items (id, value) VALUES (?, ?)", storage.NormalizeParams([]any{"r2", "world"}))
	require.NoError(t, err)
	return a
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := seededAdapter(t, ctx)

	data, err := Export(ctx, src, []string{"items"})
	require.NoError(t, err)
	require.NotEmpty(t, data)

	dst := memory.New()
	require.NoError(t, dst.Open(ctx, storage.BackendConfig{Kind: storage.KindInMemory}))
	require.NoError(t, Import(ctx, dst, data))

	rows, err := dst.All(ctx, "SELECT * FROM items", storage.ParameterBundle{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestManagerRunUploadsAndReturnsKey(t *testing.T) {
	ctx := context.Background()
	a := seededAdapter(t, ctx)
	cloud := newFakeCloud()

	mgr := New(Config{Cloud: cloud, Tables: []string{"items"}})
	key, err := mgr.Run(ctx, a)
	require.NoError(t, err)
	assert.Contains(t, key, "backup-")

	keys, err := cloud.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)
}

func TestManagerRunPrunesBeyondRetention(t *testing.T) {
	ctx := context.Background()
	a := seededAdapter(t, ctx)
	cloud := newFakeCloud()

	mgr := New(Config{Cloud: cloud, Tables: []string{"items"}, Retention: 2})

	var keys []string
	for i := 0; i < 4; i++ {
		// Each Run call uploads a new object; the uuid suffix in the key
		// keeps keys distinct even when several runs land in the same second.
		key, err := mgr.Run(ctx, a)
		require.NoError(t, err)
		keys = append(keys, key)
	}

	remaining, err := cloud.List(ctx, "")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(remaining), 2, "prune must keep at most Retention snapshots")
}

func TestManagerStartStopIsSafeWithoutInterval(t *testing.T) {
	mgr := New(Config{Cloud: newFakeCloud()})
	mgr.Start(nil) // Interval is zero, so Start must be a no-op and never touch the nil adapter.
	mgr.Stop()
}

// TestApplyLiveConfigUpdatesRetentionWithoutRestart checks that a
// non-restart-sensitive key (retention) takes effect immediately and does
// not ask the caller to restart.
func TestApplyLiveConfigUpdatesRetentionWithoutRestart(t *testing.T) {
	ctx := context.Background()
	a := seededAdapter(t, ctx)
	cloud := newFakeCloud()

	mgr := New(Config{Cloud: cloud, Tables: []string{"items"}, Retention: 1})
	live := coreconfig.New()
	live.Update(map[string]string{"retention": "1"})
	mgr.WatchLiveConfig(live)

	live.Update(map[string]string{"retention": "5"})
	restart := mgr.ApplyLiveConfig()
	assert.False(t, restart, "retention is not a restart-sensitive key")

	var keys []string
	for i := 0; i < 4; i++ {
		key, err := mgr.Run(ctx, a)
		require.NoError(t, err)
		keys = append(keys, key)
	}
	remaining, err := cloud.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, remaining, 4, "the raised retention must already apply to this run")
}

// TestApplyLiveConfigFlagsIntervalAsRestartSensitive checks that changing
// "interval" is reported as requiring a restart, since it is baked into the
// scheduler's ticker at Start time.
func TestApplyLiveConfigFlagsIntervalAsRestartSensitive(t *testing.T) {
	mgr := New(Config{Cloud: newFakeCloud()})
	live := coreconfig.New()
	live.Update(map[string]string{"interval": "1h"})
	mgr.WatchLiveConfig(live)

	live.Update(map[string]string{"interval": "2h"})
	assert.True(t, mgr.ApplyLiveConfig(), "changing interval must be reported as restart-sensitive")

	// a second call with nothing new changed must not ask for another restart.
	assert.False(t, mgr.ApplyLiveConfig())
}

// TestManagerWithoutLiveConfigNeverRequiresRestart ensures ApplyLiveConfig
// is a safe no-op for managers that never call WatchLiveConfig.
func TestManagerWithoutLiveConfigNeverRequiresRestart(t *testing.T) {
	mgr := New(Config{Cloud: newFakeCloud()})
	assert.False(t, mgr.ApplyLiveConfig())
}
