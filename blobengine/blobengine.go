// Package blobengine implements the blob-persisted backend: an in-memory
// wasmembed.Engine whose contents are durably mirrored into a kv.Store,
// following the timer-batched, dirty-flag-gated persistence cycle of
// spec.md §4.7 (the browser "OPFS-less" storage path: a WASM SQL engine
// backed by IndexedDB through periodic full-snapshot export rather than a
// page-level file handle).
package blobengine

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/framersai/sql-storage-adapter/adapters/wasmembed"
	"github.com/framersai/sql-storage-adapter/internal/corelog"
	"github.com/framersai/sql-storage-adapter/internal/sqlcommon"
	"github.com/framersai/sql-storage-adapter/kv"
	"github.com/framersai/sql-storage-adapter/storage"
)

func init() {
	storage.Register(storage.KindBlobPersisted, func() storage.Adapter { return New(nil) })
}

// Engine composes a wasmembed.Engine with a kv.Store, adding dirty-flag
// tracking and a batched save timer on top of wasmembed's byte-level
// export/import so mutations do not each force a synchronous snapshot.
type Engine struct {
	store  kv.Store
	key    string
	engine *wasmembed.Engine

	mu       sync.Mutex
	dirty    bool
	timer    *time.Timer
	interval time.Duration
	autoSave bool
	log      *corelog.Logger
}

// Open loads the last-persisted snapshot for (dbName, storeName) from
// store, or creates a fresh empty engine if none exists yet.
func Open(ctx context.Context, store kv.Store, cfg storage.BlobConfig, log *corelog.Logger) (*Engine, error) {
	key := kv.Key(cfg.DBName, cfg.StoreName)
	data, err := store.Get(ctx, key)

	var eng *wasmembed.Engine
	if err == kv.ErrNotFound {
		eng, err = wasmembed.NewEngine(ctx)
	} else if err == nil {
		eng, err = wasmembed.NewEngineFromBytes(ctx, data)
	}
	if err != nil {
		return nil, err
	}

	interval := time.Duration(cfg.SaveIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Engine{
		store:    store,
		key:      key,
		engine:   eng,
		interval: interval,
		autoSave: cfg.AutoSave,
		log:      log,
	}, nil
}

// DB exposes the underlying *sql.DB for query execution.
func (e *Engine) DB() *sql.DB { return e.engine.DB() }

// MarkDirty records that a mutation happened. Under auto-save, the first
// mutation since the last flush (no timer currently pending) gets an
// immediate write-through flush so it survives a crash before the next
// tick; any further mutations before that tick just ride the batch. Callers
// with auto-save disabled are expected to force their own synchronous Flush
// right after calling this.
func (e *Engine) MarkDirty() {
	e.mu.Lock()
	wasDirty := e.dirty
	e.dirty = true
	timerPending := e.timer != nil
	e.mu.Unlock()

	if !e.autoSave {
		return
	}
	if !wasDirty && !timerPending {
		if err := e.Flush(context.Background()); err != nil {
			e.log.Warnf("write-through flush failed: %v", err)
		}
	}
	e.armTimer()
}

// armTimer schedules the batched flush if nothing is already pending.
func (e *Engine) armTimer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer != nil {
		return
	}
	e.timer = time.AfterFunc(e.interval, func() {
		e.mu.Lock()
		e.timer = nil
		e.mu.Unlock()
		if err := e.Flush(context.Background()); err != nil {
			e.log.Warnf("batched persistence flush failed: %v", err)
		}
	})
}

// Flush persists the current database state to the store if dirty, clearing
// the dirty flag and disarming the pending timer on success.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	if !e.dirty {
		e.mu.Unlock()
		return nil
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.mu.Unlock()

	data, err := e.engine.Export(ctx)
	if err != nil {
		return err
	}
	if err := e.store.Put(ctx, e.key, data); err != nil {
		return err
	}

	e.mu.Lock()
	e.dirty = false
	e.mu.Unlock()
	return nil
}

// Close forces a final synchronous flush (crash-on-close durability per
// spec.md §4.7) before releasing the underlying engine.
func (e *Engine) Close(ctx context.Context) error {
	flushErr := e.Flush(ctx)
	closeErr := e.engine.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Adapter is the storage.Adapter implementation over Engine.
type Adapter struct {
	log *corelog.Logger

	mu    sync.Mutex
	state storage.State
	eng   *Engine
	store kv.Store
	cfg   storage.BlobConfig
}

// New constructs an unopened blob-persisted adapter. A nil store defaults
// to an in-memory kv.Store at Open time, which is sufficient for tests and
// any non-browser host; production browser use supplies an
// *kv.IndexedDBStore instead.
func New(store kv.Store) *Adapter {
	return &Adapter{log: corelog.New("blob"), store: store}
}

func (a *Adapter) Kind() storage.Kind { return storage.KindBlobPersisted }
func (a *Adapter) Capabilities() storage.CapabilitySet {
	return storage.CapabilitiesFor(storage.KindBlobPersisted)
}
func (a *Adapter) Context() storage.AdapterContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	return storage.AdapterContext{AdapterKind: a.Kind(), Caps: a.Capabilities(), ConnDescriptor: a.cfg.DBName + "/" + a.cfg.StoreName}
}
func (a *Adapter) GetState() storage.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Adapter) Open(ctx context.Context, opts storage.BackendConfig) error {
	a.mu.Lock()
	switch a.state {
	case storage.StateOpen:
		a.mu.Unlock()
		return nil
	case storage.StateOpening:
		a.mu.Unlock()
		return storage.ErrAlreadyOpening
	}
	a.state = storage.StateOpening
	store := a.store
	a.mu.Unlock()

	if store == nil {
		store = kv.NewMemoryStore()
	}
	cfg := opts.Blob
	if cfg.DBName == "" {
		cfg = storage.DefaultBlobConfig("default", "sqlite")
	}

	eng, err := Open(ctx, store, cfg, a.log)
	if err != nil {
		a.fail()
		return &storage.OpenFailedError{AdapterKind: a.Kind(), Cause: err}
	}

	a.mu.Lock()
	a.eng = eng
	a.store = store
	a.cfg = cfg
	a.state = storage.StateOpen
	a.mu.Unlock()
	return nil
}

func (a *Adapter) fail() {
	a.mu.Lock()
	a.state = storage.StateError
	a.mu.Unlock()
}

func (a *Adapter) requireOpen() (*Engine, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != storage.StateOpen {
		return nil, storage.ErrNotOpen
	}
	return a.eng, nil
}

func translate(stmt storage.Statement, params storage.ParameterBundle) (string, []any, error) {
	switch params.Kind {
	case storage.BundleNamed:
		return storage.TranslateNamedToQuestion(stmt, params.Named)
	case storage.BundlePositional:
		return string(stmt), sqlcommon.ToArgs(params.Values), nil
	default:
		return string(stmt), nil, nil
	}
}

func (a *Adapter) Run(ctx context.Context, stmt storage.Statement, params storage.ParameterBundle) (storage.RunResult, error) {
	eng, err := a.requireOpen()
	if err != nil {
		return storage.RunResult{}, err
	}
	rr, err := runResultFor(ctx, eng.DB(), stmt, params)
	if err != nil {
		return storage.RunResult{}, wrapErr(a.Kind(), "run", err)
	}
	eng.MarkDirty()
	if !eng.autoSave {
		if flushErr := eng.Flush(ctx); flushErr != nil {
			a.log.Warnf("synchronous flush failed: %v", flushErr)
		}
	}
	return rr, nil
}

func runResultFor(ctx context.Context, ex sqlcommon.Executor, stmt storage.Statement, params storage.ParameterBundle) (storage.RunResult, error) {
	text, args, err := translate(stmt, params)
	if err != nil {
		return storage.RunResult{}, err
	}
	res, err := ex.ExecContext(ctx, text, args...)
	if err != nil {
		return storage.RunResult{}, err
	}
	changes, _ := res.RowsAffected()
	row := ex.QueryRowContext(ctx, "SELECT last_insert_rowid()")
	var id int64
	if scanErr := row.Scan(&id); scanErr != nil || id == 0 {
		return storage.RunResult{Changes: changes}, nil
	}
	return storage.RunResult{Changes: changes, LastInsertRowID: storage.NormalizeInt64RowID(id)}, nil
}

func (a *Adapter) Get(ctx context.Context, stmt storage.Statement, params storage.ParameterBundle) (storage.Row, bool, error) {
	rows, err := a.All(ctx, stmt, params)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

func (a *Adapter) All(ctx context.Context, stmt storage.Statement, params storage.ParameterBundle) ([]storage.Row, error) {
	eng, err := a.requireOpen()
	if err != nil {
		return nil, err
	}
	text, args, err := translate(stmt, params)
	if err != nil {
		return nil, err
	}
	rs, err := eng.DB().QueryContext(ctx, text, args...)
	if err != nil {
		return nil, wrapErr(a.Kind(), "query", err)
	}
	return sqlcommon.ScanRows(rs)
}

func (a *Adapter) Exec(ctx context.Context, script string) error {
	eng, err := a.requireOpen()
	if err != nil {
		return err
	}
	for _, stmt := range storage.SplitScript(script) {
		if _, err := eng.DB().ExecContext(ctx, stmt); err != nil {
			return wrapErr(a.Kind(), "exec", err)
		}
	}
	eng.MarkDirty()
	if !eng.autoSave {
		if flushErr := eng.Flush(ctx); flushErr != nil {
			a.log.Warnf("synchronous flush failed: %v", flushErr)
		}
	}
	return nil
}

type txAdapter struct {
	*Adapter
	tx  *sql.Tx
	eng *Engine
}

func (t *txAdapter) Run(ctx context.Context, stmt storage.Statement, params storage.ParameterBundle) (storage.RunResult, error) {
	rr, err := runResultFor(ctx, t.tx, stmt, params)
	if err != nil {
		return storage.RunResult{}, wrapErr(t.Kind(), "run", err)
	}
	return rr, nil
}
func (t *txAdapter) Get(ctx context.Context, stmt storage.Statement, params storage.ParameterBundle) (storage.Row, bool, error) {
	rows, err := t.queryAll(ctx, stmt, params)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}
func (t *txAdapter) All(ctx context.Context, stmt storage.Statement, params storage.ParameterBundle) ([]storage.Row, error) {
	return t.queryAll(ctx, stmt, params)
}
func (t *txAdapter) queryAll(ctx context.Context, stmt storage.Statement, params storage.ParameterBundle) ([]storage.Row, error) {
	text, args, err := translate(stmt, params)
	if err != nil {
		return nil, err
	}
	rs, err := t.tx.QueryContext(ctx, text, args...)
	if err != nil {
		return nil, wrapErr(t.Kind(), "query", err)
	}
	return sqlcommon.ScanRows(rs)
}
func (t *txAdapter) Transaction(ctx context.Context, fn storage.TxFunc) (any, error) {
	return nil, wrapErr(t.Kind(), "transaction", errNestedTx)
}

func (a *Adapter) Transaction(ctx context.Context, fn storage.TxFunc) (any, error) {
	eng, err := a.requireOpen()
	if err != nil {
		return nil, err
	}
	tx, err := eng.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapErr(a.Kind(), "begin", err)
	}
	result, err := fn(ctx, &txAdapter{Adapter: a, tx: tx, eng: eng})
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapErr(a.Kind(), "commit", err)
	}
	eng.MarkDirty()
	if !eng.autoSave {
		if flushErr := eng.Flush(ctx); flushErr != nil {
			a.log.Warnf("synchronous flush failed: %v", flushErr)
		}
	}
	return result, nil
}

type preparedStmt struct {
	adapter *Adapter
	eng     *Engine
	stmt    *sql.Stmt
}

func (p *preparedStmt) Run(ctx context.Context, params storage.ParameterBundle) (storage.RunResult, error) {
	args, err := positionalOnly(params)
	if err != nil {
		return storage.RunResult{}, err
	}
	res, err := p.stmt.ExecContext(ctx, args...)
	if err != nil {
		return storage.RunResult{}, wrapErr(p.adapter.Kind(), "run", err)
	}
	changes, _ := res.RowsAffected()
	p.eng.MarkDirty()
	if !p.eng.autoSave {
		if flushErr := p.eng.Flush(ctx); flushErr != nil {
			p.adapter.log.Warnf("synchronous flush failed: %v", flushErr)
		}
	}
	return storage.RunResult{Changes: changes}, nil
}
func (p *preparedStmt) Get(ctx context.Context, params storage.ParameterBundle) (storage.Row, bool, error) {
	rows, err := p.All(ctx, params)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}
func (p *preparedStmt) All(ctx context.Context, params storage.ParameterBundle) ([]storage.Row, error) {
	args, err := positionalOnly(params)
	if err != nil {
		return nil, err
	}
	rs, err := p.stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, wrapErr(p.adapter.Kind(), "query", err)
	}
	return sqlcommon.ScanRows(rs)
}
func (p *preparedStmt) Finalize() error { return p.stmt.Close() }

func positionalOnly(params storage.ParameterBundle) ([]any, error) {
	switch params.Kind {
	case storage.BundlePositional:
		return sqlcommon.ToArgs(params.Values), nil
	case storage.BundleEmpty:
		return nil, nil
	default:
		return nil, errNamedNotSupported
	}
}

func (a *Adapter) Prepare(ctx context.Context, stmt storage.Statement) (storage.PreparedStatement, error) {
	eng, err := a.requireOpen()
	if err != nil {
		return nil, err
	}
	compiled, err := eng.DB().PrepareContext(ctx, string(stmt))
	if err != nil {
		return nil, wrapErr(a.Kind(), "prepare", err)
	}
	return &preparedStmt{adapter: a, eng: eng, stmt: compiled}, nil
}

func (a *Adapter) FootprintBytes(ctx context.Context) (int64, bool) {
	eng, err := a.requireOpen()
	if err != nil {
		return 0, false
	}
	data, err := eng.engine.Export(ctx)
	if err != nil {
		return 0, false
	}
	return int64(len(data)), true
}

func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.state == storage.StateClosed || a.state == storage.StateClosing {
		a.mu.Unlock()
		return nil
	}
	a.state = storage.StateClosing
	eng := a.eng
	a.mu.Unlock()

	var err error
	if eng != nil {
		err = eng.Close(ctx)
	}

	a.mu.Lock()
	a.state = storage.StateClosed
	a.mu.Unlock()
	if err != nil {
		return wrapErr(a.Kind(), "close", err)
	}
	return nil
}

var (
	errNestedTx          = errors.New("blob: nested transactions are not supported")
	errNamedNotSupported = errors.New("blob: prepared statements do not support named parameters")
)

func wrapErr(kind storage.Kind, op string, err error) error {
	return &storage.BackendError{AdapterKind: kind, Operation: op, Cause: err}
}
