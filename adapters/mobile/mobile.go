// Package mobile implements the mobile-native adapter: a thin wrapper over
// a host-supplied plugin surface (the function-pointer seam a gomobile or
// React Native bridge would inject), grounded on the teacher's
// pkg/service/base.go pattern of wrapping an externally-supervised resource
// behind the package's own lifecycle state machine, and on native's
// prepared-statement-free runOn/allOn shape for routing through a pinned
// transactional handle.
package mobile

import (
	"context"
	"errors"
	"sync"

	"github.com/framersai/sql-storage-adapter/internal/corelog"
	"github.com/framersai/sql-storage-adapter/storage"
)

func init() {
	storage.Register(storage.KindMobileNative, func() storage.Adapter { return New(nil) })
}

// Plugin is the host-provided bridge a mobile runtime injects: a set of
// function pointers bound to the platform's native SQLite binding (iOS
// SQLCipher, Android's bundled SQLite, ...). The adapter never talks to the
// database directly; every operation goes through this seam.
type Plugin interface {
	Open(ctx context.Context, databaseName string, encrypted bool) error
	Exec(ctx context.Context, sqlText string, args []any) (changes int64, lastInsertRowID int64, err error)
	Query(ctx context.Context, sqlText string, args []any) ([]storage.Row, error)
	BeginTx(ctx context.Context) (txHandle int64, err error)
	CommitTx(ctx context.Context, txHandle int64) error
	RollbackTx(ctx context.Context, txHandle int64) error
	ExecInTx(ctx context.Context, txHandle int64, sqlText string, args []any) (changes int64, lastInsertRowID int64, err error)
	QueryInTx(ctx context.Context, txHandle int64, sqlText string, args []any) ([]storage.Row, error)
	Close(ctx context.Context) error
}

var errNoPlugin = errors.New("mobile: no host plugin registered; wire one via SetPlugin before Open")

// Adapter is the mobile-native storage.Adapter implementation.
type Adapter struct {
	log *corelog.Logger

	mu           sync.Mutex
	state        storage.State
	plugin       Plugin
	databaseName string
	encrypted    bool
}

// New constructs an unopened mobile-native adapter bound to the given
// plugin. A nil plugin is accepted so the kind can still self-register;
// Open fails with errNoPlugin until SetPlugin is called.
func New(p Plugin) *Adapter {
	return &Adapter{log: corelog.New("mobile"), plugin: p}
}

// SetPlugin binds the host bridge. Must be called before Open.
func (a *Adapter) SetPlugin(p Plugin) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.plugin = p
}

func (a *Adapter) Kind() storage.Kind { return storage.KindMobileNative }
func (a *Adapter) Capabilities() storage.CapabilitySet {
	return storage.CapabilitiesFor(storage.KindMobileNative)
}
func (a *Adapter) Context() storage.AdapterContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	return storage.AdapterContext{AdapterKind: a.Kind(), Caps: a.Capabilities(), ConnDescriptor: a.databaseName}
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
	if a.plugin == nil {
		a.state = storage.StateError
		a.mu.Unlock()
		return &storage.OpenFailedError{AdapterKind: a.Kind(), Cause: errNoPlugin}
	}
	a.state = storage.StateOpening
	a.mu.Unlock()

	name := opts.Mobile.DatabaseName
	if name == "" {
		name = "default"
	}
	if err := a.plugin.Open(ctx, name, opts.Mobile.Encrypted); err != nil {
		a.fail()
		return &storage.OpenFailedError{AdapterKind: a.Kind(), Cause: err}
	}

	// Best-effort WAL pragma: some mobile SQLite bundles (notably iOS's
	// system library in certain app sandboxing configurations) reject it,
	// so failure here is logged, not fatal, matching spec.md §4.6.
	if _, _, err := a.plugin.Exec(ctx, "PRAGMA journal_mode=WAL", nil); err != nil {
		a.log.Warnf("could not enable WAL mode: %v", err)
	}

	a.mu.Lock()
	a.databaseName = name
	a.encrypted = opts.Mobile.Encrypted
	a.state = storage.StateOpen
	a.mu.Unlock()
	return nil
}

func (a *Adapter) fail() {
	a.mu.Lock()
	a.state = storage.StateError
	a.mu.Unlock()
}

func (a *Adapter) requirePlugin() (Plugin, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != storage.StateOpen {
		return nil, storage.ErrNotOpen
	}
	return a.plugin, nil
}

func (a *Adapter) Run(ctx context.Context, stmt storage.Statement, params storage.ParameterBundle) (storage.RunResult, error) {
	p, err := a.requirePlugin()
	if err != nil {
		return storage.RunResult{}, err
	}
	text, args, err := translateForMobile(stmt, params)
	if err != nil {
		return storage.RunResult{}, err
	}
	changes, lastID, err := p.Exec(ctx, text, args)
	if err != nil {
		return storage.RunResult{}, wrapErr(a.Kind(), "run", err)
	}
	return storage.RunResult{Changes: changes, LastInsertRowID: storage.NormalizeInt64RowID(lastID)}, nil
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
	p, err := a.requirePlugin()
	if err != nil {
		return nil, err
	}
	text, args, err := translateForMobile(stmt, params)
	if err != nil {
		return nil, err
	}
	rows, err := p.Query(ctx, text, args)
	if err != nil {
		return nil, wrapErr(a.Kind(), "query", err)
	}
	return rows, nil
}

func (a *Adapter) Exec(ctx context.Context, script string) error {
	p, err := a.requirePlugin()
	if err != nil {
		return err
	}
	for _, stmt := range storage.SplitScript(script) {
		if _, _, err := p.Exec(ctx, stmt, nil); err != nil {
			return wrapErr(a.Kind(), "exec", err)
		}
	}
	return nil
}

// txAdapter routes statements through a pinned host-side tx handle.
type txAdapter struct {
	*Adapter
	handle int64
}

func (t *txAdapter) Run(ctx context.Context, stmt storage.Statement, params storage.ParameterBundle) (storage.RunResult, error) {
	p, err := t.requirePlugin()
	if err != nil {
		return storage.RunResult{}, err
	}
	text, args, err := translateForMobile(stmt, params)
	if err != nil {
		return storage.RunResult{}, err
	}
	changes, lastID, err := p.ExecInTx(ctx, t.handle, text, args)
	if err != nil {
		return storage.RunResult{}, wrapErr(t.Kind(), "run", err)
	}
	return storage.RunResult{Changes: changes, LastInsertRowID: storage.NormalizeInt64RowID(lastID)}, nil
}
func (t *txAdapter) Get(ctx context.Context, stmt storage.Statement, params storage.ParameterBundle) (storage.Row, bool, error) {
	rows, err := t.All(ctx, stmt, params)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}
func (t *txAdapter) All(ctx context.Context, stmt storage.Statement, params storage.ParameterBundle) ([]storage.Row, error) {
	p, err := t.requirePlugin()
	if err != nil {
		return nil, err
	}
	text, args, err := translateForMobile(stmt, params)
	if err != nil {
		return nil, err
	}
	rows, err := p.QueryInTx(ctx, t.handle, text, args)
	if err != nil {
		return nil, wrapErr(t.Kind(), "query", err)
	}
	return rows, nil
}
func (t *txAdapter) Transaction(ctx context.Context, fn storage.TxFunc) (any, error) {
	return nil, wrapErr(t.Kind(), "transaction", errNestedTx)
}

var errNestedTx = errors.New("mobile: nested transactions are not supported")

func (a *Adapter) Transaction(ctx context.Context, fn storage.TxFunc) (any, error) {
	p, err := a.requirePlugin()
	if err != nil {
		return nil, err
	}
	handle, err := p.BeginTx(ctx)
	if err != nil {
		return nil, wrapErr(a.Kind(), "begin", err)
	}
	result, terr := fn(ctx, &txAdapter{Adapter: a, handle: handle})
	if terr != nil {
		if rbErr := p.RollbackTx(ctx, handle); rbErr != nil {
			a.log.Warnf("rollback after error failed: %v", rbErr)
		}
		return nil, terr
	}
	if err := p.CommitTx(ctx, handle); err != nil {
		return nil, wrapErr(a.Kind(), "commit", err)
	}
	return result, nil
}

func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.state == storage.StateClosed || a.state == storage.StateClosing {
		a.mu.Unlock()
		return nil
	}
	a.state = storage.StateClosing
	p := a.plugin
	a.mu.Unlock()

	var err error
	if p != nil {
		err = p.Close(ctx)
	}

	a.mu.Lock()
	a.state = storage.StateClosed
	a.mu.Unlock()
	if err != nil {
		return wrapErr(a.Kind(), "close", err)
	}
	return nil
}

// translateForMobile mirrors native's translateForSQLite: the plugin's
// native SQLite binding expects bare `?` placeholders.
func translateForMobile(stmt storage.Statement, params storage.ParameterBundle) (string, []any, error) {
	switch params.Kind {
	case storage.BundleNamed:
		return storage.TranslateNamedToQuestion(stmt, params.Named)
	case storage.BundlePositional:
		return string(stmt), params.Values, nil
	default:
		return string(stmt), nil, nil
	}
}

func wrapErr(kind storage.Kind, op string, err error) error {
	return &storage.BackendError{AdapterKind: kind, Operation: op, Cause: err}
}
