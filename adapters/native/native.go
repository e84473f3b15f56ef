// Package native implements the native-embedded adapter: a synchronous
// SQLite engine accessed through database/sql and the cgo mattn/go-sqlite3
// driver, grounded on 2389-research-coven-gateway's internal/store/sqlite.go
// (WAL pragma, foreign_keys pragma, idempotent-migration idiom) and the
// teacher's prepared-statement-cache convention.
package native

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/framersai/sql-storage-adapter/internal/corelog"
	"github.com/framersai/sql-storage-adapter/internal/sqlcommon"
	"github.com/framersai/sql-storage-adapter/storage"
)

func init() {
	storage.Register(storage.KindNativeEmbedded, func() storage.Adapter { return New() })
}

// Adapter is the native-embedded storage.Adapter implementation.
type Adapter struct {
	log *corelog.Logger

	mu       sync.Mutex
	state    storage.State
	db       *sql.DB
	filePath string
	readOnly bool

	stmtMu sync.Mutex
	stmts  map[string]*sql.Stmt
}

// New constructs an unopened native-embedded adapter.
func New() *Adapter {
	return &Adapter{log: corelog.New("native"), stmts: make(map[string]*sql.Stmt)}
}

func (a *Adapter) Kind() storage.Kind { return storage.KindNativeEmbedded }

func (a *Adapter) Capabilities() storage.CapabilitySet {
	return storage.CapabilitiesFor(storage.KindNativeEmbedded)
}

func (a *Adapter) Context() storage.AdapterContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	return storage.AdapterContext{
		AdapterKind:    storage.KindNativeEmbedded,
		Caps:           a.Capabilities(),
		ConnDescriptor: a.filePath,
	}
}

func (a *Adapter) GetState() storage.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// isSpecialPath reports whether path is one of the tokens that bypass
// normal filesystem path normalization (spec.md §4.3).
func isSpecialPath(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file:")
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
	a.mu.Unlock()

	path := opts.Native.FilePath
	if path == "" {
		path = ":memory:"
	}
	if !isSpecialPath(path) {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				a.fail()
				return &storage.OpenFailedError{AdapterKind: a.Kind(), Cause: err}
			}
		}
	}

	dsn := path
	if opts.Native.ReadOnly && !isSpecialPath(path) {
		dsn = fmt.Sprintf("%s?mode=ro", path)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		a.fail()
		return &storage.OpenFailedError{AdapterKind: a.Kind(), Cause: err}
	}
	if err := db.PingContext(ctx); err != nil {
		a.fail()
		return &storage.OpenFailedError{AdapterKind: a.Kind(), Cause: err}
	}
	if !opts.Native.ReadOnly {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			a.log.Warnf("could not enable WAL mode: %v", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
			a.log.Warnf("could not enable foreign_keys: %v", err)
		}
	}

	a.mu.Lock()
	a.db = db
	a.filePath = path
	a.readOnly = opts.Native.ReadOnly
	a.state = storage.StateOpen
	a.mu.Unlock()
	return nil
}

func (a *Adapter) fail() {
	a.mu.Lock()
	a.state = storage.StateError
	a.mu.Unlock()
}

func (a *Adapter) requireOpen() (*sql.DB, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != storage.StateOpen {
		return nil, storage.ErrNotOpen
	}
	return a.db, nil
}

func (a *Adapter) Run(ctx context.Context, stmt storage.Statement, params storage.ParameterBundle) (storage.RunResult, error) {
	return a.runOn(ctx, nil, stmt, params)
}

func (a *Adapter) runOn(ctx context.Context, tx *sql.Tx, stmt storage.Statement, params storage.ParameterBundle) (storage.RunResult, error) {
	text, args, err := translateForSQLite(stmt, params)
	if err != nil {
		return storage.RunResult{}, err
	}
	var res sql.Result
	if tx != nil {
		res, err = tx.ExecContext(ctx, text, args...)
	} else {
		db, derr := a.requireOpen()
		if derr != nil {
			return storage.RunResult{}, derr
		}
		res, err = db.ExecContext(ctx, text, args...)
	}
	if err != nil {
		return storage.RunResult{}, wrapBackendErr(a.Kind(), "run", err)
	}
	return sqlcommon.RunResultFromSQLResult(res), nil
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
	return a.allOn(ctx, nil, stmt, params)
}

func (a *Adapter) allOn(ctx context.Context, tx *sql.Tx, stmt storage.Statement, params storage.ParameterBundle) ([]storage.Row, error) {
	text, args, err := translateForSQLite(stmt, params)
	if err != nil {
		return nil, err
	}
	var rs *sql.Rows
	if tx != nil {
		rs, err = tx.QueryContext(ctx, text, args...)
	} else {
		db, derr := a.requireOpen()
		if derr != nil {
			return nil, derr
		}
		rs, err = db.QueryContext(ctx, text, args...)
	}
	if err != nil {
		return nil, wrapBackendErr(a.Kind(), "query", err)
	}
	rows, err := sqlcommon.ScanRows(rs)
	if err != nil {
		return nil, wrapBackendErr(a.Kind(), "scan", err)
	}
	return rows, nil
}

func (a *Adapter) Exec(ctx context.Context, script string) error {
	db, err := a.requireOpen()
	if err != nil {
		return err
	}
	for _, stmt := range storage.SplitScript(script) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return wrapBackendErr(a.Kind(), "exec", err)
		}
	}
	return nil
}

// txAdapter routes statements issued inside a Transaction span through the
// pinned *sql.Tx, per spec.md §4.1.
type txAdapter struct {
	*Adapter
	tx *sql.Tx
}

func (t *txAdapter) Run(ctx context.Context, stmt storage.Statement, params storage.ParameterBundle) (storage.RunResult, error) {
	return t.Adapter.runOn(ctx, t.tx, stmt, params)
}
func (t *txAdapter) Get(ctx context.Context, stmt storage.Statement, params storage.ParameterBundle) (storage.Row, bool, error) {
	rows, err := t.Adapter.allOn(ctx, t.tx, stmt, params)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}
func (t *txAdapter) All(ctx context.Context, stmt storage.Statement, params storage.ParameterBundle) ([]storage.Row, error) {
	return t.Adapter.allOn(ctx, t.tx, stmt, params)
}
func (t *txAdapter) Transaction(ctx context.Context, fn storage.TxFunc) (any, error) {
	// Spec requires flat transactions; nested calls are not supported.
	return nil, fmt.Errorf("native: nested transactions are not supported")
}

func (a *Adapter) Transaction(ctx context.Context, fn storage.TxFunc) (any, error) {
	db, err := a.requireOpen()
	if err != nil {
		return nil, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapBackendErr(a.Kind(), "begin", err)
	}
	result, err := fn(ctx, &txAdapter{Adapter: a, tx: tx})
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			a.log.Warnf("rollback after error failed: %v", rbErr)
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, wrapBackendErr(a.Kind(), "commit", err)
	}
	return result, nil
}

// Batch wraps ops in a single transaction per spec.md §4.1: catastrophic
// failure (zero operations succeeded) rolls back and reports every op
// failed; otherwise it commits and reports per-operation outcomes.
func (a *Adapter) Batch(ctx context.Context, ops []storage.BatchOp) (storage.BatchResult, error) {
	db, err := a.requireOpen()
	if err != nil {
		return storage.BatchResult{}, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return storage.BatchResult{}, wrapBackendErr(a.Kind(), "begin", err)
	}

	result := storage.BatchResult{Results: make([]storage.RunResult, len(ops)), Errors: make([]error, len(ops))}
	for i, op := range ops {
		rr, err := a.runOn(ctx, tx, op.Statement, op.Params)
		if err != nil {
			result.Failed++
			result.Errors[i] = fmt.Errorf("op %d: %w", i, err)
			continue
		}
		result.Results[i] = rr
		result.Successful++
	}

	if result.Successful == 0 && len(ops) > 0 {
		_ = tx.Rollback()
		return result, fmt.Errorf("native: batch failed catastrophically, all %d operations rolled back", len(ops))
	}
	if err := tx.Commit(); err != nil {
		return result, wrapBackendErr(a.Kind(), "commit", err)
	}
	return result, nil
}

// preparedStmt caches a compiled *sql.Stmt, finalized on Finalize/Close.
type preparedStmt struct {
	adapter *Adapter
	text    string
	stmt    *sql.Stmt
}

func (p *preparedStmt) Run(ctx context.Context, params storage.ParameterBundle) (storage.RunResult, error) {
	// Prepared statements are compiled from their original statement text,
	// which must not contain @name markers requiring per-call rewriting
	// (named-parameter statements use PrepareOrDirect's fallback path
	// instead); only positional/empty bundles reach a cached *sql.Stmt.
	args, err := positionalArgs(params)
	if err != nil {
		return storage.RunResult{}, err
	}
	res, err := p.stmt.ExecContext(ctx, args...)
	if err != nil {
		return storage.RunResult{}, wrapBackendErr(p.adapter.Kind(), "run", err)
	}
	return sqlcommon.RunResultFromSQLResult(res), nil
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
	args, err := positionalArgs(params)
	if err != nil {
		return nil, err
	}
	rs, err := p.stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, wrapBackendErr(p.adapter.Kind(), "query", err)
	}
	return sqlcommon.ScanRows(rs)
}

func (p *preparedStmt) Finalize() error {
	p.adapter.stmtMu.Lock()
	delete(p.adapter.stmts, p.text)
	p.adapter.stmtMu.Unlock()
	return p.stmt.Close()
}

// Prepare returns a cached PreparedStatement keyed by statement text,
// compiling it on first use (spec.md §4.3).
func (a *Adapter) Prepare(ctx context.Context, stmt storage.Statement) (storage.PreparedStatement, error) {
	db, err := a.requireOpen()
	if err != nil {
		return nil, err
	}
	text := string(stmt)

	a.stmtMu.Lock()
	defer a.stmtMu.Unlock()
	if cached, ok := a.stmts[text]; ok {
		return &preparedStmt{adapter: a, text: text, stmt: cached}, nil
	}
	compiled, err := db.PrepareContext(ctx, text)
	if err != nil {
		return nil, wrapBackendErr(a.Kind(), "prepare", err)
	}
	a.stmts[text] = compiled
	return &preparedStmt{adapter: a, text: text, stmt: compiled}, nil
}

func (a *Adapter) FootprintBytes(ctx context.Context) (int64, bool) {
	a.mu.Lock()
	path := a.filePath
	a.mu.Unlock()
	if isSpecialPath(path) {
		return 0, false
	}
	fi, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return fi.Size(), true
}

func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.state == storage.StateClosed || a.state == storage.StateClosing {
		a.mu.Unlock()
		return nil
	}
	a.state = storage.StateClosing
	db := a.db
	a.mu.Unlock()

	a.stmtMu.Lock()
	for text, s := range a.stmts {
		if err := s.Close(); err != nil {
			a.log.Warnf("finalize prepared statement %q failed: %v", text, err)
		}
	}
	a.stmts = make(map[string]*sql.Stmt)
	a.stmtMu.Unlock()

	var err error
	if db != nil {
		err = db.Close()
	}

	a.mu.Lock()
	a.state = storage.StateClosed
	a.mu.Unlock()
	if err != nil {
		return wrapBackendErr(a.Kind(), "close", err)
	}
	return nil
}

// translateForSQLite resolves a statement's markers into SQLite-native `?`
// placeholders plus the correctly ordered argument list: positional and
// empty bundles pass through unchanged (the statement already uses `?` in
// source order), named bundles are rewritten via TranslateNamedToQuestion.
func translateForSQLite(stmt storage.Statement, params storage.ParameterBundle) (string, []any, error) {
	switch params.Kind {
	case storage.BundleNamed:
		return storage.TranslateNamedToQuestion(stmt, params.Named)
	default:
		args, err := positionalArgs(params)
		return string(stmt), args, err
	}
}

func positionalArgs(params storage.ParameterBundle) ([]any, error) {
	switch params.Kind {
	case storage.BundleEmpty:
		return nil, nil
	case storage.BundlePositional:
		return sqlcommon.ToArgs(params.Values), nil
	case storage.BundleNamed:
		return nil, fmt.Errorf("native: prepared statements do not support named parameters")
	default:
		return nil, nil
	}
}

func wrapBackendErr(kind storage.Kind, op string, err error) error {
	return &storage.BackendError{AdapterKind: kind, Operation: op, Cause: err}
}
