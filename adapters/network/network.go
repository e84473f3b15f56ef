// Package network implements the network-relational adapter over a pgx/v5
// connection pool, grounded on the teacher's
// services/anchor/internal/database/postgres/adapter.go (pgxpool.Pool
// construction, atomic connected flag, verbatim-error-surfacing-with-kind).
package network

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/framersai/sql-storage-adapter/internal/corelog"
	"github.com/framersai/sql-storage-adapter/storage"
)

func init() {
	storage.Register(storage.KindNetworkRelational, func() storage.Adapter { return New() })
}

// Adapter is the network-relational storage.Adapter implementation.
type Adapter struct {
	log *corelog.Logger

	mu        sync.Mutex
	state     storage.State
	pool      *pgxpool.Pool
	connected int32
	connStr   string
}

// New constructs an unopened network-relational adapter.
func New() *Adapter { return &Adapter{log: corelog.New("network")} }

func (a *Adapter) Kind() storage.Kind { return storage.KindNetworkRelational }
func (a *Adapter) Capabilities() storage.CapabilitySet {
	return storage.CapabilitiesFor(storage.KindNetworkRelational)
}
func (a *Adapter) Context() storage.AdapterContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	return storage.AdapterContext{AdapterKind: a.Kind(), Caps: a.Capabilities(), ConnDescriptor: redact(a.connStr)}
}
func (a *Adapter) GetState() storage.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func redact(connStr string) string {
	if i := strings.Index(connStr, "@"); i != -1 {
		if j := strings.Index(connStr, "://"); j != -1 && j < i {
			return connStr[:j+3] + "***@" + connStr[i+1:]
		}
	}
	return connStr
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

	cfg, err := pgxpool.ParseConfig(opts.Network.ConnectionString)
	if err != nil {
		a.fail()
		return &storage.OpenFailedError{AdapterKind: a.Kind(), Cause: err}
	}
	if opts.Network.MaxPoolSize > 0 {
		cfg.MaxConns = opts.Network.MaxPoolSize
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		a.fail()
		return &storage.OpenFailedError{AdapterKind: a.Kind(), Cause: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		a.fail()
		return &storage.OpenFailedError{AdapterKind: a.Kind(), Cause: err}
	}

	a.mu.Lock()
	a.pool = pool
	a.connStr = opts.Network.ConnectionString
	a.state = storage.StateOpen
	a.mu.Unlock()
	atomic.StoreInt32(&a.connected, 1)
	return nil
}

func (a *Adapter) fail() {
	a.mu.Lock()
	a.state = storage.StateError
	a.mu.Unlock()
}

func (a *Adapter) requireOpen() (*pgxpool.Pool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != storage.StateOpen {
		return nil, storage.ErrNotOpen
	}
	return a.pool, nil
}

var (
	errNestedTx    = errors.New("network: nested transactions are not supported")
	errBatchFailed = errors.New("network: batch failed with no successful operations")
)

func (a *Adapter) Run(ctx context.Context, stmt storage.Statement, params storage.ParameterBundle) (storage.RunResult, error) {
	pool, err := a.requireOpen()
	if err != nil {
		return storage.RunResult{}, err
	}
	sqlText, args, err := storage.Translate(stmt, params)
	if err != nil {
		return storage.RunResult{}, err
	}
	tag, err := pool.Exec(ctx, sqlText, args...)
	if err != nil {
		return storage.RunResult{}, wrapErr(a.Kind(), "run", err)
	}
	return storage.RunResult{Changes: tag.RowsAffected()}, nil
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
	pool, err := a.requireOpen()
	if err != nil {
		return nil, err
	}
	sqlText, args, err := storage.Translate(stmt, params)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, wrapErr(a.Kind(), "query", err)
	}
	return scanPgxRows(rows)
}

func scanPgxRows(rows pgx.Rows) ([]storage.Row, error) {
	defer rows.Close()
	fields := rows.FieldDescriptions()
	var out []storage.Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(storage.Row, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (a *Adapter) Exec(ctx context.Context, script string) error {
	pool, err := a.requireOpen()
	if err != nil {
		return err
	}
	for _, stmt := range storage.SplitScript(script) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return wrapErr(a.Kind(), "exec", err)
		}
	}
	return nil
}

// txAdapter pins a pgx.Tx for the span of a Transaction call, the
// "transactional-executor slot" named in spec.md §4.5.
type txAdapter struct {
	*Adapter
	tx pgx.Tx
}

func (t *txAdapter) Run(ctx context.Context, stmt storage.Statement, params storage.ParameterBundle) (storage.RunResult, error) {
	sqlText, args, err := storage.Translate(stmt, params)
	if err != nil {
		return storage.RunResult{}, err
	}
	tag, err := t.tx.Exec(ctx, sqlText, args...)
	if err != nil {
		return storage.RunResult{}, wrapErr(t.Kind(), "run", err)
	}
	return storage.RunResult{Changes: tag.RowsAffected()}, nil
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
	sqlText, args, err := storage.Translate(stmt, params)
	if err != nil {
		return nil, err
	}
	rows, err := t.tx.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, wrapErr(t.Kind(), "query", err)
	}
	return scanPgxRows(rows)
}
func (t *txAdapter) Transaction(ctx context.Context, fn storage.TxFunc) (any, error) {
	return nil, wrapErr(t.Kind(), "transaction", errNestedTx)
}

func (a *Adapter) Transaction(ctx context.Context, fn storage.TxFunc) (any, error) {
	pool, err := a.requireOpen()
	if err != nil {
		return nil, err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, wrapErr(a.Kind(), "begin", err)
	}
	result, err := fn(ctx, &txAdapter{Adapter: a, tx: tx})
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, wrapErr(a.Kind(), "commit", err)
	}
	return result, nil
}

// Batch runs ops through pgx's pipeline batch support.
func (a *Adapter) Batch(ctx context.Context, ops []storage.BatchOp) (storage.BatchResult, error) {
	pool, err := a.requireOpen()
	if err != nil {
		return storage.BatchResult{}, err
	}
	batch := &pgx.Batch{}
	for _, op := range ops {
		sqlText, args, terr := storage.Translate(op.Statement, op.Params)
		if terr != nil {
			return storage.BatchResult{}, terr
		}
		batch.Queue(sqlText, args...)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return storage.BatchResult{}, wrapErr(a.Kind(), "begin", err)
	}
	br := tx.SendBatch(ctx, batch)

	result := storage.BatchResult{Results: make([]storage.RunResult, len(ops)), Errors: make([]error, len(ops))}
	for i := range ops {
		tag, execErr := br.Exec()
		if execErr != nil {
			result.Failed++
			result.Errors[i] = execErr
			continue
		}
		result.Results[i] = storage.RunResult{Changes: tag.RowsAffected()}
		result.Successful++
	}
	_ = br.Close()

	if result.Successful == 0 && len(ops) > 0 {
		_ = tx.Rollback(ctx)
		return result, wrapErr(a.Kind(), "batch", errBatchFailed)
	}
	if err := tx.Commit(ctx); err != nil {
		return result, wrapErr(a.Kind(), "commit", err)
	}
	return result, nil
}

// preparedStmt pins a pooled connection for the lifetime of a prepared
// statement, since pgx statement caches are connection-scoped.
type preparedStmt struct {
	conn *pgxpool.Conn
	name string
	kind storage.Kind
}

func (a *Adapter) Prepare(ctx context.Context, stmt storage.Statement) (storage.PreparedStatement, error) {
	pool, err := a.requireOpen()
	if err != nil {
		return nil, err
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, wrapErr(a.Kind(), "prepare", err)
	}
	name := "ps"
	sqlText, _ := storage.TranslatePositional(stmt, nil)
	if _, err := conn.Conn().Prepare(ctx, name, sqlText); err != nil {
		conn.Release()
		return nil, wrapErr(a.Kind(), "prepare", err)
	}
	return &preparedStmt{conn: conn, name: name, kind: a.Kind()}, nil
}

func (p *preparedStmt) Run(ctx context.Context, params storage.ParameterBundle) (storage.RunResult, error) {
	if params.Kind == storage.BundleNamed {
		return storage.RunResult{}, &storage.BindError{Marker: "@*"}
	}
	tag, err := p.conn.Conn().Exec(ctx, p.name, params.Values...)
	if err != nil {
		return storage.RunResult{}, wrapErr(p.kind, "run", err)
	}
	return storage.RunResult{Changes: tag.RowsAffected()}, nil
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
	if params.Kind == storage.BundleNamed {
		return nil, &storage.BindError{Marker: "@*"}
	}
	rows, err := p.conn.Conn().Query(ctx, p.name, params.Values...)
	if err != nil {
		return nil, wrapErr(p.kind, "query", err)
	}
	return scanPgxRows(rows)
}
func (p *preparedStmt) Finalize() error {
	p.conn.Release()
	return nil
}

func (a *Adapter) FootprintBytes(ctx context.Context) (int64, bool) {
	pool, err := a.requireOpen()
	if err != nil {
		return 0, false
	}
	var bytes int64
	if err := pool.QueryRow(ctx, "SELECT pg_database_size(current_database())").Scan(&bytes); err != nil {
		return 0, false
	}
	return bytes, true
}

func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.state == storage.StateClosed || a.state == storage.StateClosing {
		a.mu.Unlock()
		return nil
	}
	a.state = storage.StateClosing
	pool := a.pool
	a.mu.Unlock()

	if pool != nil {
		pool.Close()
	}
	atomic.StoreInt32(&a.connected, 0)

	a.mu.Lock()
	a.state = storage.StateClosed
	a.mu.Unlock()
	return nil
}

func wrapErr(kind storage.Kind, op string, err error) error {
	return &storage.BackendError{AdapterKind: kind, Operation: op, Cause: err}
}
