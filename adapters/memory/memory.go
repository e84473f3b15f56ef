// Package memory implements the in-memory adapter: the degenerate,
// always-available backend with no external dependency at all, grounded on
// native's synchronous run/get/all shape but operating over a process-local
// map-of-tables store instead of a real SQL engine, per spec.md §4.1's
// closing note that the capability model must degrade gracefully down to a
// backend offering only `sync, transactions, batch`.
//
// This backend deliberately understands only a minimal statement dialect
// (INSERT/SELECT/UPDATE/DELETE with an optional WHERE col = ? or WHERE col =
// @name clause) rather than a real SQL parser: it exists as the guaranteed
// fallback of last resort and the sync manager's conflict-free staging area
// in tests, not as a general-purpose engine.
package memory

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/framersai/sql-storage-adapter/internal/corelog"
	"github.com/framersai/sql-storage-adapter/storage"
)

func init() {
	storage.Register(storage.KindInMemory, func() storage.Adapter { return New() })
}

// Adapter is the in-memory storage.Adapter implementation.
type Adapter struct {
	log *corelog.Logger

	mu     sync.Mutex
	state  storage.State
	tables map[string]*table
	nextID int64
}

type table struct {
	cols []string
	rows []storage.Row
}

// New constructs an unopened in-memory adapter.
func New() *Adapter {
	return &Adapter{log: corelog.New("memory"), tables: make(map[string]*table)}
}

func (a *Adapter) Kind() storage.Kind { return storage.KindInMemory }
func (a *Adapter) Capabilities() storage.CapabilitySet {
	return storage.CapabilitiesFor(storage.KindInMemory)
}
func (a *Adapter) Context() storage.AdapterContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	return storage.AdapterContext{AdapterKind: a.Kind(), Caps: a.Capabilities(), ConnDescriptor: "memory"}
}
func (a *Adapter) GetState() storage.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Adapter) Open(ctx context.Context, opts storage.BackendConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == storage.StateOpen {
		return nil
	}
	a.state = storage.StateOpen
	return nil
}

func (a *Adapter) requireOpen() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != storage.StateOpen {
		return storage.ErrNotOpen
	}
	return nil
}

func (a *Adapter) Run(ctx context.Context, stmt storage.Statement, params storage.ParameterBundle) (storage.RunResult, error) {
	if err := a.requireOpen(); err != nil {
		return storage.RunResult{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.exec(stmt, params)
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
	if err := a.requireOpen(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.query(stmt, params)
}

func (a *Adapter) Exec(ctx context.Context, script string) error {
	if err := a.requireOpen(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range storage.SplitScript(script) {
		if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(s)), "CREATE TABLE") {
			name, cols := parseCreateTable(s)
			a.tables[name] = &table{cols: cols}
			continue
		}
		if _, err := a.exec(storage.Statement(s), storage.ParameterBundle{}); err != nil {
			return err
		}
	}
	return nil
}

// txAdapter shares the parent's lock for the span of Transaction, giving
// the in-memory backend atomicity by construction (the whole store is
// guarded by one mutex) rather than by an undo log.
type txAdapter struct {
	*Adapter
}

func (t *txAdapter) Run(ctx context.Context, stmt storage.Statement, params storage.ParameterBundle) (storage.RunResult, error) {
	return t.exec(stmt, params)
}
func (t *txAdapter) Get(ctx context.Context, stmt storage.Statement, params storage.ParameterBundle) (storage.Row, bool, error) {
	rows, err := t.query(stmt, params)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}
func (t *txAdapter) All(ctx context.Context, stmt storage.Statement, params storage.ParameterBundle) ([]storage.Row, error) {
	return t.query(stmt, params)
}
func (t *txAdapter) Transaction(ctx context.Context, fn storage.TxFunc) (any, error) {
	return fn(ctx, t)
}

func (a *Adapter) Transaction(ctx context.Context, fn storage.TxFunc) (any, error) {
	if err := a.requireOpen(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	// Snapshot every table so a mid-transaction error can roll back without
	// requiring each statement to carry its own undo.
	snapshot := make(map[string]*table, len(a.tables))
	for name, t := range a.tables {
		rows := make([]storage.Row, len(t.rows))
		for i, r := range t.rows {
			rows[i] = cloneRow(r)
		}
		snapshot[name] = &table{cols: append([]string(nil), t.cols...), rows: rows}
	}

	result, err := fn(ctx, &txAdapter{Adapter: a})
	if err != nil {
		a.tables = snapshot
		return nil, err
	}
	return result, nil
}

// Batch runs every op inside one Transaction span; a catastrophic failure
// (zero successes) restores the pre-batch snapshot via Transaction's own
// rollback path.
func (a *Adapter) Batch(ctx context.Context, ops []storage.BatchOp) (storage.BatchResult, error) {
	result := storage.BatchResult{Results: make([]storage.RunResult, len(ops)), Errors: make([]error, len(ops))}
	_, err := a.Transaction(ctx, func(ctx context.Context, tx storage.Adapter) (any, error) {
		for i, op := range ops {
			rr, err := tx.Run(ctx, op.Statement, op.Params)
			if err != nil {
				result.Failed++
				result.Errors[i] = err
				continue
			}
			result.Results[i] = rr
			result.Successful++
		}
		if result.Successful == 0 && len(ops) > 0 {
			return nil, storage.ErrSyncConflictUnresolvable // any error triggers rollback; cause is informational only
		}
		return nil, nil
	})
	if err != nil && result.Successful == 0 {
		return result, &storage.BackendError{AdapterKind: a.Kind(), Operation: "batch", Cause: err}
	}
	return result, nil
}

func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = storage.StateClosed
	a.tables = make(map[string]*table)
	return nil
}

func parseCreateTable(stmt string) (string, []string) {
	s := strings.TrimSpace(stmt)
	open := strings.Index(s, "(")
	end := strings.LastIndex(s, ")")

	header := strings.TrimSpace(s[len("CREATE TABLE"):open])
	if strings.HasPrefix(strings.ToUpper(header), "IF NOT EXISTS ") {
		header = strings.TrimSpace(header[len("IF NOT EXISTS "):])
	}
	var tableName string
	if fields := strings.Fields(header); len(fields) > 0 {
		tableName = strings.Trim(fields[len(fields)-1], `"'`+"`")
	}

	var cols []string
	if open != -1 && end != -1 && end > open {
		for _, part := range strings.Split(s[open+1:end], ",") {
			fields := strings.Fields(strings.TrimSpace(part))
			if len(fields) > 0 {
				cols = append(cols, strings.Trim(fields[0], `"'`+"`"))
			}
		}
	}
	return tableName, cols
}

// exec implements INSERT/UPDATE/DELETE against the in-process store. It is
// intentionally minimal: see the package doc comment.
func (a *Adapter) exec(stmt storage.Statement, params storage.ParameterBundle) (storage.RunResult, error) {
	text := strings.TrimSpace(string(stmt))
	upper := strings.ToUpper(text)
	switch {
	case strings.HasPrefix(upper, "INSERT"):
		return a.execInsert(text, params)
	case strings.HasPrefix(upper, "UPDATE"):
		return a.execUpdate(text, params)
	case strings.HasPrefix(upper, "DELETE"):
		return a.execDelete(text, params)
	case strings.HasPrefix(upper, "CREATE TABLE"):
		name, cols := parseCreateTable(text)
		a.tables[name] = &table{cols: cols}
		return storage.RunResult{}, nil
	default:
		return storage.RunResult{}, &storage.BackendError{AdapterKind: a.Kind(), Operation: "run", Cause: errUnsupportedStatement(text)}
	}
}

func (a *Adapter) query(stmt storage.Statement, params storage.ParameterBundle) ([]storage.Row, error) {
	text := strings.TrimSpace(string(stmt))
	if !strings.HasPrefix(strings.ToUpper(text), "SELECT") {
		return nil, &storage.BackendError{AdapterKind: a.Kind(), Operation: "query", Cause: errUnsupportedStatement(text)}
	}
	tableName, whereCol, whereMarker := parseSelect(text)
	t, ok := a.tables[tableName]
	if !ok {
		return nil, nil
	}
	args, named, err := resolveArgs(params)
	if err != nil {
		return nil, err
	}

	var out []storage.Row
	for _, row := range t.rows {
		if whereCol == "" {
			out = append(out, cloneRow(row))
			continue
		}
		want := argValue(whereMarker, args, named)
		if equalLoose(row[whereCol], want) {
			out = append(out, cloneRow(row))
		}
	}
	return out, nil
}

func cloneRow(r storage.Row) storage.Row {
	cp := make(storage.Row, len(r))
	for k, v := range r {
		cp[k] = v
	}
	return cp
}

func equalLoose(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return toComparable(a) == toComparable(b)
}

func toComparable(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func resolveArgs(params storage.ParameterBundle) ([]any, map[string]any, error) {
	switch params.Kind {
	case storage.BundlePositional:
		return params.Values, nil, nil
	case storage.BundleNamed:
		return nil, params.Named, nil
	default:
		return nil, nil, nil
	}
}

// argValue resolves a single `?` (marker == "?") or `@name` marker against
// whichever of args/named is populated.
func argValue(marker string, args []any, named map[string]any) any {
	if marker == "?" {
		if len(args) > 0 {
			return args[0]
		}
		return nil
	}
	name := strings.TrimPrefix(marker, "@")
	return named[name]
}

func errUnsupportedStatement(text string) error {
	return &unsupportedStatementError{text: text}
}

type unsupportedStatementError struct{ text string }

func (e *unsupportedStatementError) Error() string {
	return "memory: unsupported statement shape: " + e.text
}

// execInsert parses `INSERT INTO t (c1, c2) VALUES (?, ?)` / `(@a, @b)`.
func (a *Adapter) execInsert(text string, params storage.ParameterBundle) (storage.RunResult, error) {
	open1 := strings.Index(text, "(")
	close1 := strings.Index(text, ")")
	intoIdx := strings.Index(strings.ToUpper(text), "INTO")
	tableName := strings.TrimSpace(text[intoIdx+4 : open1])
	tableName = strings.Trim(tableName, `"'`+"`")

	cols := splitCSV(text[open1+1 : close1])
	valuesIdx := strings.Index(strings.ToUpper(text), "VALUES")
	open2 := strings.Index(text[valuesIdx:], "(") + valuesIdx
	close2 := strings.LastIndex(text, ")")
	markers := splitCSV(text[open2+1 : close2])

	args, named, err := resolveArgs(params)
	if err != nil {
		return storage.RunResult{}, err
	}

	t, ok := a.tables[tableName]
	if !ok {
		t = &table{cols: cols}
		a.tables[tableName] = t
	}

	row := make(storage.Row, len(cols))
	argIdx := 0
	for i, col := range cols {
		col = strings.TrimSpace(col)
		marker := strings.TrimSpace(markers[i])
		if marker == "?" {
			if argIdx < len(args) {
				row[col] = args[argIdx]
				argIdx++
			}
		} else if strings.HasPrefix(marker, "@") {
			row[col] = named[strings.TrimPrefix(marker, "@")]
		}
	}
	t.rows = append(t.rows, row)

	a.nextID++
	return storage.RunResult{Changes: 1, LastInsertRowID: storage.Int64RowID(a.nextID)}, nil
}

// execUpdate parses `UPDATE t SET c1 = ?, c2 = ? WHERE c3 = ?` (a
// comma-separated SET list, single WHERE clause; sufficient for the sync
// manager's own use and tests).
func (a *Adapter) execUpdate(text string, params storage.ParameterBundle) (storage.RunResult, error) {
	upper := strings.ToUpper(text)
	setIdx := strings.Index(upper, "SET")
	whereIdx := strings.Index(upper, "WHERE")
	tableName := strings.TrimSpace(text[len("UPDATE"):setIdx])
	tableName = strings.Trim(tableName, `"'`+"`")

	var setClause, whereClause string
	if whereIdx >= 0 {
		setClause = text[setIdx+3 : whereIdx]
		whereClause = text[whereIdx+5:]
	} else {
		setClause = text[setIdx+3:]
	}

	sets := splitCSV(setClause)
	whereCol, whereMarker := "", ""
	if whereClause != "" {
		whereCol, whereMarker = parseAssignment(whereClause)
	}

	args, named, err := resolveArgs(params)
	if err != nil {
		return storage.RunResult{}, err
	}

	t, ok := a.tables[tableName]
	if !ok {
		return storage.RunResult{}, nil
	}

	whereArgIdx := 0
	for _, s := range sets {
		if _, m := parseAssignment(s); m == "?" {
			whereArgIdx++
		}
	}

	var changed int64
	for i := range t.rows {
		if whereCol != "" {
			want := argValueAt(whereMarker, args, named, whereArgIdx)
			if !equalLoose(t.rows[i][whereCol], want) {
				continue
			}
		}
		setArgIdx := 0
		for _, s := range sets {
			col, m := parseAssignment(s)
			t.rows[i][col] = argValueAt(m, args, named, setArgIdx)
			if m == "?" {
				setArgIdx++
			}
		}
		changed++
	}
	return storage.RunResult{Changes: changed}, nil
}

func (a *Adapter) execDelete(text string, params storage.ParameterBundle) (storage.RunResult, error) {
	upper := strings.ToUpper(text)
	fromIdx := strings.Index(upper, "FROM")
	whereIdx := strings.Index(upper, "WHERE")
	var tableName, whereClause string
	if whereIdx >= 0 {
		tableName = strings.TrimSpace(text[fromIdx+4 : whereIdx])
		whereClause = text[whereIdx+5:]
	} else {
		tableName = strings.TrimSpace(text[fromIdx+4:])
	}
	tableName = strings.Trim(tableName, `"'`+"`")

	t, ok := a.tables[tableName]
	if !ok {
		return storage.RunResult{}, nil
	}
	args, named, err := resolveArgs(params)
	if err != nil {
		return storage.RunResult{}, err
	}

	if whereClause == "" {
		n := int64(len(t.rows))
		t.rows = nil
		return storage.RunResult{Changes: n}, nil
	}
	whereCol, whereMarker := parseAssignment(whereClause)
	want := argValue(whereMarker, args, named)

	kept := t.rows[:0]
	var deleted int64
	for _, row := range t.rows {
		if equalLoose(row[whereCol], want) {
			deleted++
			continue
		}
		kept = append(kept, row)
	}
	t.rows = kept
	return storage.RunResult{Changes: deleted}, nil
}

func parseSelect(text string) (tableName, whereCol, whereMarker string) {
	upper := strings.ToUpper(text)
	fromIdx := strings.Index(upper, "FROM")
	whereIdx := strings.Index(upper, "WHERE")
	if whereIdx >= 0 {
		tableName = strings.TrimSpace(text[fromIdx+4 : whereIdx])
		whereCol, whereMarker = parseAssignment(text[whereIdx+5:])
	} else {
		tableName = strings.TrimSpace(text[fromIdx+4:])
	}
	tableName = strings.Trim(tableName, `"'`+"`")
	return
}

// parseAssignment splits "col = marker" (optionally followed by more SQL,
// which is ignored), returning the column name and its raw marker text.
func parseAssignment(clause string) (string, string) {
	clause = strings.TrimSpace(clause)
	eq := strings.Index(clause, "=")
	if eq < 0 {
		return "", ""
	}
	col := strings.TrimSpace(clause[:eq])
	rest := strings.TrimSpace(clause[eq+1:])
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return col, ""
	}
	return col, fields[0]
}

func argValueAt(marker string, args []any, named map[string]any, idx int) any {
	if marker == "?" {
		if idx < len(args) {
			return args[idx]
		}
		return nil
	}
	name := strings.TrimPrefix(marker, "@")
	return named[name]
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}
