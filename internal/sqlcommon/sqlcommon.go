// Package sqlcommon holds the row-materialization and transactional-executor
// idioms shared by the database/sql-backed adapters (native-embedded,
// WASM-embedded), grounded on the teacher's postgres/connection.go
// ExecuteCommand (FieldDescriptions -> []map[string]interface{}) and the
// tinywasm-orm Executor/Scanner/Rows abstraction (unifying sql.DB/sql.Tx).
package sqlcommon

import (
	"context"
	"database/sql"

	"github.com/framersai/sql-storage-adapter/storage"
)

// Executor is satisfied by *sql.DB and *sql.Tx, letting callers write one
// code path that works both outside and inside a transaction.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ScanRows materializes every row of rs into []storage.Row using the
// driver-reported column names, then closes rs.
func ScanRows(rs *sql.Rows) ([]storage.Row, error) {
	defer rs.Close()
	cols, err := rs.Columns()
	if err != nil {
		return nil, err
	}
	var out []storage.Row
	for rs.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rs.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(storage.Row, len(cols))
		for i, c := range cols {
			row[c] = normalizeValue(raw[i])
		}
		out = append(out, row)
	}
	return out, rs.Err()
}

// normalizeValue coerces driver-returned values ([]byte for TEXT columns in
// some drivers) into the stable {nil, int64, float64, string, []byte} shape
// Row documents.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// ToArgs converts a ParameterBundle's ordered values (after translation)
// into database/sql-compatible arguments. Nulls pass through as nil.
func ToArgs(values []any) []any {
	if values == nil {
		return nil
	}
	out := make([]any, len(values))
	copy(out, values)
	return out
}

// RunResultFromSQLResult builds a storage.RunResult from a sql.Result,
// normalizing LastInsertId per spec.md §9: ids beyond native precision must
// be stringified rather than truncated. database/sql always surfaces a
// native int64, which NormalizeInt64RowID turns into a StringRowID when its
// magnitude exceeds 2^53 and an Int64RowID otherwise.
func RunResultFromSQLResult(res sql.Result) storage.RunResult {
	changes, _ := res.RowsAffected()
	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		return storage.RunResult{Changes: changes}
	}
	return storage.RunResult{Changes: changes, LastInsertRowID: storage.NormalizeInt64RowID(id)}
}
