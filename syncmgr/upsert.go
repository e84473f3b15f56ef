package syncmgr

import (
	"context"
	"sort"
	"strings"

	"github.com/framersai/sql-storage-adapter/storage"
)

// upsert writes rec into table on a, inserting if no row with rec.ID
// exists yet and updating every other column otherwise. It issues a
// SELECT before the write rather than relying on backend-specific upsert
// syntax, since the same code path must work against SQLite, Postgres,
// and the in-memory adapter alike.
func upsert(ctx context.Context, a storage.Adapter, table string, rec storage.SyncRecord) error {
	existing, _, err := a.Get(ctx, storage.Statement("SELECT id FROM "+table+" WHERE id = ?"), storage.NormalizeParams([]any{rec.ID}))
	if err != nil {
		return err
	}

	cols := sortedColumns(rec.Fields)
	if existing == nil {
		return insertRow(ctx, a, table, cols, rec)
	}
	return updateRow(ctx, a, table, cols, rec)
}

// insertAs writes rec into table under a caller-supplied id rather than
// rec.ID, used by the keep-both conflict strategy to land the remote row
// under its derived duplicate id without mutating rec.
func insertAs(ctx context.Context, a storage.Adapter, table, id string, rec storage.SyncRecord) error {
	cp := rec
	cp.ID = id
	cp.Fields = make(storage.Row, len(rec.Fields))
	for k, v := range rec.Fields {
		cp.Fields[k] = v
	}
	cp.Fields["id"] = id
	return insertRow(ctx, a, table, sortedColumns(cp.Fields), cp)
}

func sortedColumns(fields storage.Row) []string {
	cols := make([]string, 0, len(fields))
	for k := range fields {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func insertRow(ctx context.Context, a storage.Adapter, table string, cols []string, rec storage.SyncRecord) error {
	placeholders := make([]string, len(cols))
	values := make([]any, len(cols))
	for i, col := range cols {
		placeholders[i] = "?"
		values[i] = rec.Fields[col]
	}
	stmt := "INSERT INTO " + table + " (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(placeholders, ", ") + ")"
	_, err := a.Run(ctx, storage.Statement(stmt), storage.NormalizeParams(values))
	return err
}

func updateRow(ctx context.Context, a storage.Adapter, table string, cols []string, rec storage.SyncRecord) error {
	assignments := make([]string, 0, len(cols))
	values := make([]any, 0, len(cols)+1)
	for _, col := range cols {
		if col == "id" {
			continue
		}
		assignments = append(assignments, col+" = ?")
		values = append(values, rec.Fields[col])
	}
	values = append(values, rec.ID)
	stmt := "UPDATE " + table + " SET " + strings.Join(assignments, ", ") + " WHERE id = ?"
	_, err := a.Run(ctx, storage.Statement(stmt), storage.NormalizeParams(values))
	return err
}

func deleteRow(ctx context.Context, a storage.Adapter, table, id string) error {
	_, err := a.Run(ctx, storage.Statement("DELETE FROM "+table+" WHERE id = ?"), storage.NormalizeParams([]any{id}))
	return err
}
