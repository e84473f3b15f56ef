package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/framersai/sql-storage-adapter/storage"
)

// tableDump is one table's exported rows, keyed by name so Import can
// restore tables independently of declaration order.
type tableDump struct {
	Table string        `json:"table"`
	Rows  []storage.Row `json:"rows"`
}

// Export reads every row of each named table from a and serializes them to
// a gzip-compressed, newline-delimited JSON payload (one tableDump per
// line) — a format every backend adapter can produce and consume alike,
// since not all of them support a native single-file snapshot the way
// SQLite's VACUUM INTO does.
func Export(ctx context.Context, a storage.Adapter, tables []string) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)

	for _, table := range tables {
		rows, err := a.All(ctx, storage.Statement("SELECT * FROM "+table), storage.ParameterBundle{})
		if err != nil {
			gz.Close()
			return nil, fmt.Errorf("backup: export table %q: %w", table, err)
		}
		if err := enc.Encode(tableDump{Table: table, Rows: rows}); err != nil {
			gz.Close()
			return nil, fmt.Errorf("backup: encode table %q: %w", table, err)
		}
	}

	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("backup: finalize export: %w", err)
	}
	return buf.Bytes(), nil
}

// Import restores a payload produced by Export into a, inserting each row
// with a plain column-list INSERT. Tables must already exist; Import does
// not issue DDL.
func Import(ctx context.Context, a storage.Adapter, data []byte) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("backup: open payload: %w", err)
	}
	defer gz.Close()

	dec := json.NewDecoder(gz)
	for {
		var dump tableDump
		if err := dec.Decode(&dump); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("backup: decode payload: %w", err)
		}
		if err := importTable(ctx, a, dump); err != nil {
			return err
		}
	}
	return nil
}

func importTable(ctx context.Context, a storage.Adapter, dump tableDump) error {
	for _, row := range dump.Rows {
		cols := make([]string, 0, len(row))
		values := make([]any, 0, len(row))
		for col, val := range row {
			cols = append(cols, col)
			values = append(values, val)
		}
		placeholders := make([]string, len(cols))
		for i := range placeholders {
			placeholders[i] = "?"
		}
		stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", dump.Table, joinComma(cols), joinComma(placeholders))
		if _, err := a.Run(ctx, storage.Statement(stmt), storage.NormalizeParams(values)); err != nil {
			return fmt.Errorf("backup: restore row into %q: %w", dump.Table, err)
		}
	}
	return nil
}

func joinComma(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
