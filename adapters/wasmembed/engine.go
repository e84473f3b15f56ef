// Package wasmembed implements the WASM-embedded adapter: the same SQL
// semantics as native-embedded, executed by a single-threaded, cgo-free
// engine. No example repo in the retrieved corpus depends on wazero, so
// rather than fabricate that dependency this adapter is built on
// modernc.org/sqlite — a real, corpus-grounded (2389-research-coven-gateway,
// custodia-labs-sercha-cli), pure-Go SQL engine that needs no native
// toolchain, matching the spec's "single-threaded WASM runtime" functional
// requirement without inventing an unfounded dependency. See DESIGN.md.
package wasmembed

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

// Engine is the reusable in-memory SQL runtime: it holds its data in a
// private temp file (standing in for the WASM runtime's in-process memory,
// since modernc.org/sqlite has no public byte-array VFS) and can serialize
// itself to bytes via Export or be rebuilt from bytes via NewEngineFromBytes
// — the same `export()` / `new Database(bytes)` shape spec.md §4.7 asks the
// WASM SQL runtime for. BlobPersistedEngine composes this type directly.
type Engine struct {
	db       *sql.DB
	tempPath string
}

// NewEngine creates a fresh, empty engine.
func NewEngine(ctx context.Context) (*Engine, error) {
	f, err := os.CreateTemp("", "wasmsql-*.db")
	if err != nil {
		return nil, err
	}
	path := f.Name()
	f.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		os.Remove(path)
		return nil, err
	}
	return &Engine{db: db, tempPath: path}, nil
}

// NewEngineFromBytes rebuilds an engine from a previously exported blob.
func NewEngineFromBytes(ctx context.Context, data []byte) (*Engine, error) {
	f, err := os.CreateTemp("", "wasmsql-*.db")
	if err != nil {
		return nil, err
	}
	path := f.Name()
	f.Close()
	if err := os.WriteFile(path, data, 0o600); err != nil {
		os.Remove(path)
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		os.Remove(path)
		return nil, err
	}
	return &Engine{db: db, tempPath: path}, nil
}

// DB exposes the underlying *sql.DB for query execution.
func (e *Engine) DB() *sql.DB { return e.db }

// Export serializes the entire database to a byte sequence via an atomic
// VACUUM INTO, the SQLite-native equivalent of sql.js's export().
func (e *Engine) Export(ctx context.Context) ([]byte, error) {
	dst, err := os.CreateTemp("", "wasmsql-export-*.db")
	if err != nil {
		return nil, err
	}
	dstPath := dst.Name()
	dst.Close()
	os.Remove(dstPath) // VACUUM INTO requires the destination not to exist

	if _, err := e.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", dstPath)); err != nil {
		return nil, err
	}
	defer os.Remove(dstPath)
	return os.ReadFile(dstPath)
}

// Close releases the underlying connection and its backing temp file.
func (e *Engine) Close() error {
	err := e.db.Close()
	os.Remove(e.tempPath)
	return err
}
