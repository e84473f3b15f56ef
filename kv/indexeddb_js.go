//go:build js && wasm

// This file backs Store with the browser's IndexedDB when the module is
// cross-compiled to GOOS=js GOARCH=wasm, the actual deployment target for
// the blob-persisted backend (spec.md §4.7): a WASM-embedded SQL engine
// whose snapshots are durably persisted through the host page's IndexedDB
// rather than the process-local map MemoryStore offers.
package kv

import (
	"context"
	"fmt"
	"syscall/js"
)

// IndexedDBStore stores each blob as a single record in one IndexedDB
// object store, opened lazily on first use.
type IndexedDBStore struct {
	dbName    string
	storeName string
	version   int
}

// NewIndexedDBStore constructs a Store backed by the named IndexedDB
// database and object store.
func NewIndexedDBStore(dbName, storeName string) *IndexedDBStore {
	return &IndexedDBStore{dbName: dbName, storeName: storeName, version: 1}
}

func (s *IndexedDBStore) openDB() (js.Value, error) {
	result := make(chan js.Value, 1)
	errCh := make(chan error, 1)

	req := js.Global().Get("indexedDB").Call("open", s.dbName, s.version)
	req.Set("onupgradeneeded", js.FuncOf(func(this js.Value, args []js.Value) any {
		db := req.Get("result")
		if !db.Call("objectStoreNames").Call("contains", s.storeName).Bool() {
			db.Call("createObjectStore", s.storeName)
		}
		return nil
	}))
	req.Set("onsuccess", js.FuncOf(func(this js.Value, args []js.Value) any {
		result <- req.Get("result")
		return nil
	}))
	req.Set("onerror", js.FuncOf(func(this js.Value, args []js.Value) any {
		errCh <- fmt.Errorf("kv: indexeddb open failed: %v", req.Get("error"))
		return nil
	}))

	select {
	case db := <-result:
		return db, nil
	case err := <-errCh:
		return js.Value{}, err
	}
}

func (s *IndexedDBStore) Get(ctx context.Context, key string) ([]byte, error) {
	db, err := s.openDB()
	if err != nil {
		return nil, err
	}
	defer db.Call("close")

	tx := db.Call("transaction", s.storeName, "readonly")
	store := tx.Call("objectStore", s.storeName)
	req := store.Call("get", key)

	result := make(chan js.Value, 1)
	errCh := make(chan error, 1)
	req.Set("onsuccess", js.FuncOf(func(this js.Value, args []js.Value) any {
		result <- req.Get("result")
		return nil
	}))
	req.Set("onerror", js.FuncOf(func(this js.Value, args []js.Value) any {
		errCh <- fmt.Errorf("kv: indexeddb get failed: %v", req.Get("error"))
		return nil
	}))

	select {
	case v := <-result:
		if v.IsUndefined() || v.IsNull() {
			return nil, ErrNotFound
		}
		return jsUint8ArrayToBytes(v), nil
	case err := <-errCh:
		return nil, err
	}
}

func (s *IndexedDBStore) Put(ctx context.Context, key string, value []byte) error {
	db, err := s.openDB()
	if err != nil {
		return err
	}
	defer db.Call("close")

	tx := db.Call("transaction", s.storeName, "readwrite")
	store := tx.Call("objectStore", s.storeName)
	req := store.Call("put", bytesToJSUint8Array(value), key)

	done := make(chan error, 1)
	req.Set("onsuccess", js.FuncOf(func(this js.Value, args []js.Value) any {
		done <- nil
		return nil
	}))
	req.Set("onerror", js.FuncOf(func(this js.Value, args []js.Value) any {
		done <- fmt.Errorf("kv: indexeddb put failed: %v", req.Get("error"))
		return nil
	}))
	return <-done
}

func (s *IndexedDBStore) Delete(ctx context.Context, key string) error {
	db, err := s.openDB()
	if err != nil {
		return err
	}
	defer db.Call("close")

	tx := db.Call("transaction", s.storeName, "readwrite")
	store := tx.Call("objectStore", s.storeName)
	req := store.Call("delete", key)

	done := make(chan error, 1)
	req.Set("onsuccess", js.FuncOf(func(this js.Value, args []js.Value) any {
		done <- nil
		return nil
	}))
	req.Set("onerror", js.FuncOf(func(this js.Value, args []js.Value) any {
		done <- fmt.Errorf("kv: indexeddb delete failed: %v", req.Get("error"))
		return nil
	}))
	return <-done
}

func (s *IndexedDBStore) Close() error { return nil }

func bytesToJSUint8Array(b []byte) js.Value {
	arr := js.Global().Get("Uint8Array").New(len(b))
	js.CopyBytesToJS(arr, b)
	return arr
}

func jsUint8ArrayToBytes(v js.Value) []byte {
	b := make([]byte, v.Get("byteLength").Int())
	js.CopyBytesToGo(b, js.Global().Get("Uint8Array").New(v))
	return b
}
