package storage

import "time"

// BackendConfig is a tagged configuration value: exactly one of the
// per-backend fields below is meaningful, selected by Kind. This replaces
// the teacher's untyped `adapterOptions map[string]interface{}` bag per the
// REDESIGN FLAGS ("dynamic option bags... replace with tagged configuration
// values, one variant per backend").
type BackendConfig struct {
	Kind Kind

	Native  NativeConfig
	WASM    WASMConfig
	Network NetworkConfig
	Blob    BlobConfig
	Mobile  MobileConfig
	Memory  MemoryConfig
}

// NativeConfig configures the native-embedded adapter.
type NativeConfig struct {
	// FilePath accepts ":memory:" and "file:" URIs verbatim.
	FilePath string
	ReadOnly bool
}

// WASMConfig configures the WASM-embedded adapter.
type WASMConfig struct {
	// FilePath, if set and the host offers synchronous filesystem access,
	// enables optional persistence (load on open, export on mutation/close).
	FilePath string
	ReadOnly bool
}

// NetworkConfig configures the network-relational adapter.
type NetworkConfig struct {
	ConnectionString string
	MaxPoolSize      int32
	StatementTimeout time.Duration
}

// BlobConfig configures the BlobPersistedEngine.
type BlobConfig struct {
	DBName         string
	StoreName      string
	AutoSave       bool
	SaveIntervalMs int64
}

// DefaultBlobConfig returns the spec's defaults (autoSave=true, 5000ms).
func DefaultBlobConfig(dbName, storeName string) BlobConfig {
	return BlobConfig{DBName: dbName, StoreName: storeName, AutoSave: true, SaveIntervalMs: 5000}
}

// MobileConfig configures the mobile-native adapter.
type MobileConfig struct {
	DatabaseName string
	Encrypted    bool
}

// MemoryConfig configures the in-memory adapter. It is intentionally empty:
// the in-memory adapter has no open-time options.
type MemoryConfig struct{}

// AdapterOptions is the escape hatch mentioned in spec.md §6 as
// `adapterOptions` (opaque mapping). It is carried as a typed side-channel
// rather than folded into BackendConfig's typed variants, since its whole
// purpose is to pass backend-specific values the typed variants do not (yet)
// model; backends that don't recognize a key ignore it.
type AdapterOptions map[string]any
