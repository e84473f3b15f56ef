// Package storage defines the cross-runtime SQL storage contract: the
// polymorphic AdapterContract, the capability model, parameter bundling and
// placeholder translation, and the priority-ordered resolver. Concrete
// backends live under adapters/.
package storage

import (
	"context"
	"fmt"
)

// Statement is an opaque SQL text blob. Parameters are either `?` positional
// markers or `@ident` named markers, never mixed within one statement.
type Statement string

// BundleKind discriminates the three shapes a ParameterBundle can take.
type BundleKind int

const (
	BundleEmpty BundleKind = iota
	BundlePositional
	BundleNamed
)

// ParameterBundle is a closed sum type: Empty | Positional(values) |
// Named(map). Exactly one of Values/Named is meaningful, selected by Kind.
type ParameterBundle struct {
	Kind   BundleKind
	Values []any
	Named  map[string]any
}

// Empty reports whether the bundle carries no parameters.
func (b ParameterBundle) Empty() bool { return b.Kind == BundleEmpty }

// RunResult is the outcome of a mutating statement.
type RunResult struct {
	// Changes is the number of rows affected by the last mutating statement.
	Changes int64
	// LastInsertRowID is nullable; numeric backends populate Int64Value,
	// keys whose magnitude exceeds 2^53 (the largest integer a float64 holds
	// exactly) populate StringValue instead (spec.md §9, last-insert-row-id normalization).
	LastInsertRowID RowID
}

// RowID is the nullable, precision-safe last-insert-row-id.
type RowID struct {
	Valid       bool
	IsString    bool
	Int64Value  int64
	StringValue string
}

// NoRowID is the null RowID.
var NoRowID = RowID{}

// Int64RowID builds a RowID from a native 64-bit surrogate key.
func Int64RowID(v int64) RowID { return RowID{Valid: true, Int64Value: v} }

// StringRowID builds a RowID for a surrogate key beyond native precision.
func StringRowID(v string) RowID { return RowID{Valid: true, IsString: true, StringValue: v} }

// maxSafeInteger is the largest integer magnitude a double-precision float
// can represent exactly (2^53); ids beyond it must be carried as strings to
// avoid silent truncation (spec.md §9).
const maxSafeInteger = int64(1) << 53

// NormalizeInt64RowID builds a RowID from a native 64-bit id, stringifying
// it if its magnitude exceeds maxSafeInteger rather than risking silent
// precision loss downstream.
func NormalizeInt64RowID(id int64) RowID {
	if id > maxSafeInteger || id < -maxSafeInteger {
		return StringRowID(fmt.Sprintf("%d", id))
	}
	return Int64RowID(id)
}

// Row is a column-name to value mapping. Values may be nil, int64, float64,
// string, or []byte. Order-insignificant once materialized.
type Row map[string]any

// Capability is a tag drawn from the closed vocabulary declared in
// Capabilities below.
type Capability string

const (
	CapSync       Capability = "sync"
	CapTx         Capability = "transactions"
	CapWAL        Capability = "wal"
	CapLocks      Capability = "locks"
	CapPersist    Capability = "persistence"
	CapStreaming  Capability = "streaming"
	CapBatch      Capability = "batch"
	CapPrepared   Capability = "prepared"
	CapConcurrent Capability = "concurrent"
	CapJSON       Capability = "json"
	CapArrays     Capability = "arrays"
)

// CapabilitySet is a fixed-at-compile-time set of capability tags, exposed
// as a bitmask per the REDESIGN FLAGS (runtime polymorphism over adapters
// becomes a bitmask-valued constant per variant).
type CapabilitySet uint16

var capBit = map[Capability]CapabilitySet{
	CapSync:       1 << 0,
	CapTx:         1 << 1,
	CapWAL:        1 << 2,
	CapLocks:      1 << 3,
	CapPersist:    1 << 4,
	CapStreaming:  1 << 5,
	CapBatch:      1 << 6,
	CapPrepared:   1 << 7,
	CapConcurrent: 1 << 8,
	CapJSON:       1 << 9,
	CapArrays:     1 << 10,
}

// NewCapabilitySet builds a CapabilitySet from a list of tags.
func NewCapabilitySet(tags ...Capability) CapabilitySet {
	var s CapabilitySet
	for _, t := range tags {
		s |= capBit[t]
	}
	return s
}

// Has reports whether the set declares the given capability.
func (s CapabilitySet) Has(tag Capability) bool {
	bit, ok := capBit[tag]
	return ok && s&bit != 0
}

// Tags returns the capability tags present in the set, in a stable order.
func (s CapabilitySet) Tags() []Capability {
	order := []Capability{CapSync, CapTx, CapWAL, CapLocks, CapPersist, CapStreaming, CapBatch, CapPrepared, CapConcurrent, CapJSON, CapArrays}
	out := make([]Capability, 0, len(order))
	for _, t := range order {
		if s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

// Kind is a stable short identifier of an adapter variant.
type Kind string

const (
	KindNativeEmbedded    Kind = "native-embedded"
	KindWASMEmbedded      Kind = "wasm"
	KindNetworkRelational Kind = "network-relational"
	KindBlobPersisted     Kind = "blob-persisted"
	KindMobileNative      Kind = "mobile-native"
	KindInMemory          Kind = "in-memory"
)

// State is the AdapterHandle lifecycle state machine (spec.md §3).
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
	StateError
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpening:
		return "OPENING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Limitation records a declared, backend-specific gap (e.g. "no concurrent
// writers"); it is informational and surfaced via AdapterContext.
type Limitation struct {
	Tag     string
	Message string
}

// AdapterContext is the immutable snapshot attached to each open handle.
type AdapterContext struct {
	AdapterKind    Kind
	Caps           CapabilitySet
	ConnDescriptor string
	Limitations    []Limitation
}

// BatchOp is a single {statement, params} tuple submitted to Batch.
type BatchOp struct {
	Statement Statement
	Params    ParameterBundle
}

// BatchResult is the outcome of Batch: per-operation success/failure plus
// aggregate accounting.
type BatchResult struct {
	Successful int
	Failed     int
	Results    []RunResult
	Errors     []error
}

// PreparedStatement exposes run/get/all/finalize over pre-parsed SQL.
type PreparedStatement interface {
	Run(ctx context.Context, params ParameterBundle) (RunResult, error)
	Get(ctx context.Context, params ParameterBundle) (Row, bool, error)
	All(ctx context.Context, params ParameterBundle) ([]Row, error)
	Finalize() error
}

// TxFunc is the caller-supplied function passed to Transaction. It receives
// an Adapter reference that routes statements through the pinned
// transactional executor for the span of the call.
type TxFunc func(ctx context.Context, tx Adapter) (any, error)

// Adapter is the polymorphic operation surface every backend implements
// (spec.md §4.1). All operations are asynchronous in the sense of taking a
// context.Context and being safe to call from a goroutine, except where the
// backend's capability set declares Sync — the native-embedded adapter is
// synchronous internally but still exposed through this same surface for
// uniformity.
type Adapter interface {
	// Open establishes the backend connection. Idempotent if already OPEN.
	Open(ctx context.Context, opts BackendConfig) error
	// Run executes a single mutating statement.
	Run(ctx context.Context, stmt Statement, params ParameterBundle) (RunResult, error)
	// Get returns the first row, or ok=false if there is none.
	Get(ctx context.Context, stmt Statement, params ParameterBundle) (Row, bool, error)
	// All returns every row.
	All(ctx context.Context, stmt Statement, params ParameterBundle) ([]Row, error)
	// Exec runs a multi-statement script with no result set.
	Exec(ctx context.Context, script string) error
	// Transaction wraps fn in BEGIN/COMMIT, rolling back and rethrowing on error.
	Transaction(ctx context.Context, fn TxFunc) (any, error)
	// Close releases resources. Idempotent if already CLOSED.
	Close(ctx context.Context) error

	// Kind returns the stable adapter identifier.
	Kind() Kind
	// Capabilities returns the fixed capability set.
	Capabilities() CapabilitySet
	// Context returns the immutable snapshot for the current handle.
	Context() AdapterContext
	// GetState returns the current lifecycle state (observable per spec.md §3).
	GetState() State
}

// BatchCapable is implemented by adapters declaring CapBatch.
type BatchCapable interface {
	Batch(ctx context.Context, ops []BatchOp) (BatchResult, error)
}

// PrepareCapable is implemented by adapters declaring CapPrepared.
type PrepareCapable interface {
	Prepare(ctx context.Context, stmt Statement) (PreparedStatement, error)
}

// FootprintReporter is implemented by adapters that can report their
// on-disk byte footprint (used by SyncManager's storage-budget enforcement
// in preference to a row-count surrogate).
type FootprintReporter interface {
	FootprintBytes(ctx context.Context) (int64, bool)
}
