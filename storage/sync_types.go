package storage

import "time"

// SyncRecord is a row from a synchronized table. Every record entering the
// sync manager must carry Id and UpdatedAt (spec.md §3); rows lacking
// either are rejected with a diagnostic rather than silently dropped.
type SyncRecord struct {
	ID        string
	UpdatedAt time.Time
	Fields    Row
}

// ConflictResolution names which side (or derived outcome) a conflict
// resolved to.
type ConflictResolution string

const (
	ResolutionLocal    ConflictResolution = "local"
	ResolutionRemote   ConflictResolution = "remote"
	ResolutionMerged   ConflictResolution = "merged"
	ResolutionKeptBoth ConflictResolution = "kept-both"
)

// SyncConflict is the {table, id, localRecord, remoteRecord, resolution}
// tuple spec.md §3 names.
type SyncConflict struct {
	Table        string
	ID           string
	LocalRecord  SyncRecord
	RemoteRecord SyncRecord
	Resolution   ConflictResolution
}

// SyncResult is the accumulated outcome of one sync cycle.
type SyncResult struct {
	Success       bool
	RecordsSynced int
	Conflicts     []SyncConflict
	Errors        []error
	DurationMs    int64
	Timestamp     time.Time
}
