// Package backup implements the cloud object-storage seam spec.md leaves
// as a plug-in: a four-method interface any object store can satisfy, a
// default S3-compatible implementation, and a periodic export manager that
// snapshots a storage.Adapter, compresses it, and prunes old snapshots by
// retention count.
package backup

import "context"

// Cloud is the pluggable four-method cloud object-storage interface.
// Implementations need not be S3; anything with bucket/key semantics and
// byte payloads fits (GCS, Azure Blob, MinIO, a filesystem stub for tests).
type Cloud interface {
	Upload(ctx context.Context, key string, data []byte) error
	Download(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}
