package syncmgr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/framersai/sql-storage-adapter/storage"
)

// errMissingKey is returned by rowToRecord when a row lacks id or
// updated_at; the caller surfaces it as a diagnostic rather than silently
// dropping the row (spec.md §3 invariant).
type errMissingKey struct {
	table string
	field string
}

func (e *errMissingKey) Error() string {
	return fmt.Sprintf("syncmgr: row in table %q is missing required field %q", e.table, e.field)
}

// rowToRecord extracts the {id, updated_at} pair spec.md §3 requires every
// SyncRecord to carry, keeping the rest of the row intact in Fields.
func rowToRecord(table string, row storage.Row) (storage.SyncRecord, error) {
	idVal, ok := row["id"]
	if !ok || idVal == nil {
		return storage.SyncRecord{}, &errMissingKey{table: table, field: "id"}
	}
	tsVal, ok := row["updated_at"]
	if !ok || tsVal == nil {
		return storage.SyncRecord{}, &errMissingKey{table: table, field: "updated_at"}
	}
	ts, err := parseTimestamp(tsVal)
	if err != nil {
		return storage.SyncRecord{}, fmt.Errorf("syncmgr: table %q: %w", table, err)
	}
	return storage.SyncRecord{ID: fmt.Sprint(idVal), UpdatedAt: ts, Fields: row}, nil
}

// parseTimestamp accepts the handful of shapes a driver might hand back for
// an `updated_at` column: a RFC3339 string, a Unix-millisecond integer, or
// a float64 (the shape database/sql drivers use for numeric columns when
// scanned into `any`).
func parseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case int64:
		return time.UnixMilli(t).UTC(), nil
	case float64:
		return time.UnixMilli(int64(t)).UTC(), nil
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts, nil
		}
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts, nil
		}
		return time.Time{}, fmt.Errorf("unparseable updated_at value %q", t)
	default:
		return time.Time{}, fmt.Errorf("unsupported updated_at value type %T", v)
	}
}

// keepBothID derives the duplicate-row id the keep-both strategy inserts
// under, idempotent against being applied twice (spec.md's keep-both Open
// Question is resolved as a tilde-delimited suffix rather than a counter,
// so re-running a cycle against an id that already carries the suffix does
// not grow it further).
func keepBothID(id string) string {
	if strings.HasSuffix(id, "~remote") {
		return id
	}
	return id + "~remote"
}

// selectAll fetches every row of table as SyncRecords, keyed by id. Rows
// that fail rowToRecord are reported via diagnostics rather than included.
func selectAll(ctx context.Context, a storage.Adapter, table string) (map[string]storage.SyncRecord, []error) {
	rows, err := a.All(ctx, storage.Statement("SELECT * FROM "+table), storage.ParameterBundle{})
	if err != nil {
		return nil, []error{err}
	}
	out := make(map[string]storage.SyncRecord, len(rows))
	var diags []error
	for _, row := range rows {
		rec, err := rowToRecord(table, row)
		if err != nil {
			diags = append(diags, err)
			continue
		}
		out[rec.ID] = rec
	}
	return out, diags
}
