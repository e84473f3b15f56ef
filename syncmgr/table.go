package syncmgr

import (
	"context"
	"reflect"
	"time"

	"github.com/framersai/sql-storage-adapter/storage"
)

// syncTable runs one table's pull/push/conflict-resolution pass and folds
// the outcome into result.
func (m *Manager) syncTable(ctx context.Context, table string, result *storage.SyncResult) error {
	local, localDiags := selectAll(ctx, m.cfg.Primary, table)
	remote, remoteDiags := selectAll(ctx, m.cfg.Remote, table)
	result.Errors = append(result.Errors, localDiags...)
	result.Errors = append(result.Errors, remoteDiags...)

	cfg := m.cfg.tableConfig(table)
	since := m.lastPushStamp(table)

	ids := make(map[string]struct{}, len(local)+len(remote))
	for id := range local {
		ids[id] = struct{}{}
	}
	for id := range remote {
		ids[id] = struct{}{}
	}

	total := len(ids)
	done := 0
	var newestSeen storage.SyncRecord
	haveNewest := false

	for id := range ids {
		done++
		localRec, hasLocal := local[id]
		remoteRec, hasRemote := remote[id]

		switch {
		case hasLocal && hasRemote:
			if err := m.reconcile(ctx, table, localRec, remoteRec, result); err != nil {
				result.Errors = append(result.Errors, err)
			} else {
				result.RecordsSynced++
			}
		case hasLocal && !hasRemote:
			if m.cfg.Direction.includesPush() && !localRec.UpdatedAt.Before(since) {
				if err := upsert(ctx, m.cfg.Remote, table, localRec); err != nil {
					result.Errors = append(result.Errors, err)
				} else {
					result.RecordsSynced++
				}
			}
		case !hasLocal && hasRemote:
			if m.cfg.Direction.includesPull() {
				if err := m.applyRowCap(ctx, table, cfg); err != nil {
					result.Errors = append(result.Errors, err)
				}
				if err := upsert(ctx, m.cfg.Primary, table, remoteRec); err != nil {
					result.Errors = append(result.Errors, err)
				} else {
					result.RecordsSynced++
				}
			}
		}

		if !haveNewest || (hasLocal && localRec.UpdatedAt.After(newestSeen.UpdatedAt)) {
			if hasLocal {
				newestSeen, haveNewest = localRec, true
			}
		}

		m.emitProgress(table, done, total)
	}

	if haveNewest {
		m.mu.Lock()
		m.lastSyncStamp[table] = newestSeen.UpdatedAt
		m.mu.Unlock()
	}

	return m.verify(ctx, table)
}

// lastPushStamp returns the zero time when table has never been pushed,
// which includesPush-gated callers treat as "push everything".
func (m *Manager) lastPushStamp(table string) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSyncStamp[table]
}

// reconcile resolves a row present on both sides under the configured
// conflict strategy, per spec.md's last-write-wins worked example in §8.
func (m *Manager) reconcile(ctx context.Context, table string, local, remote storage.SyncRecord, result *storage.SyncResult) error {
	if local.UpdatedAt.Equal(remote.UpdatedAt) && rowsEqual(local.Fields, remote.Fields) {
		return nil
	}

	conflict := storage.SyncConflict{Table: table, ID: local.ID, LocalRecord: local, RemoteRecord: remote}

	switch m.cfg.ConflictStrategy {
	case StrategyLocalWins:
		conflict.Resolution = storage.ResolutionLocal
		m.emitConflict(conflict)
		result.Conflicts = append(result.Conflicts, conflict)
		if m.cfg.Direction.includesPush() {
			return upsert(ctx, m.cfg.Remote, table, local)
		}
		return nil

	case StrategyRemoteWins:
		conflict.Resolution = storage.ResolutionRemote
		m.emitConflict(conflict)
		result.Conflicts = append(result.Conflicts, conflict)
		if m.cfg.Direction.includesPull() {
			return upsert(ctx, m.cfg.Primary, table, remote)
		}
		return nil

	case StrategyMerge:
		if m.cfg.Merge == nil {
			return m.reconcileLastWriteWins(ctx, table, local, remote, &conflict, result)
		}
		merged, err := m.cfg.Merge(local, remote)
		if err != nil {
			return err
		}
		conflict.Resolution = storage.ResolutionMerged
		m.emitConflict(conflict)
		result.Conflicts = append(result.Conflicts, conflict)
		if m.cfg.Direction.includesPull() {
			if err := upsert(ctx, m.cfg.Primary, table, merged); err != nil {
				return err
			}
		}
		if m.cfg.Direction.includesPush() {
			return upsert(ctx, m.cfg.Remote, table, merged)
		}
		return nil

	case StrategyKeepBoth:
		conflict.Resolution = storage.ResolutionKeptBoth
		m.emitConflict(conflict)
		result.Conflicts = append(result.Conflicts, conflict)
		if m.cfg.Direction.includesPull() {
			return insertAs(ctx, m.cfg.Primary, table, keepBothID(remote.ID), remote)
		}
		return nil

	default: // StrategyLastWriteWins, and the unset zero value
		return m.reconcileLastWriteWins(ctx, table, local, remote, &conflict, result)
	}
}

func (m *Manager) reconcileLastWriteWins(ctx context.Context, table string, local, remote storage.SyncRecord, conflict *storage.SyncConflict, result *storage.SyncResult) error {
	if !local.UpdatedAt.After(remote.UpdatedAt) {
		conflict.Resolution = storage.ResolutionRemote
		m.emitConflict(*conflict)
		result.Conflicts = append(result.Conflicts, *conflict)
		if m.cfg.Direction.includesPull() {
			return upsert(ctx, m.cfg.Primary, table, remote)
		}
		return nil
	}
	conflict.Resolution = storage.ResolutionLocal
	m.emitConflict(*conflict)
	result.Conflicts = append(result.Conflicts, *conflict)
	if m.cfg.Direction.includesPush() {
		return upsert(ctx, m.cfg.Remote, table, local)
	}
	return nil
}

func rowsEqual(a, b storage.Row) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok || !reflect.DeepEqual(v, bv) {
			return false
		}
	}
	return true
}

// applyRowCap deletes the oldest rows in table on the primary until it has
// room for one more, honoring TableConfig.MaxRecords.
func (m *Manager) applyRowCap(ctx context.Context, table string, cfg TableConfig) error {
	if cfg.MaxRecords <= 0 {
		return nil
	}
	rows, err := m.cfg.Primary.All(ctx, storage.Statement("SELECT id FROM "+table), storage.ParameterBundle{})
	if err != nil || len(rows) < cfg.MaxRecords {
		return err
	}
	row, ok, err := m.cfg.Primary.Get(ctx, storage.Statement("SELECT id FROM "+table+" ORDER BY updated_at ASC LIMIT 1"), storage.ParameterBundle{})
	if err != nil || !ok {
		return err
	}
	id, _ := row["id"].(string)
	if id == "" {
		return nil
	}
	return deleteRow(ctx, m.cfg.Primary, table, id)
}

// verify compares row counts between primary and remote after a table's
// pass; under Config.Strict a mismatch is a hard error, otherwise it is
// logged and surfaced to OnError.
func (m *Manager) verify(ctx context.Context, table string) error {
	if !m.cfg.Direction.includesPull() || !m.cfg.Direction.includesPush() {
		return nil // one-directional sync is not expected to converge counts
	}
	localRows, err := m.cfg.Primary.All(ctx, storage.Statement("SELECT id FROM "+table), storage.ParameterBundle{})
	if err != nil {
		return err
	}
	remoteRows, err := m.cfg.Remote.All(ctx, storage.Statement("SELECT id FROM "+table), storage.ParameterBundle{})
	if err != nil {
		return err
	}
	if m.cfg.ConflictStrategy == StrategyKeepBoth {
		return nil // keep-both intentionally diverges row counts
	}
	if len(localRows) != len(remoteRows) {
		err := &verifyMismatchError{table: table, local: len(localRows), remote: len(remoteRows)}
		if m.cfg.Strict {
			return err
		}
		m.log.Warnf("%v (local %d, remote %d)", err, len(localRows), len(remoteRows))
		m.emitError(err)
	}
	return nil
}

type verifyMismatchError struct {
	table         string
	local, remote int
}

func (e *verifyMismatchError) Error() string {
	return "syncmgr: table " + e.table + " row count mismatch after sync"
}
