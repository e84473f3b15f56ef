package syncmgr

import (
	"context"
	"time"

	"github.com/framersai/sql-storage-adapter/storage"
)

// assumedBytesPerRow backstops the budget check when the primary adapter
// does not implement storage.FootprintReporter (e.g. the in-memory
// adapter): row count is multiplied by this constant to approximate an
// on-disk footprint, per spec.md §4.9's "or row counts as a surrogate".
const assumedBytesPerRow = 256

// runCycle executes one full sync cycle: connectivity probe, budget
// enforcement, then each configured table in priority order.
func (m *Manager) runCycle(ctx context.Context) storage.SyncResult {
	start := time.Now()
	m.mu.Lock()
	m.syncing = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.syncing = false
		m.mu.Unlock()
	}()

	result := storage.SyncResult{Success: true, Timestamp: start}

	if m.cfg.Remote == nil {
		result.DurationMs = time.Since(start).Milliseconds()
		m.emitSync(result)
		return result
	}

	if !m.probeConnectivity(ctx) {
		m.setOnline(false)
		result.Success = false
		result.Errors = append(result.Errors, errOffline)
		result.DurationMs = time.Since(start).Milliseconds()
		m.emitSync(result)
		return result
	}
	m.setOnline(true)

	if err := m.enforceBudget(ctx, &result); err != nil {
		result.Success = false
		result.Errors = append(result.Errors, err)
		result.DurationMs = time.Since(start).Milliseconds()
		m.emitSync(result)
		return result
	}

	for _, table := range m.cfg.orderedTables() {
		if err := m.syncTable(ctx, table, &result); err != nil {
			result.Errors = append(result.Errors, err)
			m.emitError(err)
			if m.cfg.Strict {
				result.Success = false
			}
		}
		select {
		case <-ctx.Done():
			result.Errors = append(result.Errors, ctx.Err())
			result.DurationMs = time.Since(start).Milliseconds()
			m.emitSync(result)
			return result
		default:
		}
	}

	if len(result.Errors) > 0 && m.cfg.Strict {
		result.Success = false
	}

	m.mu.Lock()
	m.lastSync = time.Now()
	m.mu.Unlock()

	result.DurationMs = time.Since(start).Milliseconds()
	m.emitSync(result)
	return result
}

var errOffline = &offlineError{}

type offlineError struct{}

func (e *offlineError) Error() string { return "syncmgr: remote connectivity probe failed, cycle skipped" }

// probeConnectivity issues SELECT 1 against the remote, per spec.md §4.9.
func (m *Manager) probeConnectivity(ctx context.Context) bool {
	_, _, err := m.cfg.Remote.Get(ctx, storage.Statement("SELECT 1"), storage.ParameterBundle{})
	return err == nil
}

// setOnline updates the online latch, firing onOnline/onOffline on
// transition, and returns whether the manager was online before this call.
func (m *Manager) setOnline(online bool) bool {
	m.mu.Lock()
	was := m.online
	m.online = online
	m.mu.Unlock()
	if was == online {
		return was
	}
	if online {
		if m.cfg.Callbacks.OnOnline != nil {
			m.cfg.Callbacks.OnOnline()
		}
	} else if m.cfg.Callbacks.OnOffline != nil {
		m.cfg.Callbacks.OnOffline()
	}
	return was
}

func (m *Manager) emitSync(result storage.SyncResult) {
	if m.cfg.Callbacks.OnSync != nil {
		m.cfg.Callbacks.OnSync(result)
	}
}
func (m *Manager) emitError(err error) {
	if m.cfg.Callbacks.OnError != nil {
		m.cfg.Callbacks.OnError(err)
	}
}
func (m *Manager) emitConflict(c storage.SyncConflict) {
	if m.cfg.Callbacks.OnConflict != nil {
		m.cfg.Callbacks.OnConflict(c)
	}
}
func (m *Manager) emitProgress(table string, done, total int) {
	if m.cfg.Callbacks.OnProgress != nil {
		m.cfg.Callbacks.OnProgress(table, done, total)
	}
}

// enforceBudget measures the primary's footprint and, if it exceeds the
// configured limit, applies the configured action.
func (m *Manager) enforceBudget(ctx context.Context, result *storage.SyncResult) error {
	if m.cfg.StorageLimitMB <= 0 {
		return nil
	}
	limitBytes := m.cfg.StorageLimitMB * 1024 * 1024
	actual, measured := m.measureFootprint(ctx)
	if !measured || actual <= limitBytes {
		return nil
	}

	switch m.cfg.StorageLimitAction {
	case BudgetError:
		return &storage.StorageBudgetExceededError{Table: "*", LimitBytes: limitBytes, ActualBytes: actual}
	case BudgetPrune:
		return m.pruneToFit(ctx, limitBytes)
	default: // BudgetWarn and unset both warn
		m.emitError(&storage.StorageBudgetExceededError{Table: "*", LimitBytes: limitBytes, ActualBytes: actual})
		return nil
	}
}

func (m *Manager) measureFootprint(ctx context.Context) (int64, bool) {
	if fr, ok := m.cfg.Primary.(storage.FootprintReporter); ok {
		if bytes, ok := fr.FootprintBytes(ctx); ok {
			return bytes, true
		}
	}
	var total int64
	found := false
	for _, table := range m.cfg.orderedTables() {
		rows, err := m.cfg.Primary.All(ctx, storage.Statement("SELECT id FROM "+table), storage.ParameterBundle{})
		if err != nil {
			continue
		}
		found = true
		total += int64(len(rows)) * assumedBytesPerRow
	}
	return total, found
}

// pruneToFit deletes the oldest rows (by updated_at) across sync tables,
// lowest priority first, until the primary's footprint is back under
// limitBytes or there is nothing left to delete.
func (m *Manager) pruneToFit(ctx context.Context, limitBytes int64) error {
	tables := m.cfg.orderedTables()
	for i := len(tables) - 1; i >= 0; i-- {
		table := tables[i]
		for {
			actual, measured := m.measureFootprint(ctx)
			if !measured || actual <= limitBytes {
				return nil
			}
			row, ok, err := m.cfg.Primary.Get(ctx, storage.Statement("SELECT id FROM "+table+" ORDER BY updated_at ASC LIMIT 1"), storage.ParameterBundle{})
			if err != nil || !ok {
				break
			}
			id, _ := row["id"].(string)
			if id == "" {
				break
			}
			if err := deleteRow(ctx, m.cfg.Primary, table, id); err != nil {
				break
			}
		}
	}
	return nil
}
