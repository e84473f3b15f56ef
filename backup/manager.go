package backup

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/framersai/sql-storage-adapter/internal/corelog"
	"github.com/framersai/sql-storage-adapter/internal/coreconfig"
	"github.com/framersai/sql-storage-adapter/storage"
)

// Config configures a periodic Manager.
type Config struct {
	Cloud  Cloud
	Prefix string
	Tables []string

	// Interval is the period between automatic exports. Zero disables the
	// background scheduler; callers can still call Run manually.
	Interval time.Duration

	// Retention is the number of snapshots to keep; older ones are pruned
	// after each successful export. Zero disables pruning.
	Retention int
}

// Manager runs periodic exports of a storage.Adapter to a Cloud backend and
// prunes old snapshots beyond the configured retention count.
type Manager struct {
	mu  sync.RWMutex
	cfg Config
	log *corelog.Logger

	live     *coreconfig.Config
	liveSnap map[string]string

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Manager. Call Start to begin the background scheduler,
// or call Run directly for a one-shot export.
func New(cfg Config) *Manager {
	return &Manager{
		cfg: cfg,
		log: corelog.New("backup"),
	}
}

// WatchLiveConfig attaches a coreconfig.Config as a hot-reload source for
// this manager. "interval" is marked restart-sensitive: it is baked into
// the scheduler's ticker when Start runs, so ApplyLiveConfig reporting a
// change there asks the caller to Stop and Start the manager again rather
// than trying to rewire a running ticker. "retention" and "prefix" apply to
// the very next Run without any restart.
func (m *Manager) WatchLiveConfig(live *coreconfig.Config) {
	live.SetRestartKeys([]string{"interval"})
	m.mu.Lock()
	m.live = live
	m.liveSnap = live.GetAll()
	m.mu.Unlock()
}

// ApplyLiveConfig reconciles the attached coreconfig.Config, if any, into
// the manager's live-tunable fields and reports whether a restart-sensitive
// key changed since the last call. A Manager with no attached live config
// always returns false.
func (m *Manager) ApplyLiveConfig() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live == nil {
		return false
	}
	current := m.live.GetAll()
	restart := m.live.RequiresRestart(m.liveSnap)

	if retention, ok := current["retention"]; ok {
		if n, err := strconv.Atoi(retention); err == nil {
			m.cfg.Retention = n
		}
	}
	if prefix, ok := current["prefix"]; ok {
		m.cfg.Prefix = prefix
	}
	if interval, ok := current["interval"]; ok {
		if d, err := time.ParseDuration(interval); err == nil {
			m.cfg.Interval = d
		}
	}

	m.liveSnap = current
	return restart
}

// Start launches the periodic export loop. No-op if Interval is zero.
func (m *Manager) Start(a storage.Adapter) {
	m.mu.Lock()
	interval := m.cfg.Interval
	if interval <= 0 || m.stopCh != nil {
		m.mu.Unlock()
		return
	}
	stopCh, doneCh := make(chan struct{}), make(chan struct{})
	m.stopCh, m.doneCh = stopCh, doneCh
	m.mu.Unlock()
	go func() {
		defer close(doneCh)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if _, err := m.Run(context.Background(), a); err != nil {
					m.log.Errorf("periodic export failed: %v", err)
				}
			case <-stopCh:
				return
			}
		}
	}()
}

// Stop ends the periodic export loop, waiting for an in-flight export to
// finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	stopCh, doneCh := m.stopCh, m.doneCh
	m.stopCh, m.doneCh = nil, nil
	m.mu.Unlock()
	if stopCh == nil {
		return // never started, or already stopped
	}
	close(stopCh)
	<-doneCh
}

// Run performs one export-upload-prune cycle and returns the object key it
// wrote.
func (m *Manager) Run(ctx context.Context, a storage.Adapter) (string, error) {
	m.mu.RLock()
	tables, cloud, retention := m.cfg.Tables, m.cfg.Cloud, m.cfg.Retention
	m.mu.RUnlock()

	data, err := Export(ctx, a, tables)
	if err != nil {
		return "", err
	}

	key := m.objectKey()
	if err := cloud.Upload(ctx, key, data); err != nil {
		return "", err
	}

	if retention > 0 {
		if err := m.prune(ctx); err != nil {
			m.log.Errorf("retention prune failed: %v", err)
		}
	}

	return key, nil
}

// objectKey derives an ISO-timestamp-sortable key so lexicographic and
// chronological order coincide, with a short uuid suffix to disambiguate
// exports landing in the same second.
func (m *Manager) objectKey() string {
	m.mu.RLock()
	prefix := m.cfg.Prefix
	m.mu.RUnlock()
	stamp := time.Now().UTC().Format("20060102T150405")
	suffix := uuid.NewString()[:8]
	return fmt.Sprintf("%sbackup-%s-%s.json.gz", prefix, stamp, suffix)
}

// prune deletes the oldest snapshots beyond Retention, relying on the
// lexicographic ordering objectKey guarantees.
func (m *Manager) prune(ctx context.Context) error {
	m.mu.RLock()
	cloud, prefix, retention := m.cfg.Cloud, m.cfg.Prefix, m.cfg.Retention
	m.mu.RUnlock()

	keys, err := cloud.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("backup: list for prune: %w", err)
	}
	keys = filterBackupKeys(keys, prefix)
	if len(keys) <= retention {
		return nil
	}
	sort.Strings(keys)
	toDelete := keys[:len(keys)-retention]
	for _, key := range toDelete {
		if err := cloud.Delete(ctx, key); err != nil {
			return fmt.Errorf("backup: prune %q: %w", key, err)
		}
	}
	return nil
}

func filterBackupKeys(keys []string, prefix string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.HasPrefix(k, prefix+"backup-") {
			out = append(out, k)
		}
	}
	return out
}
