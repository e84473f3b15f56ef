package syncmgr

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/framersai/sql-storage-adapter/internal/corelog"
	"github.com/framersai/sql-storage-adapter/storage"
)

type cmdKind int

const (
	cmdSync cmdKind = iota
	cmdStop
	cmdTick
)

type command struct {
	kind  cmdKind
	reply chan storage.SyncResult
}

// Manager is the bidirectional sync orchestrator. Once Start has run, cycles
// execute on the loop goroutine, which timers and Sync reach through cmdCh;
// before Start or after Stop, Sync runs a cycle on the caller's goroutine.
// The in-flight-cycle flag, the online/offline latch and the last-sync
// stamps are guarded by mu and read directly by Syncing, Online and
// LastSync; the auto-mode debounce timer is guarded by debounceMu.
type Manager struct {
	cfg Config
	log *corelog.Logger

	cmdCh chan command
	wg    sync.WaitGroup

	mu            sync.Mutex
	syncing       bool
	online        bool
	lastSync      time.Time
	lastSyncStamp map[string]time.Time

	pendingTick int32
	debounce    *time.Timer
	debounceMu  sync.Mutex

	started int32
	doneCh  chan struct{}
}

// New constructs a Manager. Call Start to begin scheduled syncing under
// Config.Mode; manual mode callers can skip Start and just call Sync.
func New(cfg Config) *Manager {
	return &Manager{
		cfg:           cfg,
		log:           corelog.New("syncmgr"),
		cmdCh:         make(chan command, 4),
		lastSyncStamp: make(map[string]time.Time),
		online:        true,
		doneCh:        make(chan struct{}),
	}
}

// DB returns a storage.Adapter that proxies the primary adapter and, on
// every successful mutation, notifies the manager — the hook `auto` and
// `realtime` modes need to react to primary writes without the caller
// wiring anything up manually.
func (m *Manager) DB() storage.Adapter { return &primaryProxy{mgr: m, inner: m.cfg.Primary} }

// Syncing reports whether a cycle is currently running.
func (m *Manager) Syncing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncing
}

// Online reports the manager's last-observed connectivity state.
func (m *Manager) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// LastSync returns the timestamp of the last completed cycle, zero if none
// has run yet.
func (m *Manager) LastSync() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSync
}

// Start launches the scheduling loop. Safe to call once; subsequent calls
// are no-ops.
func (m *Manager) Start() {
	if !atomic.CompareAndSwapInt32(&m.started, 0, 1) {
		return
	}
	m.wg.Add(1)
	go m.loop()
	switch m.cfg.Mode {
	case ModePeriodic:
		m.armPeriodic()
	case ModeOnReconnect:
		m.armReconnectWatcher()
	}
}

// Stop cancels outstanding timers and ends the scheduling loop; a cycle
// already running on the loop completes in full before Stop returns.
// A stopped Manager cannot be restarted; construct a fresh one instead.
func (m *Manager) Stop() {
	if atomic.LoadInt32(&m.started) != 1 {
		return
	}
	m.cmdCh <- command{kind: cmdStop}
	m.wg.Wait()
}

// Close is equivalent to Stop; it exists to match spec.md's close()
// surface alongside sync()/start()/stop().
func (m *Manager) Close() { m.Stop() }

// Sync runs one cycle synchronously and returns its result, regardless of
// Mode. If the scheduling loop is not running (Start was never called)
// this runs the cycle inline on the calling goroutine instead.
func (m *Manager) Sync(ctx context.Context) storage.SyncResult {
	if atomic.LoadInt32(&m.started) == 0 {
		return m.runCycle(ctx)
	}
	reply := make(chan storage.SyncResult, 1)
	select {
	case m.cmdCh <- command{kind: cmdSync, reply: reply}:
	case <-ctx.Done():
		return storage.SyncResult{Success: false, Errors: []error{ctx.Err()}, Timestamp: now()}
	case <-m.doneCh:
		return m.runCycle(ctx)
	}
	select {
	case res := <-reply:
		return res
	case <-ctx.Done():
		return storage.SyncResult{Success: false, Errors: []error{ctx.Err()}, Timestamp: now()}
	}
}

func now() time.Time { return time.Now() }

func (m *Manager) armPeriodic() {
	if m.cfg.Interval <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(m.cfg.Interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				m.enqueueTick()
			case <-m.periodicDone():
				return
			}
		}
	}()
}

func (m *Manager) periodicDone() <-chan struct{} { return m.doneCh }

// armReconnectWatcher polls connectivity on a short interval and enqueues a
// cycle the moment the remote goes from offline to online, per
// ModeOnReconnect. It does not enqueue cycles while already online; regular
// connectivity checks happen as part of runCycle itself.
func (m *Manager) armReconnectWatcher() {
	interval := m.cfg.Interval
	if interval <= 0 {
		interval = reconnectPollInterval
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if !m.Online() && m.cfg.Remote != nil && m.probeConnectivity(context.Background()) {
					m.enqueueTick()
				}
			case <-m.doneCh:
				return
			}
		}
	}()
}

const reconnectPollInterval = 5 * time.Second

func (m *Manager) enqueueTick() {
	if atomic.CompareAndSwapInt32(&m.pendingTick, 0, 1) {
		m.cmdCh <- command{kind: cmdTick}
	}
}

// notifyMutation is called by primaryProxy after a successful write. In
// auto mode it (re)arms a debounce timer; in realtime mode it enqueues an
// immediate cycle; other modes ignore it.
func (m *Manager) notifyMutation() {
	switch m.cfg.Mode {
	case ModeAuto:
		m.debounceMu.Lock()
		if m.debounce == nil {
			m.debounce = time.AfterFunc(m.cfg.Debounce, m.enqueueTick)
		} else {
			m.debounce.Reset(m.cfg.Debounce)
		}
		m.debounceMu.Unlock()
	case ModeRealtime:
		m.enqueueTick()
	}
}

func (m *Manager) loop() {
	defer m.wg.Done()
	defer close(m.doneCh)

	for {
		cmd := <-m.cmdCh
		switch cmd.kind {
		case cmdStop:
			m.debounceMu.Lock()
			if m.debounce != nil {
				m.debounce.Stop()
			}
			m.debounceMu.Unlock()
			return
		case cmdSync:
			result := m.runCycle(context.Background())
			if cmd.reply != nil {
				cmd.reply <- result
			}
		case cmdTick:
			atomic.StoreInt32(&m.pendingTick, 0)
			m.runCycle(context.Background())
		}
	}
}
