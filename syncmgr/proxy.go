package syncmgr

import (
	"context"

	"github.com/framersai/sql-storage-adapter/storage"
)

// primaryProxy wraps the primary adapter so mutations issued through
// Manager.DB() notify the manager's scheduler (auto/realtime modes) without
// requiring callers to call anything beyond the normal storage.Adapter
// surface.
type primaryProxy struct {
	mgr   *Manager
	inner storage.Adapter
}

func (p *primaryProxy) Open(ctx context.Context, opts storage.BackendConfig) error {
	return p.inner.Open(ctx, opts)
}

func (p *primaryProxy) Run(ctx context.Context, stmt storage.Statement, params storage.ParameterBundle) (storage.RunResult, error) {
	rr, err := p.inner.Run(ctx, stmt, params)
	if err == nil {
		p.mgr.notifyMutation()
	}
	return rr, err
}

func (p *primaryProxy) Get(ctx context.Context, stmt storage.Statement, params storage.ParameterBundle) (storage.Row, bool, error) {
	return p.inner.Get(ctx, stmt, params)
}

func (p *primaryProxy) All(ctx context.Context, stmt storage.Statement, params storage.ParameterBundle) ([]storage.Row, error) {
	return p.inner.All(ctx, stmt, params)
}

func (p *primaryProxy) Exec(ctx context.Context, script string) error {
	err := p.inner.Exec(ctx, script)
	if err == nil {
		p.mgr.notifyMutation()
	}
	return err
}

func (p *primaryProxy) Transaction(ctx context.Context, fn storage.TxFunc) (any, error) {
	result, err := p.inner.Transaction(ctx, fn)
	if err == nil {
		p.mgr.notifyMutation()
	}
	return result, err
}

func (p *primaryProxy) Close(ctx context.Context) error { return p.inner.Close(ctx) }
func (p *primaryProxy) Kind() storage.Kind               { return p.inner.Kind() }
func (p *primaryProxy) Capabilities() storage.CapabilitySet {
	return p.inner.Capabilities()
}
func (p *primaryProxy) Context() storage.AdapterContext { return p.inner.Context() }
func (p *primaryProxy) GetState() storage.State         { return p.inner.GetState() }
