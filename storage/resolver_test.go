package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter is a minimal Adapter stub for resolver tests.
type fakeAdapter struct {
	kind      Kind
	failOpen  bool
	opened    bool
	state     State
}

func (f *fakeAdapter) Open(ctx context.Context, opts BackendConfig) error {
	if f.failOpen {
		return &OpenFailedError{AdapterKind: f.kind, Cause: errors.New("boom")}
	}
	f.opened = true
	f.state = StateOpen
	return nil
}
func (f *fakeAdapter) Run(ctx context.Context, stmt Statement, params ParameterBundle) (RunResult, error) {
	return RunResult{}, nil
}
func (f *fakeAdapter) Get(ctx context.Context, stmt Statement, params ParameterBundle) (Row, bool, error) {
	return nil, false, nil
}
func (f *fakeAdapter) All(ctx context.Context, stmt Statement, params ParameterBundle) ([]Row, error) {
	return nil, nil
}
func (f *fakeAdapter) Exec(ctx context.Context, script string) error { return nil }
func (f *fakeAdapter) Transaction(ctx context.Context, fn TxFunc) (any, error) {
	return fn(ctx, f)
}
func (f *fakeAdapter) Close(ctx context.Context) error { f.state = StateClosed; return nil }
func (f *fakeAdapter) Kind() Kind                       { return f.kind }
func (f *fakeAdapter) Capabilities() CapabilitySet      { return CapabilitiesFor(f.kind) }
func (f *fakeAdapter) Context() AdapterContext          { return AdapterContext{AdapterKind: f.kind} }
func (f *fakeAdapter) GetState() State                  { return f.state }

func TestResolverFallsBackOnFailure(t *testing.T) {
	reg := NewRegistry()
	reg.Register(KindNativeEmbedded, func() Adapter { return &fakeAdapter{kind: KindNativeEmbedded, failOpen: true} })
	reg.Register(KindWASMEmbedded, func() Adapter { return &fakeAdapter{kind: KindWASMEmbedded} })

	r := NewResolver(reg)
	adapter, err := r.Resolve(context.Background(), []Kind{KindNativeEmbedded, KindWASMEmbedded}, nil)
	require.NoError(t, err)
	assert.Equal(t, KindWASMEmbedded, adapter.Kind())
}

func TestResolverCollectsAllCausesOnTotalFailure(t *testing.T) {
	reg := NewRegistry()
	reg.Register(KindNativeEmbedded, func() Adapter { return &fakeAdapter{kind: KindNativeEmbedded, failOpen: true} })
	reg.Register(KindWASMEmbedded, func() Adapter { return &fakeAdapter{kind: KindWASMEmbedded, failOpen: true} })

	r := NewResolver(reg)
	_, err := r.Resolve(context.Background(), []Kind{KindNativeEmbedded, KindWASMEmbedded}, nil)
	require.Error(t, err)
	var sr *StorageResolutionError
	require.ErrorAs(t, err, &sr)
	assert.Len(t, sr.Causes, 2)
}

func TestResolverEnvOverrideTakesPrecedence(t *testing.T) {
	t.Setenv(EnvAdapterOverride, string(KindWASMEmbedded))
	reg := NewRegistry()
	reg.Register(KindNativeEmbedded, func() Adapter { return &fakeAdapter{kind: KindNativeEmbedded} })
	reg.Register(KindWASMEmbedded, func() Adapter { return &fakeAdapter{kind: KindWASMEmbedded} })

	r := NewResolver(reg)
	adapter, err := r.Resolve(context.Background(), []Kind{KindNativeEmbedded}, nil)
	require.NoError(t, err)
	assert.Equal(t, KindWASMEmbedded, adapter.Kind())
}

func TestBatchOrFallbackEmulatesViaTransaction(t *testing.T) {
	a := &fakeAdapter{kind: KindNetworkRelational, state: StateOpen}
	res, err := BatchOrFallback(context.Background(), a, []BatchOp{
		{Statement: "INSERT INTO t VALUES (?)", Params: NormalizeParams([]any{1})},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Successful)
}
