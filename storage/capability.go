package storage

import "context"

// CapabilityRegistry declares, per backend kind, the fixed capability set
// advertised by that backend. Entries are compile-time constants; this
// mirrors the teacher's pkg/dbcapabilities package (a global map keyed by a
// stable id), generalized from per-database-technology capabilities to the
// spec's closed capability-tag vocabulary.
var CapabilityRegistry = map[Kind]CapabilitySet{
	KindNativeEmbedded:    NewCapabilitySet(CapSync, CapTx, CapWAL, CapLocks, CapPersist, CapPrepared, CapBatch),
	KindWASMEmbedded:      NewCapabilitySet(CapTx, CapPersist, CapJSON, CapPrepared),
	KindNetworkRelational: NewCapabilitySet(CapTx, CapLocks, CapPersist, CapConcurrent, CapJSON, CapArrays, CapPrepared),
	KindBlobPersisted:     NewCapabilitySet(CapTx, CapPersist, CapJSON, CapPrepared),
	KindMobileNative:      NewCapabilitySet(CapTx, CapWAL, CapLocks, CapPersist),
	KindInMemory:          NewCapabilitySet(CapSync, CapTx, CapBatch),
}

// CapabilitiesFor returns the declared capability set for a backend kind.
func CapabilitiesFor(k Kind) CapabilitySet { return CapabilityRegistry[k] }

// BatchOrFallback runs ops through a's Batch method if it declares CapBatch;
// otherwise it emulates batch semantics by running each op sequentially
// inside a Transaction, matching spec.md §4.1's degradation-helper contract.
func BatchOrFallback(ctx context.Context, a Adapter, ops []BatchOp) (BatchResult, error) {
	if bc, ok := a.(BatchCapable); ok && a.Capabilities().Has(CapBatch) {
		return bc.Batch(ctx, ops)
	}
	result := BatchResult{Results: make([]RunResult, 0, len(ops)), Errors: make([]error, 0, len(ops))}
	_, err := a.Transaction(ctx, func(ctx context.Context, tx Adapter) (any, error) {
		for _, op := range ops {
			rr, err := tx.Run(ctx, op.Statement, op.Params)
			if err != nil {
				return nil, err
			}
			result.Results = append(result.Results, rr)
			result.Successful++
		}
		return nil, nil
	})
	if err != nil {
		result.Failed = len(ops)
		result.Successful = 0
		result.Errors = append(result.Errors, err)
		result.Results = nil
		return result, err
	}
	return result, nil
}

// preparedFallback adapts run/get/all directly against stmt without actually
// pre-parsing, used by PrepareOrDirect.
type preparedFallback struct {
	adapter Adapter
	stmt    Statement
}

func (p *preparedFallback) Run(ctx context.Context, params ParameterBundle) (RunResult, error) {
	return p.adapter.Run(ctx, p.stmt, params)
}
func (p *preparedFallback) Get(ctx context.Context, params ParameterBundle) (Row, bool, error) {
	return p.adapter.Get(ctx, p.stmt, params)
}
func (p *preparedFallback) All(ctx context.Context, params ParameterBundle) ([]Row, error) {
	return p.adapter.All(ctx, p.stmt, params)
}
func (p *preparedFallback) Finalize() error { return nil }

// PrepareOrDirect returns a real PreparedStatement if a declares CapPrepared,
// otherwise a thin pass-through that issues run/get/all directly against
// the adapter on every call (no pre-parsing, Finalize is a no-op).
func PrepareOrDirect(ctx context.Context, a Adapter, stmt Statement) (PreparedStatement, error) {
	if pc, ok := a.(PrepareCapable); ok && a.Capabilities().Has(CapPrepared) {
		return pc.Prepare(ctx, stmt)
	}
	return &preparedFallback{adapter: a, stmt: stmt}, nil
}

// RequireCapability returns a *CapabilityUnavailableError if a lacks tag.
func RequireCapability(a Adapter, tag Capability) error {
	if a.Capabilities().Has(tag) {
		return nil
	}
	return &CapabilityUnavailableError{AdapterKind: a.Kind(), Tag: tag}
}
