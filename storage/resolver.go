package storage

import (
	"context"
	"os"
)

// EnvAdapterOverride is the environment variable recognized by the
// resolver (spec.md §6): when set, its value takes precedence over the
// default priority list.
const EnvAdapterOverride = "STORAGE_ADAPTER"

// RuntimeHint lets callers describe their hosting environment so
// DefaultPriority can pick the right fallback order, mirroring spec.md
// §4.8's "Defaults by runtime" table. Exactly the fields needed to choose
// among the four listed scenarios are present; this is not a general
// runtime-detection facility.
type RuntimeHint struct {
	HostedNativePresent      bool
	NetworkConnStringPresent bool
	Browser                  bool
}

// DefaultPriority returns the resolver's default candidate order for a
// given runtime hint, per spec.md §4.8.
func DefaultPriority(h RuntimeHint) []Kind {
	switch {
	case h.HostedNativePresent:
		return []Kind{KindMobileNative, KindBlobPersisted, KindWASMEmbedded}
	case h.NetworkConnStringPresent:
		return []Kind{KindNetworkRelational, KindNativeEmbedded, KindWASMEmbedded}
	case h.Browser:
		return []Kind{KindBlobPersisted, KindWASMEmbedded}
	default:
		return []Kind{KindNativeEmbedded, KindWASMEmbedded}
	}
}

// Resolver is the priority-ordered factory that instantiates and opens
// candidates until one succeeds. It is stateless beyond a single call
// (spec.md §4.8).
type Resolver struct {
	registry *Registry
}

// NewResolver builds a Resolver over the given registry. Pass nil to use
// the global registry populated by adapter package init() functions.
func NewResolver(registry *Registry) *Resolver {
	if registry == nil {
		registry = globalRegistry
	}
	return &Resolver{registry: registry}
}

// ConfigFor resolves the BackendConfig to use for a given candidate kind
// out of a per-kind option map; candidates absent from the map open with a
// zero-value BackendConfig of the right Kind.
type ConfigFor func(kind Kind) BackendConfig

// Resolve builds the candidate list (environment override replaces
// priority, per spec.md §6/§8), then tries each factory in order, opening
// it and returning the first success. On total failure it returns a
// *StorageResolutionError carrying every collected cause.
func (r *Resolver) Resolve(ctx context.Context, priority []Kind, cfg ConfigFor) (Adapter, error) {
	candidates := priority
	if override := os.Getenv(EnvAdapterOverride); override != "" {
		candidates = []Kind{Kind(override)}
	}

	var causes []error
	for _, kind := range candidates {
		factory, ok := r.registry.Get(kind)
		if !ok {
			causes = append(causes, &OpenFailedError{AdapterKind: kind, Cause: errUnregisteredKind(kind)})
			continue
		}
		adapter := factory()
		var bc BackendConfig
		if cfg != nil {
			bc = cfg(kind)
		}
		bc.Kind = kind
		if err := adapter.Open(ctx, bc); err != nil {
			causes = append(causes, err)
			continue
		}
		return adapter, nil
	}
	return nil, &StorageResolutionError{Causes: causes}
}

type unregisteredKindError Kind

func (e unregisteredKindError) Error() string {
	return "storage: no adapter registered for kind \"" + string(e) + "\""
}

func errUnregisteredKind(k Kind) error { return unregisteredKindError(k) }
