package runtime

import (
	"context"
	"time"

	"goa.design/sor/registry"
)

// DefaultAdapterTimeout bounds each adapter call.
const DefaultAdapterTimeout = 30 * time.Second

type (
	// AdapterCall carries everything an adapter needs for one dispatch. The
	// invoker is bound to the calling entry and context and is nil for ops
	// and pipeline steps, which never compose.
	AdapterCall struct {
		Entry   *registry.Entry
		Inputs  map[string]any
		Context *Context
		Invoker *Invoker
	}

	// Adapter executes one entry on a specific transport. Implementations
	// honor ctx cancellation; the runtime enforces the per-call timeout and
	// maps context expiry to the timeout failure code.
	Adapter interface {
		Execute(ctx context.Context, call *AdapterCall) (map[string]any, error)
	}

	// AdapterFunc adapts a function to the Adapter interface.
	AdapterFunc func(ctx context.Context, call *AdapterCall) (map[string]any, error)
)

// Execute implements Adapter.
func (f AdapterFunc) Execute(ctx context.Context, call *AdapterCall) (map[string]any, error) {
	return f(ctx, call)
}

// adapterFor selects the adapter for an entry's runtime selector.
func (r *Runtime) adapterFor(entry *registry.Entry) (Adapter, *Error) {
	ep := entry.Entrypoint()
	if ep == nil {
		return nil, newError(KindComposition, CodeOpRuntimeMissing, "%s declares no entrypoint", entry.Ident())
	}
	a, ok := r.adapters[ep.Runtime]
	if !ok {
		return nil, newError(KindAdapter, CodeAdapterMissing, "no adapter registered for runtime %q", ep.Runtime)
	}
	return a, nil
}
