// Package native executes entries in-process through a registered handler
// table. Entrypoints select a handler by module and handler name; handlers
// receive the raw inputs and, for logic skills, the invoker that gates
// composition.
package native

import (
	"context"
	"sync"

	"goa.design/sor/registry"
	"goa.design/sor/runtime"
)

// Handler is an in-process entry implementation. inv is nil for ops and any
// entry without declared call targets.
type Handler func(ctx context.Context, inputs map[string]any, inv *runtime.Invoker) (map[string]any, error)

// Adapter dispatches the "python" runtime selector to registered handlers.
// Registration typically happens at process start; Execute is safe to call
// concurrently with registration.
type Adapter struct {
	mu      sync.RWMutex
	modules map[string]map[string]Handler
}

// New builds an empty handler table.
func New() *Adapter {
	return &Adapter{modules: make(map[string]map[string]Handler)}
}

// Register binds a handler to (module, handler).
func (a *Adapter) Register(module, handler string, fn Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.modules[module] == nil {
		a.modules[module] = make(map[string]Handler)
	}
	a.modules[module][handler] = fn
}

// Resolves reports whether (module, handler) is registered. It satisfies the
// registry loader's native resolver so disabled entries with no handler are
// dropped from the view.
func (a *Adapter) Resolves(module, handler string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.modules[module][handler]
	return ok
}

// Execute implements runtime.Adapter.
func (a *Adapter) Execute(ctx context.Context, call *runtime.AdapterCall) (map[string]any, error) {
	ep := call.Entry.Entrypoint()
	if ep == nil || ep.Runtime != registry.RuntimeNative || ep.Module == "" || ep.Handler == "" {
		return nil, runtime.Errorf(runtime.KindAdapter, runtime.CodeInvalidEntrypoint,
			"%s has no native module/handler entrypoint", call.Entry.Ident())
	}

	a.mu.RLock()
	handlers, ok := a.modules[ep.Module]
	if !ok {
		a.mu.RUnlock()
		return nil, runtime.Errorf(runtime.KindAdapter, runtime.CodeModuleImportFailed,
			"module %q is not registered", ep.Module).WithMeta("module", ep.Module)
	}
	fn, ok := handlers[ep.Handler]
	a.mu.RUnlock()
	if !ok {
		return nil, runtime.Errorf(runtime.KindAdapter, runtime.CodeHandlerMissing,
			"module %q has no handler %q", ep.Module, ep.Handler).
			WithMeta("module", ep.Module).
			WithMeta("handler", ep.Handler)
	}
	return fn(ctx, call.Inputs, call.Invoker)
}
