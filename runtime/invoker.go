package runtime

import (
	"context"

	"goa.design/sor/registry"
)

// Invoker is the handle a logic skill handler uses to call other skills and
// ops. It is bound to the parent entry and context: the composition gate
// rejects any target the parent did not statically declare, and child
// invocations run under a narrowed capability set.
type Invoker struct {
	rt     *Runtime
	view   *registry.View
	parent *registry.Entry
	pctx   *Context
}

// InvokeSkill executes a declared skill target and returns its outputs.
func (inv *Invoker) InvokeSkill(ctx context.Context, name, version string, inputs map[string]any) (map[string]any, error) {
	return inv.invoke(ctx, registry.TargetSkill, name, version, inputs)
}

// InvokeOp executes a declared op target and returns its outputs.
func (inv *Invoker) InvokeOp(ctx context.Context, name, version string, inputs map[string]any) (map[string]any, error) {
	return inv.invoke(ctx, registry.TargetOp, name, version, inputs)
}

func (inv *Invoker) invoke(ctx context.Context, kind registry.TargetKind, name, version string, inputs map[string]any) (map[string]any, error) {
	if !inv.allowed(kind, name, version) {
		return nil, newError(KindComposition, CodeCallTargetNotAllowed,
			"%s does not declare call target %s:%s", inv.parent.Ident(), kind, name).
			withMeta("kind", string(kind)).
			withMeta("name", name)
	}
	child, err := inv.view.Resolve(registry.CallTargetRef{Kind: kind, Name: name, Version: version})
	if err != nil {
		return nil, wrapError(KindRegistry, registry.ErrorCode(err), err, "resolve call target %s:%s", kind, name)
	}
	res, err := inv.rt.executeEntry(ctx, inv.view, child, inputs, inv.pctx.Child(child.Capabilities()))
	if err != nil {
		return nil, err
	}
	return res.Output, nil
}

// allowed checks the requested target against the parent's declared call
// targets. A declared version pins the target; an undeclared one admits any.
func (inv *Invoker) allowed(kind registry.TargetKind, name, version string) bool {
	for _, t := range inv.parent.CallTargets() {
		if t.Kind != kind || t.Name != name {
			continue
		}
		if t.Version == "" || version == "" || t.Version == version {
			return true
		}
	}
	return false
}
