// Package mcptool executes entries whose entrypoint names an MCP tool. The
// adapter marshals inputs into a tool call and delegates the transport to an
// mcp.Caller supplied by surrounding service code.
package mcptool

import (
	"context"
	"encoding/json"
	"errors"

	"goa.design/sor/mcp"
	"goa.design/sor/registry"
	"goa.design/sor/runtime"
)

// Adapter dispatches the "mcp" runtime selector.
type Adapter struct {
	caller mcp.Caller
}

// New builds an MCP adapter over the given caller.
func New(caller mcp.Caller) *Adapter {
	return &Adapter{caller: caller}
}

// Execute implements runtime.Adapter.
func (a *Adapter) Execute(ctx context.Context, call *runtime.AdapterCall) (map[string]any, error) {
	ep := call.Entry.Entrypoint()
	if ep == nil || ep.Runtime != registry.RuntimeMCP || ep.Tool == "" {
		return nil, runtime.Errorf(runtime.KindAdapter, runtime.CodeInvalidEntrypoint,
			"%s has no mcp tool entrypoint", call.Entry.Ident())
	}
	if a.caller == nil {
		return nil, runtime.Errorf(runtime.KindAdapter, runtime.CodeToolCallFailed,
			"no MCP caller configured")
	}

	payload, err := json.Marshal(call.Inputs)
	if err != nil {
		return nil, runtime.WrapErrorf(runtime.KindAdapter, runtime.CodeToolCallFailed, err,
			"encode inputs for %s", call.Entry.Ident())
	}

	resp, err := a.caller.CallTool(ctx, mcp.CallRequest{Tool: ep.Tool, Payload: payload})
	if err != nil {
		var merr *mcp.Error
		if errors.As(err, &merr) {
			return nil, runtime.WrapErrorf(runtime.KindAdapter, runtime.CodeToolCallFailed, err,
				"tool %q failed", ep.Tool).WithMeta("jsonrpc_code", merr.Code)
		}
		return nil, runtime.WrapErrorf(runtime.KindAdapter, runtime.CodeToolCallFailed, err,
			"tool %q failed", ep.Tool)
	}

	out := make(map[string]any)
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &out); err != nil {
			return nil, runtime.WrapErrorf(runtime.KindAdapter, runtime.CodeToolCallFailed, err,
				"tool %q returned invalid JSON", ep.Tool)
		}
	}
	return out, nil
}
