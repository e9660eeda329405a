// Package mcp defines the seam between the execution runtime and MCP (Model
// Context Protocol) tool servers. The runtime's mcp adapter marshals entry
// inputs into a CallRequest and hands it to a transport-specific Caller
// implementation (stdio, HTTP streaming, etc.) supplied by surrounding
// service code.
package mcp

import (
	"context"
	"encoding/json"
)

const (
	// JSON-RPC 2.0 canonical error codes.
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// Caller invokes MCP tools on behalf of the runtime's mcp adapter.
type Caller interface {
	CallTool(ctx context.Context, req CallRequest) (CallResponse, error)
}

// Error represents a JSON-RPC error returned by the MCP server.
type Error struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// CallRequest describes the tool invocation issued by the runtime.
type CallRequest struct {
	// Tool is the MCP tool identifier from the entry's entrypoint.
	Tool string
	// Payload is the JSON-encoded tool arguments.
	Payload json.RawMessage
}

// CallResponse captures the MCP tool result returned by the caller.
type CallResponse struct {
	// Result is the JSON payload returned by the MCP server.
	Result json.RawMessage
}
