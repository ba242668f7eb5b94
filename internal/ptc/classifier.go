// Package ptc implements Programmatic Tool Calling: classifying a request as
// PTC-eligible, synthesizing the execute_code tool and system prompt,
// driving the sandboxed code-execution state machine across orchestrator
// rounds, and rebuilding the backend-facing conversation on every
// continuation. It sits between the HTTP layer and internal/backend,
// intercepting PTC requests and passing everything else straight through to
// the request converter and backend client.
package ptc

import "goa.design/bedrock-gateway/internal/protocol"

// IsPTCRequest reports whether req should be routed through the PTC
// orchestrator rather than directly to the backend: PTC must
// be enabled, the client must have opted in via the advanced-tool-use beta
// value, and at least one tool must carry the code_execution marker type.
func IsPTCRequest(enabled bool, req *protocol.Request) bool {
	if !enabled {
		return false
	}
	if !protocol.HasBeta(req.AnthropicBeta, protocol.PTCBetaValue) {
		return false
	}
	for _, t := range req.Tools {
		if t.IsCodeExecution() {
			return true
		}
	}
	return false
}

// ToolPartition splits a PTC request's tool list into the three groups the
// orchestrator treats differently.
type ToolPartition struct {
	// CodeExecutionTools are the code_execution_20250825 markers themselves.
	CodeExecutionTools []protocol.ToolDefinition
	// PTCCallableTools may be invoked from inside the sandbox (allowed_callers
	// includes code_execution_20250825).
	PTCCallableTools []protocol.ToolDefinition
	// DirectTools are everything else: only ever invoked by the model directly.
	DirectTools []protocol.ToolDefinition
}

// PartitionTools classifies every tool in tools into exactly one partition
// group. A tool with type code_execution_20250825 is always a code-execution
// tool regardless of allowed_callers.
func PartitionTools(tools []protocol.ToolDefinition) ToolPartition {
	var p ToolPartition
	for _, t := range tools {
		switch {
		case t.IsCodeExecution():
			p.CodeExecutionTools = append(p.CodeExecutionTools, t)
		case t.AllowsCaller(protocol.CallerCodeExecution):
			p.PTCCallableTools = append(p.PTCCallableTools, t)
		default:
			p.DirectTools = append(p.DirectTools, t)
		}
	}
	return p
}
