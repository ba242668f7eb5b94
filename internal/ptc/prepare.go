package ptc

import (
	"encoding/json"
	"fmt"
	"strings"

	"goa.design/bedrock-gateway/internal/protocol"
)

const executeCodeSchema = `{"type":"object","properties":{"code":{"type":"string"}},"required":["code"]}`

// ptcSystemPreamble documents the stateless-environment contract every
// execute_code invocation runs under: no state survives between calls
// except what the code explicitly returns.
const ptcSystemPreamble = "You may write Python code that calls the tools below as ordinary functions. " +
	"Each execute_code call runs in a fresh, stateless environment: nothing " +
	"persists between calls except what your code prints or returns. Prefer " +
	"calling independent tools concurrently via asyncio.gather(...) rather " +
	"than sequentially awaiting each one."

// PrepareRequest transforms a copy of req in place: it
// replaces the code_execution server tool with the synthesized execute_code
// tool, keeps only the direct-allowed subset of PTC-callable tools (with
// allowed_callers stripped), appends the PTC system prompt, and scrubs
// internal (non-direct) tool-use/tool-result pairs out of the message
// history before it is ever sent to the backend.
func PrepareRequest(req *protocol.Request) (*protocol.Request, error) {
	prepared := *req
	partition := PartitionTools(req.Tools)

	tools := make([]protocol.ToolDefinition, 0, len(partition.DirectTools)+len(partition.PTCCallableTools)+1)
	tools = append(tools, partition.DirectTools...)
	for _, t := range partition.PTCCallableTools {
		if !t.AllowsCaller(protocol.CallerDirect) {
			continue
		}
		t.AllowedCallers = nil
		tools = append(tools, t)
	}
	if !hasExecuteCodeTool(tools) {
		tools = append(tools, synthesizeExecuteCodeTool(partition.PTCCallableTools))
	}
	prepared.Tools = tools

	system, err := req.SystemEntries()
	if err != nil {
		return nil, fmt.Errorf("ptc: decode system: %w", err)
	}
	system = append(system, protocol.SystemEntry{Text: ptcSystemPreamble + "\n\n" + toolCatalogText(partition.PTCCallableTools)})
	systemRaw, err := json.Marshal(system)
	if err != nil {
		return nil, err
	}
	prepared.System = systemRaw

	messages, err := filterInternalToolPairs(req.Messages)
	if err != nil {
		return nil, err
	}
	prepared.Messages = messages

	return &prepared, nil
}

func hasExecuteCodeTool(tools []protocol.ToolDefinition) bool {
	for _, t := range tools {
		if t.Name == protocol.ExecuteCodeToolName {
			return true
		}
	}
	return false
}

// synthesizeExecuteCodeTool builds the execute_code tool definition, its
// description enumerating every PTC-callable tool's name, description, and
// JSON schema regardless of whether that tool is also direct-callable,
// since the sandbox invokes the full PTC-callable set directly.
func synthesizeExecuteCodeTool(callable []protocol.ToolDefinition) protocol.ToolDefinition {
	return protocol.ToolDefinition{
		Name:        protocol.ExecuteCodeToolName,
		Description: "Execute Python code in a sandboxed, stateless environment. " + toolCatalogText(callable),
		InputSchema: json.RawMessage(executeCodeSchema),
	}
}

func toolCatalogText(callable []protocol.ToolDefinition) string {
	if len(callable) == 0 {
		return "No callable tools are available in this environment."
	}
	var b strings.Builder
	b.WriteString("Available functions:\n")
	for _, t := range callable {
		fmt.Fprintf(&b, "- %s(%s): %s\n", t.Name, string(t.InputSchema), t.Description)
	}
	return b.String()
}

// filterInternalToolPairs drops tool_use/tool_result blocks whose caller is
// non-direct (internal to a prior PTC code run) and strips the caller field
// from every remaining tool_use block, since caller must never reach the
// backend.
func filterInternalToolPairs(msgs []protocol.Message) ([]protocol.Message, error) {
	internal := make(map[string]bool)
	decoded := make([]protocol.ContentBlocks, len(msgs))
	for i, m := range msgs {
		blocks, err := m.Blocks()
		if err != nil {
			return nil, fmt.Errorf("ptc: decode message content: %w", err)
		}
		decoded[i] = blocks
		for _, b := range blocks {
			if tu, ok := b.(protocol.ToolUseBlock); ok && tu.Caller != nil && tu.Caller.Type != protocol.CallerDirect {
				internal[tu.ID] = true
			}
		}
	}

	out := make([]protocol.Message, 0, len(msgs))
	for i, m := range msgs {
		blocks := decoded[i]
		filtered := make(protocol.ContentBlocks, 0, len(blocks))
		for _, b := range blocks {
			switch v := b.(type) {
			case protocol.ToolUseBlock:
				if internal[v.ID] {
					continue
				}
				v.Caller = nil
				filtered = append(filtered, v)
			case protocol.ToolResultBlock:
				if internal[v.ToolUseID] {
					continue
				}
				filtered = append(filtered, v)
			default:
				filtered = append(filtered, b)
			}
		}
		if len(filtered) == 0 {
			// Dropping every block would send an empty message; drop the
			// message itself instead.
			continue
		}
		nm, err := protocol.NewMessage(m.Role, filtered)
		if err != nil {
			return nil, err
		}
		out = append(out, nm)
	}
	return out, nil
}
