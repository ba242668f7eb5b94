package ptc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"goa.design/bedrock-gateway/internal/protocol"
)

func TestIsPTCRequestRequiresEnabledBetaAndCodeExecutionTool(t *testing.T) {
	req := &protocol.Request{
		AnthropicBeta: []string{protocol.PTCBetaValue},
		Tools:         []protocol.ToolDefinition{{Type: protocol.ToolTypeCodeExecution}},
	}
	assert.True(t, IsPTCRequest(true, req))
	assert.False(t, IsPTCRequest(false, req))

	noBeta := &protocol.Request{Tools: req.Tools}
	assert.False(t, IsPTCRequest(true, noBeta))

	noTool := &protocol.Request{AnthropicBeta: []string{protocol.PTCBetaValue}}
	assert.False(t, IsPTCRequest(true, noTool))
}

func TestPartitionToolsClassifiesEachGroup(t *testing.T) {
	tools := []protocol.ToolDefinition{
		{Name: "code_execution", Type: protocol.ToolTypeCodeExecution},
		{Name: "get_weather", AllowedCallers: []string{protocol.CallerCodeExecution}},
		{Name: "search_docs"},
	}
	p := PartitionTools(tools)
	require := assert.New(t)
	require.Len(p.CodeExecutionTools, 1)
	require.Len(p.PTCCallableTools, 1)
	require.Len(p.DirectTools, 1)
	require.Equal("get_weather", p.PTCCallableTools[0].Name)
	require.Equal("search_docs", p.DirectTools[0].Name)
}

func TestPartitionToolsPrioritizesCodeExecutionOverCallerAllowance(t *testing.T) {
	tools := []protocol.ToolDefinition{
		{Name: "code_execution", Type: protocol.ToolTypeCodeExecution, AllowedCallers: []string{protocol.CallerCodeExecution}},
	}
	p := PartitionTools(tools)
	assert.Len(t, p.CodeExecutionTools, 1)
	assert.Len(t, p.PTCCallableTools, 0)
}
