package convert

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/bedrock-gateway/internal/protocol"
)

func userMsg(text string) protocol.Message {
	raw, _ := json.Marshal(text)
	return protocol.Message{Role: "user", Content: raw}
}

func baseRequest() *protocol.Request {
	return &protocol.Request{
		Model:     "claude-sonnet-4",
		MaxTokens: 256,
		Messages:  []protocol.Message{userMsg("hello")},
	}
}

func TestModelResolverOrder(t *testing.T) {
	r := ModelResolver{
		PerKeyOverride: map[string]string{"claude-sonnet-4": "override-id"},
		Defaults:       map[string]string{"claude-sonnet-4": "default-id"},
	}
	assert.Equal(t, "override-id", r.Resolve("claude-sonnet-4"))

	r2 := ModelResolver{Defaults: map[string]string{"claude-sonnet-4": "default-id"}}
	assert.Equal(t, "default-id", r2.Resolve("claude-sonnet-4"))

	r3 := ModelResolver{}
	assert.Equal(t, "claude-sonnet-4", r3.Resolve("claude-sonnet-4"))
}

func TestBuildBackendRequestRequiresModelAndMessages(t *testing.T) {
	_, err := BuildBackendRequest(context.Background(), &protocol.Request{}, ModelResolver{}, protocol.BetaTables{})
	require.Error(t, err)

	req := &protocol.Request{Model: "claude-sonnet-4"}
	_, err = BuildBackendRequest(context.Background(), req, ModelResolver{}, protocol.BetaTables{})
	require.Error(t, err)
}

func TestBuildBackendRequestDefaultsToConverse(t *testing.T) {
	req := baseRequest()
	out, err := BuildBackendRequest(context.Background(), req, ModelResolver{}, protocol.BetaTables{})
	require.NoError(t, err)
	assert.Equal(t, ShapeConverse, out.Shape)
	assert.NotNil(t, out.Converse)
	assert.Equal(t, "claude-sonnet-4", out.ModelID)
}

func TestBuildBackendRequestNativeForAnthropicBetaRequiringInvokeModel(t *testing.T) {
	req := baseRequest()
	req.AnthropicBeta = []string{"ptc-beta"}
	tables := protocol.BetaTables{
		Passthrough:         map[string]bool{"ptc-beta": true},
		RequiresInvokeModel: map[string]bool{"ptc-beta": true},
	}
	out, err := BuildBackendRequest(context.Background(), req, ModelResolver{}, tables)
	require.NoError(t, err)
	assert.Equal(t, ShapeNative, out.Shape)
	assert.NotEmpty(t, out.NativeBody)
}

func TestBuildBackendRequestRejectsInvokeModelBetaOnNonAnthropicModel(t *testing.T) {
	req := baseRequest()
	req.Model = "amazon.nova-pro"
	req.AnthropicBeta = []string{"ptc-beta"}
	tables := protocol.BetaTables{
		Passthrough:         map[string]bool{"ptc-beta": true},
		RequiresInvokeModel: map[string]bool{"ptc-beta": true},
	}
	_, err := BuildBackendRequest(context.Background(), req, ModelResolver{}, tables)
	require.Error(t, err)
}

func TestPrepareToolsForBackendDropsCodeExecutionAndRenamesVersioned(t *testing.T) {
	tools := []protocol.ToolDefinition{
		{Type: protocol.ToolTypeCodeExecution, Name: "code_execution"},
		{Type: protocol.ToolTypeToolSearch, Name: "tool_search_tool_20251119"},
		{Name: "get_weather"},
	}
	out := prepareToolsForBackend(tools)
	require.Len(t, out, 2)
	names := []string{out[0].Name, out[1].Name}
	assert.Contains(t, names, "tool_search_tool")
	assert.Contains(t, names, "get_weather")
}

func TestValidateToolChoiceRejectsUnknownTool(t *testing.T) {
	tools := []protocol.ToolDefinition{{Name: "get_weather"}}
	err := validateToolChoice(&protocol.ToolChoice{Type: protocol.ToolChoiceTool, Name: "missing"}, tools)
	assert.Error(t, err)

	err = validateToolChoice(&protocol.ToolChoice{Type: protocol.ToolChoiceTool, Name: "get_weather"}, tools)
	assert.NoError(t, err)

	assert.NoError(t, validateToolChoice(nil, tools))
}

func TestStripCallersFromHistoryDropsInternalCallerMetadata(t *testing.T) {
	blocks := protocol.ContentBlocks{
		protocol.ToolUseBlock{ID: "tu_1", Name: "get_weather", Caller: &protocol.Caller{Type: protocol.CallerCodeExecution, ToolID: "srv_1"}},
	}
	raw, err := blocks.MarshalJSON()
	require.NoError(t, err)
	msgs := []protocol.Message{{Role: "assistant", Content: raw}}

	out, err := stripCallersFromHistory(msgs)
	require.NoError(t, err)
	require.Len(t, out, 1)

	decoded, err := out[0].Blocks()
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	tu, ok := decoded[0].(protocol.ToolUseBlock)
	require.True(t, ok)
	assert.Nil(t, tu.Caller)
}
