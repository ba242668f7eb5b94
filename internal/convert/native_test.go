package convert

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/bedrock-gateway/internal/protocol"
)

func TestBuildNativeBodyRequiresPositiveMaxTokens(t *testing.T) {
	req := baseRequest()
	req.MaxTokens = 0
	_, _, err := buildNativeBody(req, "claude-sonnet-4", nil)
	require.Error(t, err)
}

func TestBuildNativeBodySplicesVersionAndBeta(t *testing.T) {
	req := baseRequest()
	body, _, err := buildNativeBody(req, "claude-sonnet-4", []string{"some-beta"})
	require.NoError(t, err)

	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Contains(t, m, "anthropic_version")
	assert.Contains(t, m, "anthropic_beta")
	assert.NotContains(t, m, "model")

	var version string
	require.NoError(t, json.Unmarshal(m["anthropic_version"], &version))
	assert.Equal(t, "bedrock-2023-05-31", version)
}

func TestBuildNativeBodyRejectsThinkingBudgetBelowMinimum(t *testing.T) {
	req := baseRequest()
	req.Thinking = &protocol.ThinkingConfig{Type: "enabled", BudgetTokens: 100}
	_, _, err := buildNativeBody(req, "claude-sonnet-4", nil)
	require.Error(t, err)
}

func TestBuildNativeBodyRejectsThinkingBudgetNotBelowMaxTokens(t *testing.T) {
	req := baseRequest()
	req.MaxTokens = 2000
	req.Thinking = &protocol.ThinkingConfig{Type: "enabled", BudgetTokens: 2000}
	_, _, err := buildNativeBody(req, "claude-sonnet-4", nil)
	require.Error(t, err)
}

func TestEncodeNativeToolsDropsCodeExecutionMarker(t *testing.T) {
	tools := []protocol.ToolDefinition{
		{Type: protocol.ToolTypeCodeExecution, Name: "code_execution"},
		{Name: "get_weather", InputSchema: json.RawMessage(`{"type":"object"}`)},
	}
	out, canonicalToProv, err := encodeNativeTools(tools)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Contains(t, canonicalToProv, "get_weather")
}

func TestNativeToolResultTextHandlesStringAndStructured(t *testing.T) {
	assert.Equal(t, "", nativeToolResultText(nil))
	assert.Equal(t, "plain", nativeToolResultText("plain"))
	assert.JSONEq(t, `{"a":1}`, nativeToolResultText(map[string]any{"a": 1}))
}

func TestEncodeNativeToolChoice(t *testing.T) {
	canonicalToProv := map[string]string{"get_weather": "get_weather"}

	_, err := encodeNativeToolChoice(protocol.ToolChoice{Type: protocol.ToolChoiceTool, Name: "missing"}, canonicalToProv)
	require.Error(t, err)

	tc, err := encodeNativeToolChoice(protocol.ToolChoice{Type: protocol.ToolChoiceTool, Name: "get_weather"}, canonicalToProv)
	require.NoError(t, err)
	require.NotNil(t, tc.OfTool)
}
