package convert

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/bedrock-gateway/internal/protocol"
)

func TestIsNovaModel(t *testing.T) {
	assert.True(t, isNovaModel("amazon.nova-pro-v1:0"))
	assert.False(t, isNovaModel("anthropic.claude-sonnet-4"))
}

func TestBuildConversePartsEncodesSystemAndMessages(t *testing.T) {
	req := baseRequest()
	sysRaw, _ := json.Marshal("be concise")
	req.System = sysRaw

	parts, err := buildConverseParts(context.Background(), req, "anthropic.claude-sonnet-4", nil)
	require.NoError(t, err)
	require.Len(t, parts.System, 1)
	require.Len(t, parts.Messages, 1)
}

func TestEncodeToolsAssignsCachePointAfterTools(t *testing.T) {
	tools := []protocol.ToolDefinition{
		{Name: "get_weather", InputSchema: json.RawMessage(`{"type":"object"}`), Cache: &protocol.CacheControl{Type: "ephemeral"}},
	}
	cfg, canonicalToProv, _, err := encodeTools(tools, nil, "anthropic.claude-sonnet-4")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Contains(t, canonicalToProv, "get_weather")
	assert.Len(t, cfg.Tools, 2) // tool spec + cache point
}

func TestEncodeToolsSkipsCachePointForNovaModel(t *testing.T) {
	tools := []protocol.ToolDefinition{
		{Name: "get_weather", InputSchema: json.RawMessage(`{"type":"object"}`), Cache: &protocol.CacheControl{Type: "ephemeral"}},
	}
	cfg, _, _, err := encodeTools(tools, nil, "amazon.nova-pro-v1:0")
	require.NoError(t, err)
	assert.Len(t, cfg.Tools, 1)
}

func TestEncodeToolChoiceRejectsUnknownTool(t *testing.T) {
	_, err := encodeToolChoice(protocol.ToolChoice{Type: protocol.ToolChoiceTool, Name: "missing"}, map[string]string{})
	assert.Error(t, err)
}

func TestEncodeImageRejectsUnsupportedMediaType(t *testing.T) {
	_, err := encodeImage(protocol.ImageBlock{Source: protocol.ImageSource{Type: "base64", MediaType: "image/tiff", Data: "AAAA"}})
	assert.Error(t, err)
}

func TestDecodeSourceBytesRejectsURLSource(t *testing.T) {
	_, err := decodeSourceBytes("url", "", "https://example.com/doc.pdf")
	assert.Error(t, err)
}

func TestToDocumentHandlesEmptyAndPopulatedInput(t *testing.T) {
	doc, err := toDocument(nil)
	require.NoError(t, err)
	require.NotNil(t, doc)

	doc2, err := toDocument(json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	require.NotNil(t, doc2)
}
