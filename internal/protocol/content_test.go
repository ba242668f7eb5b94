package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentBlocksRoundTrip(t *testing.T) {
	blocks := ContentBlocks{
		ThinkingBlock{Thinking: "let me think", Signature: "sig"},
		TextBlock{Text: "hello"},
		ToolUseBlock{ID: "tu_1", Name: "get_item", Input: json.RawMessage(`{"id":1}`)},
	}
	raw, err := blocks.MarshalJSON()
	require.NoError(t, err)

	var decoded ContentBlocks
	require.NoError(t, decoded.UnmarshalJSON(raw))
	require.Len(t, decoded, 3)
	assert.Equal(t, "thinking", decoded[0].BlockType())
	assert.Equal(t, "text", decoded[1].BlockType())
	assert.Equal(t, "tool_use", decoded[2].BlockType())

	tu, ok := decoded[2].(ToolUseBlock)
	require.True(t, ok)
	assert.Equal(t, "get_item", tu.Name)
}

func TestContentBlocksUnmarshalUnknownType(t *testing.T) {
	var blocks ContentBlocks
	err := blocks.UnmarshalJSON([]byte(`[{"type":"mystery"}]`))
	assert.Error(t, err)
}

func TestReorderThinkingFirst(t *testing.T) {
	blocks := ContentBlocks{
		TextBlock{Text: "a"},
		ToolUseBlock{ID: "1", Name: "x"},
		ThinkingBlock{Thinking: "t"},
		RedactedThinkingBlock{Data: "r"},
	}
	out := ReorderThinkingFirst(blocks)
	require.Len(t, out, 4)
	assert.Equal(t, "thinking", out[0].BlockType())
	assert.Equal(t, "redacted_thinking", out[1].BlockType())
	assert.Equal(t, "text", out[2].BlockType())
	assert.Equal(t, "tool_use", out[3].BlockType())
}

func TestStripCallers(t *testing.T) {
	blocks := ContentBlocks{
		ToolUseBlock{ID: "1", Name: "x", Caller: &Caller{Type: CallerCodeExecution, ToolID: "srv_1"}},
	}
	out := StripCallers(blocks)
	tu := out[0].(ToolUseBlock)
	assert.Nil(t, tu.Caller)
}

func TestFilterServerToolBlocks(t *testing.T) {
	blocks := ContentBlocks{
		TextBlock{Text: "a"},
		ServerToolUseBlock{ID: "s1", Name: "code_execution"},
		ServerToolResultBlock{ToolUseID: "s1"},
		ToolUseBlock{ID: "t1", Name: "get_item"},
	}
	out := FilterServerToolBlocks(blocks)
	require.Len(t, out, 2)
	assert.Equal(t, "text", out[0].BlockType())
	assert.Equal(t, "tool_use", out[1].BlockType())
}

func TestMessageBlocksStringShorthand(t *testing.T) {
	m := Message{Role: "user", Content: json.RawMessage(`"hi there"`)}
	blocks, err := m.Blocks()
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	text, ok := blocks[0].(TextBlock)
	require.True(t, ok)
	assert.Equal(t, "hi there", text.Text)
}
