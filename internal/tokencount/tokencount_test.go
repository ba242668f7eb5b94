package tokencount

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/bedrock-gateway/internal/protocol"
)

func req(text string) *protocol.Request {
	return &protocol.Request{
		Messages: []protocol.Message{
			{Role: "user", Content: json.RawMessage(`"` + text + `"`)},
		},
	}
}

func TestEstimateMonotone(t *testing.T) {
	base, err := Estimate(req("hello"))
	require.NoError(t, err)
	more, err := Estimate(req("hello world"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, more, base)
}

func TestEstimateMinimumOne(t *testing.T) {
	n, err := Estimate(&protocol.Request{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEstimateCJKCountsFullToken(t *testing.T) {
	latin, err := Estimate(req("aaaa"))
	require.NoError(t, err)
	cjk, err := Estimate(req("漢字漢字"))
	require.NoError(t, err)
	assert.Greater(t, cjk, latin)
}

func TestEstimateImageAndDocumentBlocks(t *testing.T) {
	blocks := protocol.ContentBlocks{
		protocol.ImageBlock{},
		protocol.DocumentBlock{},
	}
	raw, err := blocks.MarshalJSON()
	require.NoError(t, err)
	r := &protocol.Request{
		Messages: []protocol.Message{{Role: "user", Content: raw}},
	}
	n, err := Estimate(r)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 335) // 85 + 250, before framing overhead
}
