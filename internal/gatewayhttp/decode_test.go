package gatewayhttp

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/bedrock-gateway/internal/protocol"
)

func TestDecodeRequestParsesBodyAndHeadersAndRestoresBody(t *testing.T) {
	body := `{"model":"claude-sonnet-4","max_tokens":256,"messages":[{"role":"user","content":"hi"}]}`
	r := httptest.NewRequest("POST", "/v1/messages", strings.NewReader(body))
	r.Header.Set("anthropic-beta", "code-execution-2025-08-25, other-beta")
	r.Header.Set("X-Gateway-Container-Id", " cnt_123 ")

	req, err := decodeRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4", req.Model)
	assert.Equal(t, []string{"code-execution-2025-08-25", "other-beta"}, req.AnthropicBeta)
	assert.Equal(t, "cnt_123", req.ContainerID)

	replay, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(replay))
}

func TestDecodeRequestRejectsMalformedJSON(t *testing.T) {
	r := httptest.NewRequest("POST", "/v1/messages", strings.NewReader(`{not json`))
	_, err := decodeRequest(r)
	assert.Error(t, err)
}

func TestDecodeRequestRejectsInvalidToolInputSchema(t *testing.T) {
	body := `{"model":"claude-sonnet-4","max_tokens":256,"messages":[{"role":"user","content":"hi"}],
		"tools":[{"name":"broken","input_schema":{"type":123}}]}`
	r := httptest.NewRequest("POST", "/v1/messages", strings.NewReader(body))

	_, err := decodeRequest(r)
	assert.Error(t, err)
}

func TestDecodeRequestAcceptsValidToolInputSchema(t *testing.T) {
	body := `{"model":"claude-sonnet-4","max_tokens":256,"messages":[{"role":"user","content":"hi"}],
		"tools":[{"name":"get_weather","input_schema":{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}}]}`
	r := httptest.NewRequest("POST", "/v1/messages", strings.NewReader(body))

	req, err := decodeRequest(r)
	require.NoError(t, err)
	require.Len(t, req.Tools, 1)
}

func TestParseBetaHeaderSplitsTrimsAndDropsEmpty(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseBetaHeader(" a , b ,, "))
	assert.Nil(t, parseBetaHeader(""))
}

func TestDecodedRequestFromContextRoundTrips(t *testing.T) {
	req := &protocol.Request{Model: "claude-sonnet-4"}
	ctx := withDecodedRequest(context.Background(), req)

	got, ok := decodedRequestFromContext(ctx)
	require.True(t, ok)
	assert.Same(t, req, got)

	_, ok = decodedRequestFromContext(context.Background())
	assert.False(t, ok)
}
