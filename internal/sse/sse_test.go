package sse

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/bedrock-gateway/internal/protocol"
)

func TestNewWriterSetsStreamingHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)
	require.NotNil(t, w)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
}

func TestWriterSendFramesEventAndData(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	err = w.Send(protocol.SSEEvent{Event: "message_stop", Data: protocol.MessageStopPayload{Type: "message_stop"}})
	require.NoError(t, err)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "event: message_stop\n"))
	assert.True(t, strings.Contains(body, `data: {"type":"message_stop"}`))
}

func TestPumpDrainsChannelUntilClosed(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	ch := make(chan protocol.SSEEvent, 2)
	ch <- protocol.SSEEvent{Event: "message_stop", Data: protocol.MessageStopPayload{Type: "message_stop"}}
	close(ch)

	err = Pump(w, ch)
	require.NoError(t, err)
	assert.Contains(t, rec.Body.String(), "message_stop")
}

func TestSynthesizeFromResponseEmitsFullEventSequence(t *testing.T) {
	resp := &protocol.Response{
		ID:         "msg_1",
		Type:       "message",
		Role:       "assistant",
		Model:      "claude-sonnet-4",
		StopReason: protocol.StopReasonEndTurn,
		Content:    protocol.ContentBlocks{protocol.TextBlock{Text: "hello"}},
	}

	var events []string
	for ev := range SynthesizeFromResponse(resp) {
		events = append(events, ev.Event)
	}

	require.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, events)
}

func TestSynthesizeFromResponseSkipsDeltaForEmptyTextBlock(t *testing.T) {
	resp := &protocol.Response{
		Content: protocol.ContentBlocks{protocol.TextBlock{Text: ""}},
	}

	var events []string
	for ev := range SynthesizeFromResponse(resp) {
		events = append(events, ev.Event)
	}

	assert.NotContains(t, events, "content_block_delta")
}
