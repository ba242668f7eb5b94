package sse

import "goa.design/bedrock-gateway/internal/protocol"

// SynthesizeFromResponse renders a complete, already-computed Response as
// the Anthropic SSE sequence a streaming client expects: message_start,
// one content_block_start/delta/stop triple per block in order, a single
// message_delta carrying the final stop_reason and usage, then message_stop.
// The orchestrator always calls the backend non-streaming internally, so
// every PTC turn — whether a WAITING_TOOL pause or a final IDLE answer — is
// rendered through this path when the client asked to stream.
func SynthesizeFromResponse(resp *protocol.Response) <-chan protocol.SSEEvent {
	ch := make(chan protocol.SSEEvent, len(resp.Content)*3+4)
	go func() {
		defer close(ch)

		start := *resp
		start.Content = nil
		ch <- protocol.SSEEvent{Event: "message_start", Data: protocol.MessageStartPayload{Type: "message_start", Message: start}}

		for i, block := range resp.Content {
			ch <- protocol.SSEEvent{Event: "content_block_start", Data: protocol.ContentBlockStartPayload{
				Type: "content_block_start", Index: i, ContentBlock: emptyVariant(block),
			}}
			for _, delta := range deltasFor(block) {
				ch <- protocol.SSEEvent{Event: "content_block_delta", Data: protocol.ContentBlockDeltaPayload{
					Type: "content_block_delta", Index: i, Delta: delta,
				}}
			}
			ch <- protocol.SSEEvent{Event: "content_block_stop", Data: protocol.ContentBlockStopPayload{Type: "content_block_stop", Index: i}}
		}

		deltaPayload := protocol.MessageDeltaPayload{Type: "message_delta", Usage: resp.Usage}
		deltaPayload.Delta.StopReason = resp.StopReason
		deltaPayload.Delta.StopSequence = resp.StopSequence
		ch <- protocol.SSEEvent{Event: "message_delta", Data: deltaPayload}

		ch <- protocol.SSEEvent{Event: "message_stop", Data: protocol.MessageStopPayload{Type: "message_stop"}}
	}()
	return ch
}

// emptyVariant returns block with its payload cleared to the empty starting
// value a content_block_start event carries, the content itself following
// in subsequent deltas.
func emptyVariant(block protocol.ContentBlock) protocol.ContentBlock {
	switch b := block.(type) {
	case protocol.TextBlock:
		b.Text = ""
		return b
	case protocol.ThinkingBlock:
		b.Thinking = ""
		return b
	case protocol.ToolUseBlock:
		b.Input = nil
		return b
	case protocol.ServerToolUseBlock:
		b.Input = nil
		return b
	default:
		return block
	}
}

// deltasFor renders block's full content as the one-shot delta sequence a
// real token-by-token stream would have spread across many events. Since
// the orchestrator already has the complete block in hand, each block
// yields exactly one delta carrying its entire content.
func deltasFor(block protocol.ContentBlock) []any {
	switch b := block.(type) {
	case protocol.TextBlock:
		if b.Text == "" {
			return nil
		}
		return []any{protocol.TextDelta{Type: "text_delta", Text: b.Text}}
	case protocol.ThinkingBlock:
		deltas := []any{}
		if b.Thinking != "" {
			deltas = append(deltas, protocol.ThinkingDelta{Type: "thinking_delta", Thinking: b.Thinking})
		}
		if b.Signature != "" {
			deltas = append(deltas, protocol.SignatureDelta{Type: "signature_delta", Signature: b.Signature})
		}
		return deltas
	case protocol.ToolUseBlock:
		if len(b.Input) == 0 {
			return nil
		}
		return []any{protocol.InputJSONDelta{Type: "input_json_delta", PartialJSON: string(b.Input)}}
	case protocol.ServerToolUseBlock:
		if len(b.Input) == 0 {
			return nil
		}
		return []any{protocol.InputJSONDelta{Type: "input_json_delta", PartialJSON: string(b.Input)}}
	default:
		return nil
	}
}
