package convert

import (
	"fmt"
	"strings"

	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/google/uuid"

	"goa.design/bedrock-gateway/internal/protocol"
)

// ConverseStreamConverter turns Bedrock ConverseStream events into Anthropic
// Messages SSE events, one Handle call per event off the channel the
// bedrockruntime SDK already delivers (internal/backend forwards that
// channel directly rather than polling, per the redesign decision recorded
// in SPEC_FULL.md). It is grounded on features/model/bedrock/stream.go's
// chunkProcessor, adapted to emit wire SSE payloads instead of internal
// planner chunks.
type ConverseStreamConverter struct {
	modelID         string
	provToCanonical map[string]string

	messageID string
	usage     protocol.Usage

	toolBlocks      map[int]*toolState
	reasoningBlocks map[int]*reasoningState
}

type toolState struct {
	id   string
	name string
}

type reasoningState struct {
	signatureSent bool
}

// NewConverseStreamConverter constructs a converter for one backend stream.
func NewConverseStreamConverter(modelID string, provToCanonical map[string]string) *ConverseStreamConverter {
	return &ConverseStreamConverter{
		modelID:         modelID,
		provToCanonical: provToCanonical,
		messageID:       "msg_" + uuid.NewString(),
		toolBlocks:      make(map[int]*toolState),
		reasoningBlocks: make(map[int]*reasoningState),
	}
}

// Handle converts one Converse stream event into zero or more SSE events.
func (c *ConverseStreamConverter) Handle(event any) ([]protocol.SSEEvent, error) {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberMessageStart:
		return []protocol.SSEEvent{{
			Event: "message_start",
			Data: protocol.MessageStartPayload{
				Type: "message_start",
				Message: protocol.Response{
					ID:      c.messageID,
					Type:    "message",
					Role:    "assistant",
					Model:   c.modelID,
					Content: protocol.ContentBlocks{},
					Usage:   protocol.Usage{},
				},
			},
		}}, nil

	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		return c.handleBlockStart(ev)

	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		return c.handleBlockDelta(ev)

	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return nil, err
		}
		delete(c.toolBlocks, idx)
		delete(c.reasoningBlocks, idx)
		return []protocol.SSEEvent{{
			Event: "content_block_stop",
			Data:  protocol.ContentBlockStopPayload{Type: "content_block_stop", Index: idx},
		}}, nil

	case *brtypes.ConverseStreamOutputMemberMessageStop:
		payload := protocol.MessageDeltaPayload{Type: "message_delta", Usage: c.usage}
		payload.Delta.StopReason = stopReasonFromConverse(ev.Value.StopReason)
		return []protocol.SSEEvent{
			{Event: "message_delta", Data: payload},
			{Event: "message_stop", Data: protocol.MessageStopPayload{Type: "message_stop"}},
		}, nil

	case *brtypes.ConverseStreamOutputMemberMetadata:
		if ev.Value.Usage != nil {
			c.usage = usageFromConverse(ev.Value.Usage)
		}
		return nil, nil

	default:
		return nil, nil
	}
}

func (c *ConverseStreamConverter) handleBlockStart(ev *brtypes.ConverseStreamOutputMemberContentBlockStart) ([]protocol.SSEEvent, error) {
	idx, err := contentIndex(ev.Value.ContentBlockIndex)
	if err != nil {
		return nil, err
	}
	start := ev.Value.Start
	if start == nil {
		return []protocol.SSEEvent{{
			Event: "content_block_start",
			Data:  protocol.ContentBlockStartPayload{Type: "content_block_start", Index: idx, ContentBlock: protocol.TextBlock{}},
		}}, nil
	}
	toolUse, ok := start.(*brtypes.ContentBlockStartMemberToolUse)
	if !ok {
		return []protocol.SSEEvent{{
			Event: "content_block_start",
			Data:  protocol.ContentBlockStartPayload{Type: "content_block_start", Index: idx, ContentBlock: protocol.TextBlock{}},
		}}, nil
	}
	if toolUse.Value.ToolUseId == nil || *toolUse.Value.ToolUseId == "" {
		return nil, fmt.Errorf("convert: tool_use content_block_start missing tool_use_id")
	}
	if toolUse.Value.Name == nil || *toolUse.Value.Name == "" {
		return nil, fmt.Errorf("convert: tool_use content_block_start missing name")
	}
	raw := normalizeToolName(*toolUse.Value.Name)
	name := raw
	if canonical, ok := c.provToCanonical[raw]; ok {
		name = canonical
	}
	ts := &toolState{id: *toolUse.Value.ToolUseId, name: name}
	c.toolBlocks[idx] = ts
	return []protocol.SSEEvent{{
		Event: "content_block_start",
		Data: protocol.ContentBlockStartPayload{
			Type:  "content_block_start",
			Index: idx,
			ContentBlock: protocol.ToolUseBlock{
				ID:    ts.id,
				Name:  ts.name,
				Input: []byte("{}"),
			},
		},
	}}, nil
}

func (c *ConverseStreamConverter) handleBlockDelta(ev *brtypes.ConverseStreamOutputMemberContentBlockDelta) ([]protocol.SSEEvent, error) {
	idx, err := contentIndex(ev.Value.ContentBlockIndex)
	if err != nil {
		return nil, err
	}
	switch delta := ev.Value.Delta.(type) {
	case *brtypes.ContentBlockDeltaMemberText:
		if delta.Value == "" {
			return nil, nil
		}
		return []protocol.SSEEvent{{
			Event: "content_block_delta",
			Data: protocol.ContentBlockDeltaPayload{
				Type: "content_block_delta", Index: idx,
				Delta: protocol.TextDelta{Type: "text_delta", Text: delta.Value},
			},
		}}, nil

	case *brtypes.ContentBlockDeltaMemberToolUse:
		if delta.Value.Input == nil {
			return nil, nil
		}
		ts := c.toolBlocks[idx]
		if ts == nil {
			return nil, fmt.Errorf("convert: tool_use delta at index %d with no content_block_start", idx)
		}
		return []protocol.SSEEvent{{
			Event: "content_block_delta",
			Data: protocol.ContentBlockDeltaPayload{
				Type: "content_block_delta", Index: idx,
				Delta: protocol.InputJSONDelta{Type: "input_json_delta", PartialJSON: *delta.Value.Input},
			},
		}}, nil

	case *brtypes.ContentBlockDeltaMemberReasoningContent:
		return c.handleReasoningDelta(idx, delta.Value)

	case *brtypes.ContentBlockDeltaMemberCitation:
		loc := translateCitationLocation(delta.Value.Location)
		citation := protocol.CitationsBlock{Location: loc, Cited: translateCitationSourceContent(delta.Value.SourceContent)}
		if delta.Value.Title != nil {
			citation.Title = *delta.Value.Title
		}
		if delta.Value.Source != nil {
			citation.Source = *delta.Value.Source
		}
		return []protocol.SSEEvent{{
			Event: "content_block_delta",
			Data: protocol.ContentBlockDeltaPayload{
				Type: "content_block_delta", Index: idx,
				Delta: protocol.CitationsDelta{Type: "citations_delta", Citation: citation},
			},
		}}, nil

	default:
		return nil, nil
	}
}

func (c *ConverseStreamConverter) handleReasoningDelta(idx int, v brtypes.ReasoningContentBlockDelta) ([]protocol.SSEEvent, error) {
	switch r := v.(type) {
	case *brtypes.ReasoningContentBlockDeltaMemberText:
		if r.Value == "" {
			return nil, nil
		}
		return []protocol.SSEEvent{{
			Event: "content_block_delta",
			Data: protocol.ContentBlockDeltaPayload{
				Type: "content_block_delta", Index: idx,
				Delta: protocol.ThinkingDelta{Type: "thinking_delta", Thinking: r.Value},
			},
		}}, nil
	case *brtypes.ReasoningContentBlockDeltaMemberSignature:
		if r.Value == "" {
			return nil, nil
		}
		rs := c.reasoningBlocks[idx]
		if rs == nil {
			rs = &reasoningState{}
			c.reasoningBlocks[idx] = rs
		}
		rs.signatureSent = true
		return []protocol.SSEEvent{{
			Event: "content_block_delta",
			Data: protocol.ContentBlockDeltaPayload{
				Type: "content_block_delta", Index: idx,
				Delta: protocol.SignatureDelta{Type: "signature_delta", Signature: r.Value},
			},
		}}, nil
	default:
		return nil, nil
	}
}

func translateCitationLocation(loc brtypes.CitationLocation) protocol.CitationLocation {
	switch v := loc.(type) {
	case *brtypes.CitationLocationMemberDocumentChar:
		return protocol.CitationLocation{DocumentIndex: int32Val(v.Value.DocumentIndex), Start: int32Val(v.Value.Start), End: int32Val(v.Value.End), Kind: "char"}
	case *brtypes.CitationLocationMemberDocumentChunk:
		return protocol.CitationLocation{DocumentIndex: int32Val(v.Value.DocumentIndex), Start: int32Val(v.Value.Start), End: int32Val(v.Value.End), Kind: "chunk"}
	case *brtypes.CitationLocationMemberDocumentPage:
		return protocol.CitationLocation{DocumentIndex: int32Val(v.Value.DocumentIndex), Start: int32Val(v.Value.Start), End: int32Val(v.Value.End), Kind: "page"}
	default:
		return protocol.CitationLocation{}
	}
}

func translateCitationSourceContent(contents []brtypes.CitationSourceContentDelta) []string {
	if len(contents) == 0 {
		return nil
	}
	out := make([]string, 0, len(contents))
	for _, c := range contents {
		if c.Text != nil && *c.Text != "" {
			out = append(out, *c.Text)
		}
	}
	return out
}

func int32Val(p *int32) int {
	if p == nil {
		return 0
	}
	return int(*p)
}

func contentIndex(idx *int32) (int, error) {
	if idx == nil {
		return 0, fmt.Errorf("convert: content block index missing")
	}
	return int(*idx), nil
}

// normalizeToolName strips Bedrock's internal $FUNCTIONS. prefix some
// model families emit on tool names (ported from
// features/model/bedrock/stream.go's normalizeToolName).
func normalizeToolName(name string) string {
	return strings.TrimPrefix(name, "$FUNCTIONS.")
}
