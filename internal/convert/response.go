package convert

import (
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/google/uuid"

	"goa.design/bedrock-gateway/internal/protocol"
)

// ConverseResponseToProtocol translates a non-streaming Converse response
// into the Anthropic-shaped Response envelope, mirroring
// features/model/bedrock/client.go's translateResponse: one output content
// block maps to exactly one protocol.ContentBlock, stop reasons are mapped
// via stopReasonFromConverse, and the provider-facing tool name is reverse
// mapped back to the name the client originally supplied.
func ConverseResponseToProtocol(out *bedrockruntime.ConverseOutput, modelID string, provToCanonical map[string]string) (*protocol.Response, error) {
	if out == nil {
		return nil, fmt.Errorf("convert: converse output is nil")
	}
	msgMember, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return nil, fmt.Errorf("convert: unexpected converse output type %T", out.Output)
	}

	blocks := make(protocol.ContentBlocks, 0, len(msgMember.Value.Content))
	for _, c := range msgMember.Value.Content {
		block, err := decodeConverseBlock(c, provToCanonical)
		if err != nil {
			return nil, err
		}
		if block != nil {
			blocks = append(blocks, block)
		}
	}

	resp := &protocol.Response{
		ID:         "msg_" + uuid.NewString(),
		Type:       "message",
		Role:       "assistant",
		Model:      modelID,
		Content:    blocks,
		StopReason: stopReasonFromConverse(out.StopReason),
		Usage:      usageFromConverse(out.Usage),
	}
	return resp, nil
}

func decodeConverseBlock(c brtypes.ContentBlock, provToCanonical map[string]string) (protocol.ContentBlock, error) {
	switch v := c.(type) {
	case *brtypes.ContentBlockMemberText:
		return protocol.TextBlock{Text: v.Value}, nil
	case *brtypes.ContentBlockMemberToolUse:
		input, err := decodeDocument(v.Value.Input)
		if err != nil {
			return nil, err
		}
		name := derefStr(v.Value.Name)
		if canonical, ok := provToCanonical[name]; ok {
			name = canonical
		}
		return protocol.ToolUseBlock{ID: derefStr(v.Value.ToolUseId), Name: name, Input: input}, nil
	case *brtypes.ContentBlockMemberReasoningContent:
		switch r := v.Value.(type) {
		case *brtypes.ReasoningContentBlockMemberReasoningText:
			return protocol.ThinkingBlock{Thinking: derefStr(r.Value.Text), Signature: derefStr(r.Value.Signature)}, nil
		case *brtypes.ReasoningContentBlockMemberRedactedContent:
			return protocol.RedactedThinkingBlock{Data: string(r.Value)}, nil
		default:
			return nil, nil
		}
	case *brtypes.ContentBlockMemberCachePoint:
		return nil, nil
	default:
		return nil, fmt.Errorf("convert: unsupported converse content block %T", c)
	}
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// decodeDocument converts a smithy document back into raw JSON bytes, the
// reverse of toDocument, ported from features/model/bedrock/client.go's
// decodeDocument.
func decodeDocument(doc document.Interface) (json.RawMessage, error) {
	if doc == nil {
		return json.RawMessage(`{}`), nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil {
		return nil, fmt.Errorf("convert: decode tool input document: %w", err)
	}
	if len(data) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return json.RawMessage(data), nil
}

func stopReasonFromConverse(r brtypes.StopReason) protocol.StopReason {
	switch r {
	case brtypes.StopReasonEndTurn:
		return protocol.StopReasonEndTurn
	case brtypes.StopReasonMaxTokens:
		return protocol.StopReasonMaxTokens
	case brtypes.StopReasonStopSequence:
		return protocol.StopReasonStopSequence
	case brtypes.StopReasonToolUse:
		return protocol.StopReasonToolUse
	default:
		return protocol.StopReasonEndTurn
	}
}

func usageFromConverse(u *brtypes.TokenUsage) protocol.Usage {
	if u == nil {
		return protocol.Usage{}
	}
	usage := protocol.Usage{
		InputTokens:  int(deref32(u.InputTokens)),
		OutputTokens: int(deref32(u.OutputTokens)),
	}
	if u.CacheReadInputTokens != nil {
		v := int(*u.CacheReadInputTokens)
		usage.CacheReadInputTokens = &v
	}
	if u.CacheWriteInputTokens != nil {
		v := int(*u.CacheWriteInputTokens)
		usage.CacheCreationInputTokens = &v
	}
	return usage
}

func deref32(v *int32) int32 {
	if v == nil {
		return 0
	}
	return *v
}

// NativeResponseToProtocol decodes an InvokeModel native-shape response body
// (already Anthropic-Messages-shaped JSON) and reverse-maps tool names back
// to their client-supplied canonical form.
func NativeResponseToProtocol(body []byte, provToCanonical map[string]string) (*protocol.Response, error) {
	var wire struct {
		ID           string              `json:"id"`
		Type         string              `json:"type"`
		Role         string              `json:"role"`
		Model        string              `json:"model"`
		Content      protocol.ContentBlocks `json:"content"`
		StopReason   protocol.StopReason `json:"stop_reason"`
		StopSequence *string             `json:"stop_sequence"`
		Usage        protocol.Usage      `json:"usage"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("convert: decode native response: %w", err)
	}
	content := make(protocol.ContentBlocks, 0, len(wire.Content))
	for _, b := range wire.Content {
		if tu, ok := b.(protocol.ToolUseBlock); ok {
			if canonical, ok := provToCanonical[tu.Name]; ok {
				tu.Name = canonical
			}
			content = append(content, tu)
			continue
		}
		content = append(content, b)
	}
	return &protocol.Response{
		ID:           wire.ID,
		Type:         "message",
		Role:         "assistant",
		Model:        wire.Model,
		Content:      content,
		StopReason:   wire.StopReason,
		StopSequence: wire.StopSequence,
		Usage:        wire.Usage,
	}, nil
}
