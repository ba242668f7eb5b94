package convert

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"goa.design/bedrock-gateway/internal/protocol"
)

// isNovaModel reports whether modelID names an Amazon Nova model, which
// rejects a cache point placed after the tool list (ported from
// features/model/bedrock/client.go's isNovaModel).
func isNovaModel(modelID string) bool {
	return strings.Contains(strings.ToLower(modelID), "amazon.nova-")
}

// buildConverseParts encodes req into the Converse-shape intermediate form.
func buildConverseParts(_ context.Context, req *protocol.Request, modelID string, backendBeta []string) (*ConverseParts, error) {
	history, err := stripCallersFromHistory(req.Messages)
	if err != nil {
		return nil, err
	}

	msgs, err := encodeMessages(history)
	if err != nil {
		return nil, err
	}

	system, err := encodeSystem(req)
	if err != nil {
		return nil, err
	}

	tools := prepareToolsForBackend(req.Tools)
	if err := validateToolChoice(req.ToolChoice, tools); err != nil {
		return nil, err
	}
	toolConfig, canonicalToProv, provToCanonical, err := encodeTools(tools, req.ToolChoice, modelID)
	if err != nil {
		return nil, err
	}

	parts := &ConverseParts{
		ModelID:                 modelID,
		Messages:                msgs,
		System:                  system,
		ToolConfig:              toolConfig,
		ToolNameCanonicalToProv: canonicalToProv,
		ToolNameProvToCanonical: provToCanonical,
		MaxTokens:               req.MaxTokens,
		Temperature:             req.Temperature,
		TopP:                    req.TopP,
		TopK:                    req.TopK,
		StopSequences:           req.StopSequences,
		Thinking:                req.Thinking,
		ServiceTier:             req.ServiceTier,
		AnthropicBeta:           backendBeta,
	}
	return parts, nil
}

func encodeSystem(req *protocol.Request) ([]brtypes.SystemContentBlock, error) {
	entries, err := req.SystemEntries()
	if err != nil {
		return nil, fmt.Errorf("convert: decode system: %w", err)
	}
	out := make([]brtypes.SystemContentBlock, 0, len(entries)+1)
	for _, e := range entries {
		out = append(out, &brtypes.SystemContentBlockMemberText{Value: e.Text})
		if e.Cache != nil {
			out = append(out, &brtypes.SystemContentBlockMemberCachePoint{
				Value: brtypes.CachePointBlock{Type: brtypes.CachePointTypeDefault},
			})
		}
	}
	return out, nil
}

// encodeMessages translates normalized messages into Converse Message
// values, grounded on features/model/bedrock/client.go's encodeMessages:
// each content block maps to one ContentBlock union member (a cached text
// block is followed by a sibling cache point, as in encodeSystem), and
// tool_result content is encoded via toDocument/lazy text wrapping.
func encodeMessages(msgs []protocol.Message) ([]brtypes.Message, error) {
	out := make([]brtypes.Message, 0, len(msgs))
	for _, m := range msgs {
		blocks, err := m.Blocks()
		if err != nil {
			return nil, fmt.Errorf("convert: decode message blocks: %w", err)
		}
		var role brtypes.ConversationRole
		switch m.Role {
		case "user":
			role = brtypes.ConversationRoleUser
		case "assistant":
			role = brtypes.ConversationRoleAssistant
		default:
			return nil, protocol.Invalid("unsupported message role %q", m.Role)
		}

		content := make([]brtypes.ContentBlock, 0, len(blocks))
		for _, b := range blocks {
			enc, err := encodeContentBlock(b)
			if err != nil {
				return nil, err
			}
			if enc != nil {
				content = append(content, enc)
			}
			if tb, ok := b.(protocol.TextBlock); ok && tb.Cache != nil {
				content = append(content, &brtypes.ContentBlockMemberCachePoint{
					Value: brtypes.CachePointBlock{Type: brtypes.CachePointTypeDefault},
				})
			}
		}
		if len(content) == 0 {
			continue
		}
		out = append(out, brtypes.Message{Role: role, Content: content})
	}
	return out, nil
}

func encodeContentBlock(b protocol.ContentBlock) (brtypes.ContentBlock, error) {
	switch v := b.(type) {
	case protocol.TextBlock:
		return &brtypes.ContentBlockMemberText{Value: v.Text}, nil
	case protocol.ThinkingBlock:
		return &brtypes.ContentBlockMemberReasoningContent{
			Value: &brtypes.ReasoningContentBlockMemberReasoningText{
				Value: brtypes.ReasoningTextBlock{Text: aws.String(v.Thinking), Signature: aws.String(v.Signature)},
			},
		}, nil
	case protocol.RedactedThinkingBlock:
		return &brtypes.ContentBlockMemberReasoningContent{
			Value: &brtypes.ReasoningContentBlockMemberRedactedContent{Value: []byte(v.Data)},
		}, nil
	case protocol.ToolUseBlock:
		doc, err := toDocument(v.Input)
		if err != nil {
			return nil, err
		}
		return &brtypes.ContentBlockMemberToolUse{
			Value: brtypes.ToolUseBlock{
				ToolUseId: aws.String(v.ID),
				Name:      aws.String(protocol.SanitizeToolName(v.Name)),
				Input:     doc,
			},
		}, nil
	case protocol.ToolResultBlock:
		return encodeToolResult(v)
	case protocol.ImageBlock:
		return encodeImage(v)
	case protocol.DocumentBlock:
		return encodeDocument(v)
	case protocol.ServerToolUseBlock, protocol.ServerToolResultBlock, protocol.CitationsBlock, protocol.CompactionBlock:
		// Internal echo blocks are stripped upstream by FilterServerToolBlocks;
		// any survivor here is dropped rather than forwarded to the backend.
		return nil, nil
	default:
		return nil, fmt.Errorf("convert: unsupported content block %T", b)
	}
}

func encodeToolResult(v protocol.ToolResultBlock) (brtypes.ContentBlock, error) {
	status := brtypes.ToolResultStatusSuccess
	if v.IsError {
		status = brtypes.ToolResultStatusError
	}
	var contents []brtypes.ToolResultContentBlock
	switch c := v.Content.(type) {
	case nil:
	case string:
		contents = append(contents, &brtypes.ToolResultContentBlockMemberText{Value: c})
	default:
		doc, err := lazyDocument(c)
		if err != nil {
			return nil, err
		}
		contents = append(contents, &brtypes.ToolResultContentBlockMemberJson{Value: doc})
	}
	return &brtypes.ContentBlockMemberToolResult{
		Value: brtypes.ToolResultBlock{
			ToolUseId: aws.String(v.ToolUseID),
			Content:   contents,
			Status:    status,
		},
	}, nil
}

func encodeImage(v protocol.ImageBlock) (brtypes.ContentBlock, error) {
	format, ok := imageFormat(v.Source.MediaType)
	if !ok {
		return nil, protocol.Invalid("unsupported image media_type %q", v.Source.MediaType)
	}
	bytes, err := decodeSourceBytes(v.Source.Type, v.Source.Data, v.Source.URL)
	if err != nil {
		return nil, err
	}
	return &brtypes.ContentBlockMemberImage{
		Value: brtypes.ImageBlock{
			Format: format,
			Source: &brtypes.ImageSourceMemberBytes{Value: bytes},
		},
	}, nil
}

func encodeDocument(v protocol.DocumentBlock) (brtypes.ContentBlock, error) {
	format, ok := documentFormat(v.Source.MediaType)
	if !ok {
		return nil, protocol.Invalid("unsupported document media_type %q", v.Source.MediaType)
	}
	bytes, err := decodeSourceBytes(v.Source.Type, v.Source.Data, v.Source.URL)
	if err != nil {
		return nil, err
	}
	name := v.Title
	if name == "" {
		name = "document"
	}
	return &brtypes.ContentBlockMemberDocument{
		Value: brtypes.DocumentBlock{
			Format: format,
			Name:   aws.String(name),
			Source: &brtypes.DocumentSourceMemberBytes{Value: bytes},
		},
	}, nil
}

func imageFormat(mediaType string) (brtypes.ImageFormat, bool) {
	switch mediaType {
	case "image/png":
		return brtypes.ImageFormatPng, true
	case "image/jpeg":
		return brtypes.ImageFormatJpeg, true
	case "image/gif":
		return brtypes.ImageFormatGif, true
	case "image/webp":
		return brtypes.ImageFormatWebp, true
	default:
		return "", false
	}
}

func documentFormat(mediaType string) (brtypes.DocumentFormat, bool) {
	switch mediaType {
	case "application/pdf":
		return brtypes.DocumentFormatPdf, true
	case "text/plain":
		return brtypes.DocumentFormatTxt, true
	case "text/csv":
		return brtypes.DocumentFormatCsv, true
	case "text/markdown":
		return brtypes.DocumentFormatMd, true
	default:
		return "", false
	}
}

func decodeSourceBytes(sourceType, data, url string) ([]byte, error) {
	switch sourceType {
	case "base64":
		return decodeBase64(data)
	case "url":
		return nil, protocol.Invalid("url-sourced content is not supported; fetch and inline base64 data instead")
	default:
		return nil, protocol.Invalid("unsupported source type %q", sourceType)
	}
}

// encodeTools translates tool definitions and tool_choice into a Converse
// ToolConfiguration, applying SanitizeToolName and the Nova cache-placement
// restriction ported from features/model/bedrock/client.go's encodeTools.
func encodeTools(tools []protocol.ToolDefinition, choice *protocol.ToolChoice, modelID string) (*brtypes.ToolConfiguration, map[string]string, map[string]string, error) {
	if len(tools) == 0 {
		return nil, nil, nil, nil
	}
	canonicalToProv := make(map[string]string, len(tools))
	provToCanonical := make(map[string]string, len(tools))
	specs := make([]brtypes.Tool, 0, len(tools))
	var cacheAfterTools bool

	for _, t := range tools {
		provName := protocol.SanitizeToolName(t.Name)
		canonicalToProv[t.Name] = provName
		provToCanonical[provName] = t.Name

		schema, err := toDocument(t.InputSchema)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("convert: tool %q input_schema: %w", t.Name, err)
		}
		specs = append(specs, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(provName),
				Description: aws.String(t.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: schema},
			},
		})
		if t.Cache != nil {
			cacheAfterTools = true
		}
	}

	if cacheAfterTools && !isNovaModel(modelID) {
		specs = append(specs, &brtypes.ToolMemberCachePoint{
			Value: brtypes.CachePointBlock{Type: brtypes.CachePointTypeDefault},
		})
	}

	cfg := &brtypes.ToolConfiguration{Tools: specs}
	if choice != nil {
		tc, err := encodeToolChoice(*choice, canonicalToProv)
		if err != nil {
			return nil, nil, nil, err
		}
		cfg.ToolChoice = tc
	}
	return cfg, canonicalToProv, provToCanonical, nil
}

func encodeToolChoice(choice protocol.ToolChoice, canonicalToProv map[string]string) (brtypes.ToolChoice, error) {
	switch choice.Type {
	case protocol.ToolChoiceAuto, protocol.ToolChoiceNone, "":
		return &brtypes.ToolChoiceMemberAuto{}, nil
	case protocol.ToolChoiceAny:
		return &brtypes.ToolChoiceMemberAny{}, nil
	case protocol.ToolChoiceTool:
		name, ok := canonicalToProv[choice.Name]
		if !ok {
			return nil, protocol.Invalid("tool_choice references unknown tool %q", choice.Name)
		}
		return &brtypes.ToolChoiceMemberTool{Value: brtypes.SpecificToolChoice{Name: aws.String(name)}}, nil
	default:
		return nil, protocol.Invalid("unsupported tool_choice type %q", choice.Type)
	}
}

// toDocument converts raw JSON into a smithy document.Interface, as Converse
// tool inputs and schemas require.
func toDocument(raw json.RawMessage) (document.Interface, error) {
	if len(raw) == 0 {
		return lazyDocument(map[string]any{})
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("convert: decode json document: %w", err)
	}
	return lazyDocument(v)
}

// lazyDocument wraps an already-decoded Go value as a smithy document,
// deferring marshaling to the SDK's own document codec.
func lazyDocument(v any) (document.Interface, error) {
	return document.NewLazyDocument(&v), nil
}
