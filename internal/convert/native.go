package convert

import (
	"encoding/json"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"goa.design/bedrock-gateway/internal/protocol"
)

// buildNativeBody constructs an anthropic-sdk-go sdk.MessageNewParams value
// the same way features/model/anthropic/client.go's prepareRequest does
// (NewUserMessage/NewAssistantMessage/NewTextBlock/NewToolUseBlock/
// NewToolResultBlock, ToolUnionParamOfTool, ThinkingConfigParamOfEnabled,
// ToolChoiceParamOfTool), then marshals it via the SDK's own MarshalJSON so
// the bytes can be sent as a Bedrock InvokeModel body. anthropic_version/anthropic_beta are spliced in afterward since
// Bedrock's InvokeModel body requires those top-level fields where the
// direct Anthropic API instead carries them out of band.
func buildNativeBody(req *protocol.Request, modelID string, backendBeta []string) ([]byte, map[string]string, error) {
	tools, canonicalToProv, err := encodeNativeTools(req.Tools)
	if err != nil {
		return nil, nil, err
	}
	if err := validateToolChoice(req.ToolChoice, prepareToolsForBackend(req.Tools)); err != nil {
		return nil, nil, err
	}
	provToCanonical := make(map[string]string, len(canonicalToProv))
	for canonical, prov := range canonicalToProv {
		provToCanonical[prov] = canonical
	}

	history, err := stripCallersFromHistory(req.Messages)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := encodeNativeMessages(history, canonicalToProv)
	if err != nil {
		return nil, nil, err
	}

	entries, err := req.SystemEntries()
	if err != nil {
		return nil, nil, fmt.Errorf("convert: decode system: %w", err)
	}
	system := make([]sdk.TextBlockParam, 0, len(entries))
	for _, e := range entries {
		system = append(system, sdk.TextBlockParam{Text: e.Text})
	}

	if req.MaxTokens <= 0 {
		return nil, nil, protocol.Invalid("max_tokens must be positive")
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(req.MaxTokens),
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = sdk.Float(*req.TopP)
	}
	if req.TopK != nil {
		params.TopK = sdk.Int(int64(*req.TopK))
	}
	if len(req.StopSequences) > 0 {
		params.StopSequences = req.StopSequences
	}
	if req.Thinking.Enabled() {
		if req.Thinking.BudgetTokens < 1024 {
			return nil, nil, protocol.Invalid("thinking budget_tokens %d must be >= 1024", req.Thinking.BudgetTokens)
		}
		if int64(req.Thinking.BudgetTokens) >= int64(req.MaxTokens) {
			return nil, nil, protocol.Invalid("thinking budget_tokens %d must be less than max_tokens %d", req.Thinking.BudgetTokens, req.MaxTokens)
		}
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(int64(req.Thinking.BudgetTokens))
	}
	if req.ToolChoice != nil {
		tc, err := encodeNativeToolChoice(*req.ToolChoice, canonicalToProv)
		if err != nil {
			return nil, nil, err
		}
		params.ToolChoice = tc
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, nil, fmt.Errorf("convert: marshal native message params: %w", err)
	}

	envelope, err := spliceNativeEnvelope(body, backendBeta)
	if err != nil {
		return nil, nil, err
	}
	return envelope, provToCanonical, nil
}

// spliceNativeEnvelope adds the anthropic_version/anthropic_beta fields
// InvokeModel's native body format requires on top of what
// sdk.MessageNewParams.MarshalJSON emits, and removes the "model" field
// which InvokeModel takes from the URL path rather than the body.
func spliceNativeEnvelope(body []byte, backendBeta []string) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("convert: decode native params json: %w", err)
	}
	delete(m, "model")
	versionJSON, _ := json.Marshal("bedrock-2023-05-31")
	m["anthropic_version"] = versionJSON
	if len(backendBeta) > 0 {
		betaJSON, err := json.Marshal(backendBeta)
		if err != nil {
			return nil, err
		}
		m["anthropic_beta"] = betaJSON
	}
	return json.Marshal(m)
}

func encodeNativeMessages(msgs []protocol.Message, canonicalToProv map[string]string) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks, err := m.Blocks()
		if err != nil {
			return nil, fmt.Errorf("convert: decode message blocks: %w", err)
		}
		content := make([]sdk.ContentBlockParamUnion, 0, len(blocks))
		for _, b := range blocks {
			enc, err := encodeNativeBlock(b, canonicalToProv)
			if err != nil {
				return nil, err
			}
			if enc != nil {
				content = append(content, *enc)
			}
		}
		if len(content) == 0 {
			continue
		}
		switch m.Role {
		case "user":
			out = append(out, sdk.NewUserMessage(content...))
		case "assistant":
			out = append(out, sdk.NewAssistantMessage(content...))
		default:
			return nil, protocol.Invalid("unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, protocol.Invalid("at least one user or assistant message is required")
	}
	return out, nil
}

func encodeNativeBlock(b protocol.ContentBlock, canonicalToProv map[string]string) (*sdk.ContentBlockParamUnion, error) {
	switch v := b.(type) {
	case protocol.TextBlock:
		block := sdk.NewTextBlock(v.Text)
		return &block, nil
	case protocol.ThinkingBlock:
		block := sdk.NewThinkingBlock(v.Signature, v.Thinking)
		return &block, nil
	case protocol.ToolUseBlock:
		var input any
		if len(v.Input) > 0 {
			if err := json.Unmarshal(v.Input, &input); err != nil {
				return nil, fmt.Errorf("convert: decode tool_use input: %w", err)
			}
		}
		name := canonicalToProv[v.Name]
		if name == "" {
			name = protocol.SanitizeToolName(v.Name)
		}
		block := sdk.NewToolUseBlock(v.ID, input, name)
		return &block, nil
	case protocol.ToolResultBlock:
		content := nativeToolResultText(v.Content)
		block := sdk.NewToolResultBlock(v.ToolUseID, content, v.IsError)
		return &block, nil
	case protocol.ImageBlock:
		if v.Source.Type != "base64" {
			return nil, protocol.Invalid("native-shape images require base64-encoded source data")
		}
		block := sdk.NewImageBlockBase64(v.Source.MediaType, v.Source.Data)
		return &block, nil
	case protocol.ServerToolUseBlock, protocol.ServerToolResultBlock, protocol.CitationsBlock, protocol.CompactionBlock, protocol.RedactedThinkingBlock, protocol.DocumentBlock:
		// Internal echo blocks and document content are not part of the
		// native-shape code path exercised by this gateway's PTC traffic;
		// they are dropped rather than guessed at.
		return nil, nil
	default:
		return nil, fmt.Errorf("convert: unsupported native content block %T", b)
	}
}

func nativeToolResultText(content any) string {
	switch c := content.(type) {
	case nil:
		return ""
	case string:
		return c
	default:
		data, err := json.Marshal(c)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func encodeNativeTools(tools []protocol.ToolDefinition) ([]sdk.ToolUnionParam, map[string]string, error) {
	filtered := prepareToolsForBackend(tools)
	if len(filtered) == 0 {
		return nil, nil, nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(filtered))
	canonicalToProv := make(map[string]string, len(filtered))
	for _, t := range filtered {
		provName := protocol.SanitizeToolName(t.Name)
		canonicalToProv[t.Name] = provName

		schema, err := nativeToolInputSchema(t.InputSchema)
		if err != nil {
			return nil, nil, fmt.Errorf("convert: tool %q input_schema: %w", t.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, provName)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(t.Description)
		}
		out = append(out, u)
	}
	return out, canonicalToProv, nil
}

func nativeToolInputSchema(raw json.RawMessage) (sdk.ToolInputSchemaParam, error) {
	if len(raw) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

func encodeNativeToolChoice(choice protocol.ToolChoice, canonicalToProv map[string]string) (sdk.ToolChoiceUnionParam, error) {
	switch choice.Type {
	case protocol.ToolChoiceAuto, "":
		return sdk.ToolChoiceUnionParam{}, nil
	case protocol.ToolChoiceNone:
		none := sdk.NewToolChoiceNoneParam()
		return sdk.ToolChoiceUnionParam{OfNone: &none}, nil
	case protocol.ToolChoiceAny:
		return sdk.ToolChoiceUnionParam{OfAny: &sdk.ToolChoiceAnyParam{}}, nil
	case protocol.ToolChoiceTool:
		name, ok := canonicalToProv[choice.Name]
		if !ok {
			return sdk.ToolChoiceUnionParam{}, protocol.Invalid("tool_choice references unknown tool %q", choice.Name)
		}
		return sdk.ToolChoiceParamOfTool(name), nil
	default:
		return sdk.ToolChoiceUnionParam{}, protocol.Invalid("unsupported tool_choice type %q", choice.Type)
	}
}
