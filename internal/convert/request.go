// Package convert implements the gateway's request/response translation
// layer: Anthropic Messages-shaped requests into Bedrock Converse or
// native-Anthropic InvokeModel requests, and Bedrock responses/event streams back into
// Anthropic-shaped responses and SSE. It is grounded on
// features/model/bedrock/client.go's prepareRequest/encodeMessages/encodeTools
// pipeline and features/model/anthropic/client.go's param-building approach
// for the native shape.
package convert

import (
	"context"
	"fmt"

	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"goa.design/bedrock-gateway/internal/protocol"
)

// Shape identifies which backend entry point a BackendRequest targets.
type Shape int

const (
	// ShapeConverse targets Bedrock's cross-model Converse/ConverseStream API.
	ShapeConverse Shape = iota
	// ShapeNative targets Bedrock's InvokeModel/InvokeModelWithResponseStream
	// API carrying a native Anthropic Messages-API request body.
	ShapeNative
)

// ConverseParts is the intermediate, fully-encoded Converse-shape request,
// mirroring features/model/bedrock/client.go's requestParts.
type ConverseParts struct {
	ModelID                 string
	Messages                []brtypes.Message
	System                  []brtypes.SystemContentBlock
	ToolConfig              *brtypes.ToolConfiguration
	ToolNameCanonicalToProv map[string]string
	ToolNameProvToCanonical map[string]string
	MaxTokens               int
	Temperature             *float64
	TopP                    *float64
	TopK                    *int
	StopSequences           []string
	Thinking                *protocol.ThinkingConfig
	ServiceTier             string
	AnthropicBeta           []string
}

// BackendRequest is a backend-ready request in exactly one of the two
// supported shapes: Converse or native InvokeModel.
type BackendRequest struct {
	Shape       Shape
	ModelID     string
	Converse    *ConverseParts
	NativeBody  []byte
	ServiceTier string
	// ToolNameProvToCanonical reverse-maps the sanitized provider-facing tool
	// name back to the client-supplied canonical name, needed by the response
	// converter regardless of shape.
	ToolNameProvToCanonical map[string]string
}

// ModelResolver resolves a client-supplied model identifier to the concrete
// Bedrock model ID via a three-step order: per-key override, configured
// default map, pass-through.
type ModelResolver struct {
	PerKeyOverride map[string]string
	Defaults       map[string]string
}

// Resolve applies the resolution order and returns the concrete model ID.
func (r ModelResolver) Resolve(requested string) string {
	if r.PerKeyOverride != nil {
		if v, ok := r.PerKeyOverride[requested]; ok && v != "" {
			return v
		}
	}
	if r.Defaults != nil {
		if v, ok := r.Defaults[requested]; ok && v != "" {
			return v
		}
	}
	return requested
}

// BuildBackendRequest converts req into a BackendRequest, applying the
// routing rule (native shape only for an Anthropic-family model whose
// request uses native-only features or whose resolved beta values require
// InvokeModel; Converse otherwise), beta-header translation, model-ID
// resolution, and PTC-aware tool stripping (code_execution tools are
// dropped here; the PTC orchestrator re-adds its own synthetic tool before
// this function is called again on preparation).
func BuildBackendRequest(ctx context.Context, req *protocol.Request, resolver ModelResolver, tables protocol.BetaTables) (*BackendRequest, error) {
	if req.Model == "" {
		return nil, protocol.Invalid("model is required")
	}
	if len(req.Messages) == 0 {
		return nil, protocol.Invalid("messages are required")
	}

	modelID := resolver.Resolve(req.Model)
	backendBeta := tables.Resolve(req.AnthropicBeta)
	anthropicFamily := protocol.IsAnthropicFamily(modelID)
	native := anthropicFamily && (isNativeOnlyRequest(req) || tables.RequiresNativeShape(backendBeta))
	// Native shape is also selected whenever the beta set demands it, even if
	// the non-beta path would otherwise use Converse.
	if !anthropicFamily && tables.RequiresNativeShape(backendBeta) {
		return nil, protocol.Invalid("beta features %v require a native-Anthropic-family model; got %q", backendBeta, modelID)
	}

	if native {
		body, provToCanonical, err := buildNativeBody(req, modelID, backendBeta)
		if err != nil {
			return nil, err
		}
		return &BackendRequest{
			Shape: ShapeNative, ModelID: modelID, NativeBody: body,
			ServiceTier: req.ServiceTier, ToolNameProvToCanonical: provToCanonical,
		}, nil
	}

	parts, err := buildConverseParts(ctx, req, modelID, backendBeta)
	if err != nil {
		return nil, err
	}
	return &BackendRequest{
		Shape: ShapeConverse, ModelID: modelID, Converse: parts,
		ServiceTier: req.ServiceTier, ToolNameProvToCanonical: parts.ToolNameProvToCanonical,
	}, nil
}

// isNativeOnlyRequest reports whether a request field can only be expressed
// in the native Anthropic shape (currently none beyond beta-driven forcing,
// but kept as an extension point so future native-only fields don't require
// touching the routing decision at every call site).
func isNativeOnlyRequest(_ *protocol.Request) bool {
	return false
}

// prepareToolsForBackend filters out code_execution server-tool markers
// and remaps versioned
// tool-search markers to their Bedrock-recognized names.
func prepareToolsForBackend(tools []protocol.ToolDefinition) []protocol.ToolDefinition {
	out := make([]protocol.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		if t.IsCodeExecution() {
			continue
		}
		if renamed, ok := protocol.RenameVersionedToolType(t.Type); ok {
			t.Name = renamed
			t.Type = ""
		}
		out = append(out, t)
	}
	return out
}

// validateToolChoice fails fast when tool_choice references a tool absent
// from the (already filtered) tool list.
func validateToolChoice(choice *protocol.ToolChoice, tools []protocol.ToolDefinition) error {
	if choice == nil || choice.Type != protocol.ToolChoiceTool {
		return nil
	}
	for _, t := range tools {
		if t.Name == choice.Name {
			return nil
		}
	}
	return protocol.Invalid("tool_choice references unknown tool %q", choice.Name)
}

func stripCallersFromHistory(msgs []protocol.Message) ([]protocol.Message, error) {
	out := make([]protocol.Message, 0, len(msgs))
	for _, m := range msgs {
		blocks, err := m.Blocks()
		if err != nil {
			return nil, fmt.Errorf("convert: decode message content: %w", err)
		}
		stripped := protocol.StripCallers(blocks)
		stripped = protocol.FilterServerToolBlocks(stripped)
		if m.Role == "assistant" {
			stripped = protocol.ReorderThinkingFirst(stripped)
		}
		nm, err := protocol.NewMessage(m.Role, stripped)
		if err != nil {
			return nil, err
		}
		out = append(out, nm)
	}
	return out, nil
}
