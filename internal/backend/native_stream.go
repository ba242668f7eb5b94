package backend

import (
	"encoding/json"
	"fmt"

	"goa.design/bedrock-gateway/internal/protocol"
)

// nativeStreamConverter re-emits the Anthropic-shaped SSE events Bedrock's
// InvokeModelWithResponseStream already carries verbatim inside each
// PayloadPart's Bytes field for native-shape requests: no
// block/delta reconstruction is needed, only JSON re-parsing and provider
// tool-name reversal on content_block_start's tool_use payload.
type nativeStreamConverter struct {
	provToCanonical map[string]string
}

func newNativeStreamConverter(provToCanonical map[string]string) *nativeStreamConverter {
	return &nativeStreamConverter{provToCanonical: provToCanonical}
}

func (c *nativeStreamConverter) handle(raw []byte) (*protocol.SSEEvent, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("backend: decode native stream chunk: %w", err)
	}
	if envelope.Type == "" {
		return nil, nil
	}

	var data map[string]json.RawMessage
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("backend: decode native stream chunk fields: %w", err)
	}

	if envelope.Type == "content_block_start" {
		if err := c.reverseToolName(data); err != nil {
			return nil, err
		}
		patched, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		var out map[string]any
		if err := json.Unmarshal(patched, &out); err != nil {
			return nil, err
		}
		return &protocol.SSEEvent{Event: envelope.Type, Data: out}, nil
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &protocol.SSEEvent{Event: envelope.Type, Data: out}, nil
}

func (c *nativeStreamConverter) reverseToolName(data map[string]json.RawMessage) error {
	blockRaw, ok := data["content_block"]
	if !ok {
		return nil
	}
	var block map[string]json.RawMessage
	if err := json.Unmarshal(blockRaw, &block); err != nil {
		return fmt.Errorf("backend: decode content_block: %w", err)
	}
	nameRaw, ok := block["name"]
	if !ok {
		return nil
	}
	var name string
	if err := json.Unmarshal(nameRaw, &name); err != nil {
		return fmt.Errorf("backend: decode tool name: %w", err)
	}
	if canonical, ok := c.provToCanonical[name]; ok {
		newName, err := json.Marshal(canonical)
		if err != nil {
			return err
		}
		block["name"] = newName
		patched, err := json.Marshal(block)
		if err != nil {
			return err
		}
		data["content_block"] = patched
	}
	return nil
}
