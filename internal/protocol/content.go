// Package protocol defines the Anthropic-Messages-compatible wire types this
// gateway accepts and emits: the closed content-block sum type, request and
// response envelopes, and the SSE event payloads built on top of them.
//
// Content blocks are modeled as a tagged variant rather than a generic
// map[string]any so the conversion and orchestration packages can switch on
// concrete Go types instead of re-inspecting "type" discriminators at every
// layer. Parsing happens once, at the HTTP boundary (see ContentBlocks.UnmarshalJSON).
package protocol

import (
	"encoding/json"
	"fmt"
)

// ContentBlock is the marker interface implemented by every concrete content
// block variant. Beyond the marker it exposes only BlockType, so callers
// type-switch on the concrete variant rather than reflect.
type ContentBlock interface {
	isContentBlock()
	// BlockType returns the wire discriminator ("text", "tool_use", ...).
	BlockType() string
}

// CacheControl marks a cache breakpoint on a block, tool definition, or
// system entry. Only Type is currently meaningful ("ephemeral").
type CacheControl struct {
	Type string `json:"type"`
}

// Caller identifies the originator of a tool_use block: the model directly,
// or code running inside a PTC sandbox session. It is internal bookkeeping
// and must never be forwarded to the backend.
type Caller struct {
	Type   string `json:"type"`
	ToolID string `json:"tool_id,omitempty"`
}

const (
	CallerDirect        = "direct"
	CallerCodeExecution = "code_execution_20250825"
)

type (
	// TextBlock is plain assistant or user text.
	TextBlock struct {
		Text  string        `json:"text"`
		Cache *CacheControl `json:"cache_control,omitempty"`
	}

	// ThinkingBlock carries model reasoning text plus an opaque signature used
	// to validate the block was not tampered with on resend.
	ThinkingBlock struct {
		Thinking  string `json:"thinking"`
		Signature string `json:"signature,omitempty"`
	}

	// RedactedThinkingBlock carries opaque, provider-encrypted reasoning bytes
	// that cannot be rendered but must be preserved and replayed verbatim.
	RedactedThinkingBlock struct {
		Data string `json:"data"`
	}

	// ToolUseBlock is an assistant-issued tool invocation.
	ToolUseBlock struct {
		ID     string          `json:"id"`
		Name   string          `json:"name"`
		Input  json.RawMessage `json:"input"`
		Caller *Caller         `json:"caller,omitempty"`
		Cache  *CacheControl   `json:"cache_control,omitempty"`
	}

	// ToolResultBlock is a user-supplied result for a prior tool_use.
	ToolResultBlock struct {
		ToolUseID string        `json:"tool_use_id"`
		Content   any           `json:"content,omitempty"`
		IsError   bool          `json:"is_error,omitempty"`
		Cache     *CacheControl `json:"cache_control,omitempty"`
	}

	// ServerToolUseBlock is a backend-internal tool invocation (for example a
	// PTC code_execution call) echoed back to the client for visibility only;
	// it is never resent to the backend as-is.
	ServerToolUseBlock struct {
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	}

	// ServerToolResultBlock is the backend-internal counterpart result to a
	// ServerToolUseBlock.
	ServerToolResultBlock struct {
		ToolUseID string `json:"tool_use_id"`
		Content   any    `json:"content,omitempty"`
		IsError   bool   `json:"is_error,omitempty"`
	}

	// ImageSource identifies the bytes behind an ImageBlock.
	ImageSource struct {
		Type      string `json:"type"`
		MediaType string `json:"media_type,omitempty"`
		Data      string `json:"data,omitempty"`
		URL       string `json:"url,omitempty"`
	}

	// ImageBlock is inline or referenced image content.
	ImageBlock struct {
		Source ImageSource   `json:"source"`
		Cache  *CacheControl `json:"cache_control,omitempty"`
	}

	// DocumentSource identifies the bytes behind a DocumentBlock.
	DocumentSource struct {
		Type      string `json:"type"`
		MediaType string `json:"media_type,omitempty"`
		Data      string `json:"data,omitempty"`
		URL       string `json:"url,omitempty"`
	}

	// DocumentBlock is an inline or referenced document, optionally citable.
	DocumentBlock struct {
		Source  DocumentSource `json:"source"`
		Title   string         `json:"title,omitempty"`
		Context string         `json:"context,omitempty"`
		Citations *CitationsConfig `json:"citations,omitempty"`
		Cache   *CacheControl  `json:"cache_control,omitempty"`
	}

	// CitationsConfig toggles whether a document may be cited.
	CitationsConfig struct {
		Enabled bool `json:"enabled"`
	}

	// CitationLocation identifies where in a source document a citation
	// points, derived from Bedrock's citation-delta decoder elsewhere in this
	// codebase.
	CitationLocation struct {
		DocumentIndex int `json:"document_index"`
		Start         int `json:"start,omitempty"`
		End           int `json:"end,omitempty"`
		Kind          string `json:"kind"` // "char", "chunk", "page"
	}

	// CitationsBlock surfaces citation metadata alongside cited text: Bedrock
	// streams citation deltas that the document-content feature implies, so
	// they are carried through as their own block rather than dropped
	// silently.
	CitationsBlock struct {
		Title    string             `json:"title,omitempty"`
		Source   string             `json:"source,omitempty"`
		Location CitationLocation   `json:"location"`
		Cited    []string           `json:"cited_text,omitempty"`
	}

	// CompactionBlock marks that the conversation history prior to this point
	// was summarized/compacted by the client or a prior turn.
	CompactionBlock struct {
		Summary string `json:"summary,omitempty"`
	}
)

func (TextBlock) isContentBlock()             {}
func (ThinkingBlock) isContentBlock()         {}
func (RedactedThinkingBlock) isContentBlock() {}
func (ToolUseBlock) isContentBlock()          {}
func (ToolResultBlock) isContentBlock()       {}
func (ServerToolUseBlock) isContentBlock()    {}
func (ServerToolResultBlock) isContentBlock() {}
func (ImageBlock) isContentBlock()            {}
func (DocumentBlock) isContentBlock()         {}
func (CitationsBlock) isContentBlock()        {}
func (CompactionBlock) isContentBlock()       {}

func (TextBlock) BlockType() string             { return "text" }
func (ThinkingBlock) BlockType() string         { return "thinking" }
func (RedactedThinkingBlock) BlockType() string { return "redacted_thinking" }
func (ToolUseBlock) BlockType() string          { return "tool_use" }
func (ToolResultBlock) BlockType() string       { return "tool_result" }
func (ServerToolUseBlock) BlockType() string    { return "server_tool_use" }
func (ServerToolResultBlock) BlockType() string { return "server_tool_result" }
func (ImageBlock) BlockType() string            { return "image" }
func (DocumentBlock) BlockType() string         { return "document" }
func (CitationsBlock) BlockType() string        { return "citations" }
func (CompactionBlock) BlockType() string       { return "compaction" }

// ContentBlocks is a JSON-friendly ordered sequence of ContentBlock values.
// It implements custom marshaling/unmarshaling so the wire "type" field
// round-trips transparently without leaking map[string]any into callers.
type ContentBlocks []ContentBlock

// wireBlock is the superset envelope used only for decoding. Every field maps
// to exactly one concrete variant's field set; it is never exposed publicly.
type wireBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	Signature string          `json:"signature,omitempty"`
	Data      string          `json:"data,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Caller    *Caller         `json:"caller,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Source    json.RawMessage `json:"source,omitempty"`
	Title     string          `json:"title,omitempty"`
	Context   string          `json:"context,omitempty"`
	Citations *CitationsConfig `json:"citations,omitempty"`
	Cache     *CacheControl   `json:"cache_control,omitempty"`
	Summary   string          `json:"summary,omitempty"`
	Location  *CitationLocation `json:"location,omitempty"`
}

// MarshalJSON emits each block with its wire discriminator set from
// BlockType(), dispatching on concrete type rather than reflection.
func (cb ContentBlocks) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(cb))
	for _, b := range cb {
		raw, err := marshalBlock(b)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return json.Marshal(out)
}

func marshalBlock(b ContentBlock) (json.RawMessage, error) {
	// Marshal the concrete struct, then splice in the "type" discriminator.
	body, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s block: %w", b.BlockType(), err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	typeJSON, _ := json.Marshal(b.BlockType())
	m["type"] = typeJSON
	return json.Marshal(m)
}

// UnmarshalJSON parses each element once into its concrete typed variant
// based on the "type" discriminator; unrecognized types are rejected rather
// than silently degraded to a generic map.
func (cb *ContentBlocks) UnmarshalJSON(data []byte) error {
	var raws []wireBlock
	if err := json.Unmarshal(data, &raws); err != nil {
		return fmt.Errorf("protocol: decode content blocks: %w", err)
	}
	blocks := make(ContentBlocks, 0, len(raws))
	for _, w := range raws {
		block, err := decodeBlock(w)
		if err != nil {
			return err
		}
		blocks = append(blocks, block)
	}
	*cb = blocks
	return nil
}

func decodeBlock(w wireBlock) (ContentBlock, error) {
	switch w.Type {
	case "text":
		return TextBlock{Text: w.Text, Cache: w.Cache}, nil
	case "thinking":
		return ThinkingBlock{Thinking: w.Thinking, Signature: w.Signature}, nil
	case "redacted_thinking":
		return RedactedThinkingBlock{Data: w.Data}, nil
	case "tool_use":
		return ToolUseBlock{ID: w.ID, Name: w.Name, Input: w.Input, Caller: w.Caller, Cache: w.Cache}, nil
	case "tool_result":
		return ToolResultBlock{ToolUseID: w.ToolUseID, Content: decodeAny(w.Content), IsError: w.IsError, Cache: w.Cache}, nil
	case "server_tool_use":
		return ServerToolUseBlock{ID: w.ID, Name: w.Name, Input: w.Input}, nil
	case "server_tool_result":
		return ServerToolResultBlock{ToolUseID: w.ToolUseID, Content: decodeAny(w.Content), IsError: w.IsError}, nil
	case "image":
		var src ImageSource
		if len(w.Source) > 0 {
			if err := json.Unmarshal(w.Source, &src); err != nil {
				return nil, fmt.Errorf("protocol: decode image source: %w", err)
			}
		}
		return ImageBlock{Source: src, Cache: w.Cache}, nil
	case "document":
		var src DocumentSource
		if len(w.Source) > 0 {
			if err := json.Unmarshal(w.Source, &src); err != nil {
				return nil, fmt.Errorf("protocol: decode document source: %w", err)
			}
		}
		return DocumentBlock{Source: src, Title: w.Title, Context: w.Context, Citations: w.Citations, Cache: w.Cache}, nil
	case "citations":
		loc := CitationLocation{}
		if w.Location != nil {
			loc = *w.Location
		}
		return CitationsBlock{Title: w.Title, Location: loc}, nil
	case "compaction":
		return CompactionBlock{Summary: w.Summary}, nil
	default:
		return nil, fmt.Errorf("protocol: unknown content block type %q", w.Type)
	}
}

func decodeAny(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

// ReorderThinkingFirst returns blocks with any thinking/redacted_thinking
// entries moved to the front, preserving the relative order within each
// group: thinking must precede every other block in an assistant message
// sent to the backend.
func ReorderThinkingFirst(blocks ContentBlocks) ContentBlocks {
	if len(blocks) == 0 {
		return blocks
	}
	out := make(ContentBlocks, 0, len(blocks))
	var rest ContentBlocks
	for _, b := range blocks {
		switch b.(type) {
		case ThinkingBlock, RedactedThinkingBlock:
			out = append(out, b)
		default:
			rest = append(rest, b)
		}
	}
	return append(out, rest...)
}

// StripCallers returns a copy of blocks with the Caller field cleared on any
// ToolUseBlock. Caller is internal bookkeeping (direct vs PTC-internal) and
// must never reach the backend.
func StripCallers(blocks ContentBlocks) ContentBlocks {
	out := make(ContentBlocks, len(blocks))
	for i, b := range blocks {
		if tu, ok := b.(ToolUseBlock); ok {
			tu.Caller = nil
			out[i] = tu
			continue
		}
		out[i] = b
	}
	return out
}

// FilterServerToolBlocks drops server_tool_use/server_tool_result blocks,
// which are internal echoes the backend does not recognize as valid tool
// names. Any future
// block type added to the taxonomy must be explicitly allow-listed here
// rather than passed through by default.
func FilterServerToolBlocks(blocks ContentBlocks) ContentBlocks {
	out := make(ContentBlocks, 0, len(blocks))
	for _, b := range blocks {
		switch b.(type) {
		case ServerToolUseBlock, ServerToolResultBlock:
			continue
		default:
			out = append(out, b)
		}
	}
	return out
}
