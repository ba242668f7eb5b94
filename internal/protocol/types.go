package protocol

import "encoding/json"

// Message is a single turn in a conversation. Content may arrive on the wire
// as a bare string (shorthand for a single text block) or as an ordered
// block sequence; Blocks() normalizes either form.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// Blocks decodes Content into a normalized ContentBlocks sequence, expanding
// the bare-string shorthand into a single TextBlock.
func (m Message) Blocks() (ContentBlocks, error) {
	if len(m.Content) == 0 {
		return nil, nil
	}
	trimmed := m.Content
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, err
		}
		if s == "" {
			return nil, nil
		}
		return ContentBlocks{TextBlock{Text: s}}, nil
	}
	var blocks ContentBlocks
	if err := json.Unmarshal(trimmed, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

// NewMessage builds a Message from an already-decoded block sequence.
func NewMessage(role string, blocks ContentBlocks) (Message, error) {
	raw, err := json.Marshal(blocks)
	if err != nil {
		return Message{}, err
	}
	return Message{Role: role, Content: raw}, nil
}

// SystemEntry is one element of a structured `system` field: a text block
// with an optional cache breakpoint. A request's `system` may also arrive as
// a bare string, normalized the same way as Message content.
type SystemEntry struct {
	Text  string        `json:"text"`
	Cache *CacheControl `json:"cache_control,omitempty"`
}

// ToolChoiceMode enumerates how the backend should pick a tool.
type ToolChoiceMode string

const (
	ToolChoiceAuto ToolChoiceMode = "auto"
	ToolChoiceAny  ToolChoiceMode = "any"
	ToolChoiceTool ToolChoiceMode = "tool"
	ToolChoiceNone ToolChoiceMode = "none"
)

// ToolChoice selects which tool(s) the backend is allowed/forced to call.
type ToolChoice struct {
	Type                   ToolChoiceMode `json:"type"`
	Name                   string         `json:"name,omitempty"`
	DisableParallelToolUse bool           `json:"disable_parallel_tool_use,omitempty"`
}

// Known typed tool markers recognized by Type rather than by Name.
const (
	ToolTypeCodeExecution     = "code_execution_20250825"
	ToolTypeToolSearchRegex   = "tool_search_tool_regex_20251119"
	ToolTypeToolSearch        = "tool_search_tool_20251119"
)

// ToolDefinition describes one callable tool in a request.
type ToolDefinition struct {
	Type           string          `json:"type,omitempty"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	InputSchema    json.RawMessage `json:"input_schema,omitempty"`
	AllowedCallers []string        `json:"allowed_callers,omitempty"`
	Cache          *CacheControl   `json:"cache_control,omitempty"`
	InputExamples  json.RawMessage `json:"input_examples,omitempty"`
	DeferLoading   bool            `json:"defer_loading,omitempty"`
}

// IsCodeExecution reports whether this definition is the special PTC
// code_execution server-tool marker rather than a user tool.
func (t ToolDefinition) IsCodeExecution() bool {
	return t.Type == ToolTypeCodeExecution
}

// AllowsCaller reports whether caller is present in AllowedCallers. An empty
// AllowedCallers list is treated as "direct only" for PTC partitioning
// purposes.
func (t ToolDefinition) AllowsCaller(caller string) bool {
	if len(t.AllowedCallers) == 0 {
		return caller == CallerDirect
	}
	for _, c := range t.AllowedCallers {
		if c == caller {
			return true
		}
	}
	return false
}

// ThinkingConfig controls extended-thinking behavior.
type ThinkingConfig struct {
	Type         string `json:"type,omitempty"` // "enabled" | "disabled"
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// Enabled reports whether thinking is turned on for this request.
func (t *ThinkingConfig) Enabled() bool {
	return t != nil && t.Type == "enabled"
}

// ContextManagement configures context-window compaction behavior; its
// internals are opaque to the gateway and passed through verbatim.
type ContextManagement = json.RawMessage

// OutputConfig configures response shaping (e.g. output format hints);
// opaque to the gateway and passed through verbatim.
type OutputConfig = json.RawMessage

// Request is the Anthropic-Messages-compatible request envelope accepted at
// POST /v1/messages and POST /v1/messages/count_tokens.
type Request struct {
	Model            string            `json:"model"`
	Messages         []Message         `json:"messages"`
	System           json.RawMessage   `json:"system,omitempty"`
	MaxTokens        int               `json:"max_tokens"`
	Temperature      *float64          `json:"temperature,omitempty"`
	TopP             *float64          `json:"top_p,omitempty"`
	TopK             *int              `json:"top_k,omitempty"`
	StopSequences    []string          `json:"stop_sequences,omitempty"`
	Tools            []ToolDefinition  `json:"tools,omitempty"`
	ToolChoice       *ToolChoice       `json:"tool_choice,omitempty"`
	Thinking         *ThinkingConfig   `json:"thinking,omitempty"`
	Stream           bool              `json:"stream,omitempty"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
	OutputConfig     OutputConfig      `json:"output_config,omitempty"`
	ContextManagement ContextManagement `json:"context_management,omitempty"`
	ServiceTier      string            `json:"service_tier,omitempty"`

	// AnthropicBeta is parsed from the comma-separated anthropic-beta header
	// by the HTTP layer, not decoded from the JSON body.
	AnthropicBeta []string `json:"-"`
	// ContainerID is the PTC sticky-routing identifier supplied out-of-band
	// (typically a dedicated request header).
	ContainerID string `json:"-"`
}

// SystemEntries normalizes the System field (bare string or structured list)
// into a uniform slice.
func (r *Request) SystemEntries() ([]SystemEntry, error) {
	if len(r.System) == 0 {
		return nil, nil
	}
	if r.System[0] == '"' {
		var s string
		if err := json.Unmarshal(r.System, &s); err != nil {
			return nil, err
		}
		if s == "" {
			return nil, nil
		}
		return []SystemEntry{{Text: s}}, nil
	}
	var entries []SystemEntry
	if err := json.Unmarshal(r.System, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// StopReason enumerates why the model stopped generating.
type StopReason string

const (
	StopReasonEndTurn      StopReason = "end_turn"
	StopReasonMaxTokens    StopReason = "max_tokens"
	StopReasonStopSequence StopReason = "stop_sequence"
	StopReasonToolUse      StopReason = "tool_use"
	StopReasonPauseTurn    StopReason = "pause_turn"
)

// Usage reports token accounting for a completed (or in-progress) turn.
type Usage struct {
	InputTokens              int  `json:"input_tokens"`
	OutputTokens             int  `json:"output_tokens"`
	CacheCreationInputTokens *int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     *int `json:"cache_read_input_tokens,omitempty"`
	Iterations               *int `json:"iterations,omitempty"`
}

// Container carries PTC session identity back to the client so it can be
// echoed on the next turn.
type Container struct {
	ID        string `json:"id"`
	ExpiresAt string `json:"expires_at"`
}

// Response is the Anthropic-Messages-compatible response envelope.
type Response struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Role         string        `json:"role"`
	Model        string        `json:"model"`
	Content      ContentBlocks `json:"content"`
	StopReason   StopReason    `json:"stop_reason,omitempty"`
	StopSequence *string       `json:"stop_sequence,omitempty"`
	Usage        Usage         `json:"usage"`
	Container    *Container    `json:"container,omitempty"`
}

// CountTokensResponse is returned by POST /v1/messages/count_tokens.
type CountTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}
