package protocol

import "encoding/json"

// SSEEvent is one Anthropic Messages streaming event: an SSE "event:" name
// plus its JSON "data:" payload. Event is also embedded as the
// payload's own "type" field, matching the wire contract every Anthropic SSE
// consumer expects.
type SSEEvent struct {
	Event string
	Data  any
}

// MessageStartPayload is the data for the first event of a stream: a message
// shell with empty content and the usage known so far.
type MessageStartPayload struct {
	Type    string   `json:"type"`
	Message Response `json:"message"`
}

// ContentBlockStartPayload announces a new content block at Index, with a
// variant-appropriate empty starting value (e.g. text:"" for a text block).
type ContentBlockStartPayload struct {
	Type         string       `json:"type"`
	Index        int          `json:"index"`
	ContentBlock ContentBlock `json:"content_block"`
}

// ContentBlockDeltaPayload carries one incremental update to the block at
// Index. Delta is one of TextDelta, ThinkingDelta, SignatureDelta,
// InputJSONDelta, or CitationsDelta.
type ContentBlockDeltaPayload struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta any    `json:"delta"`
}

type (
	TextDelta      struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	ThinkingDelta struct {
		Type     string `json:"type"`
		Thinking string `json:"thinking"`
	}
	SignatureDelta struct {
		Type      string `json:"type"`
		Signature string `json:"signature"`
	}
	InputJSONDelta struct {
		Type        string `json:"type"`
		PartialJSON string `json:"partial_json"`
	}
	CitationsDelta struct {
		Type     string       `json:"type"`
		Citation CitationsBlock `json:"citation"`
	}
)

// ContentBlockStopPayload closes the block at Index. Every started block
// must receive exactly one of these.
type ContentBlockStopPayload struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// MessageDeltaPayload carries the terminal stop_reason/stop_sequence and the
// cumulative usage total, emitted once near the end of a stream.
type MessageDeltaPayload struct {
	Type  string `json:"type"`
	Delta struct {
		StopReason   StopReason `json:"stop_reason,omitempty"`
		StopSequence *string    `json:"stop_sequence,omitempty"`
	} `json:"delta"`
	Usage Usage `json:"usage"`
}

// MessageStopPayload is the final event of a successful stream.
type MessageStopPayload struct {
	Type string `json:"type"`
}

// StreamErrorPayload is emitted (as an "error" SSE event) when a backend or
// gateway error interrupts an in-progress stream.
type StreamErrorPayload struct {
	Type  string     `json:"type"`
	Error WireDetail `json:"error"`
}

// MarshalData renders ev.Data as a compact JSON payload suitable for an SSE
// "data:" line.
func (ev SSEEvent) MarshalData() ([]byte, error) {
	return json.Marshal(ev.Data)
}
