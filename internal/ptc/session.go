package ptc

import (
	"encoding/json"
	"sync"
	"time"

	"goa.design/bedrock-gateway/internal/protocol"
	"goa.design/bedrock-gateway/internal/sandbox"
)

// State is one of the five PTC session states.
type State string

const (
	StateIdle        State = "idle"
	StateRunning     State = "running"
	StateWaitingTool State = "waiting_tool"
	StateFinalizing  State = "finalizing"
	StateAbandoned   State = "abandoned"
)

// Snapshot carries every backend-call parameter that must be taken from the
// original request on every continuation, never from the client-echoed
// continuation request: system, model, max_tokens, temperature, top_p,
// top_k, stop_sequences, tool_choice, thinking, and the beta header all come
// from here.
type Snapshot struct {
	Model         string
	System        json.RawMessage
	MaxTokens     int
	Temperature   *float64
	TopP          *float64
	TopK          *int
	StopSequences []string
	ToolChoice    *protocol.ToolChoice
	Thinking      *protocol.ThinkingConfig
	ServiceTier   string
	AnthropicBeta []string
	// Tools is the client's original, unpartitioned tool list, re-partitioned
	// and re-prepared on every round rather than cached prepared.
	Tools []protocol.ToolDefinition
}

// PendingCall is one outstanding tool invocation the sandbox is waiting on.
type PendingCall struct {
	PublicID string // the tool_use id exposed to the client
	CallID   string // the sandbox-internal call id InjectResult/InjectError key on
	Name     string
}

// Session is one PTC conversation's server-side state, keyed by the
// container id echoed back to the client.
type Session struct {
	ID        string
	State     State
	CreatedAt time.Time
	ExpiresAt time.Time

	Snapshot Snapshot

	Sandbox *sandbox.Session
	Stream  sandbox.ExecutionStream

	// OriginalExecuteCodeID is the tool_use id of the execute_code call the
	// backend most recently issued; the continuation's single tool_result
	// targets this id.
	OriginalExecuteCodeID string
	// OriginalAssistantContent preserves the backend's raw assistant content
	// (thinking-first ordering intact) so continuation never trusts a
	// client-echoed assistant message that may have dropped thinking blocks.
	OriginalAssistantContent protocol.ContentBlocks

	// Pending holds every tool call the session is waiting on, in the order
	// the sandbox emitted them (single element for a plain ToolCallRequest,
	// N elements for a BatchToolCallRequest).
	Pending []PendingCall
	// Results accumulates client-supplied results keyed by CallID until every
	// pending call has one.
	Results map[string]PendingResult
}

// PendingResult is a client-supplied tool_result or tool-error payload
// waiting to be reinjected into the sandbox generator.
type PendingResult struct {
	IsError bool
	Content any
}

// IsBusy reports whether the session currently owns a live generator handle.
func (s *Session) IsBusy() bool {
	switch s.State {
	case StateRunning, StateWaitingTool, StateFinalizing:
		return true
	default:
		return false
	}
}

// AllResultsReady reports whether every pending call has a matching result.
func (s *Session) AllResultsReady() bool {
	if len(s.Pending) == 0 {
		return false
	}
	for _, p := range s.Pending {
		if _, ok := s.Results[p.CallID]; !ok {
			return false
		}
	}
	return true
}

// ExecutionState is the process-local registry of every live PTC session,
// guarded by a mutex rather than replicated: sessions require sticky routing
// and must not be externalized the way goa.design/pulse/rmap.Map replicates
// the rate limiter's counters elsewhere in this codebase.
type ExecutionState struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewExecutionState constructs an empty registry.
func NewExecutionState() *ExecutionState {
	return &ExecutionState{sessions: make(map[string]*Session)}
}

// Create registers a new session, replacing any existing entry with the
// same id (used when a prior generator is abandoned and recreated).
func (e *ExecutionState) Create(s *Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions[s.ID] = s
}

// Lookup returns the session for id, if this node holds it.
func (e *ExecutionState) Lookup(id string) (*Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[id]
	return s, ok
}

// Delete removes a session, used when it reaches IDLE terminally closed or
// ABANDONED.
func (e *ExecutionState) Delete(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, id)
}

// IdleExpired returns session ids that are not busy and whose ExpiresAt has
// passed, for the background sweeper.
func (e *ExecutionState) IdleExpired(now time.Time) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var ids []string
	for id, s := range e.sessions {
		if !s.IsBusy() && now.After(s.ExpiresAt) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Count reports the number of live sessions, for GET /health/ptc.
func (e *ExecutionState) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.sessions)
}

// SampleIDs returns up to n session ids, for GET /health/ptc's sample field.
func (e *ExecutionState) SampleIDs(n int) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, n)
	for id := range e.sessions {
		if len(ids) >= n {
			break
		}
		ids = append(ids, id)
	}
	return ids
}
