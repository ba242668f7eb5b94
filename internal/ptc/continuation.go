package ptc

import (
	"fmt"

	"goa.design/bedrock-gateway/internal/protocol"
	"goa.design/bedrock-gateway/internal/sandbox"
)

// RebuildContinuation rebuilds the message list the backend sees on a
// FINALIZING round, discarding the client-echoed assistant message and any
// tool_result the client sent for an internal (non-direct) call, in favor of
// the stored original_assistant_content and a single synthesized
// tool_result carrying the sandbox's own output. It is a pure function over
// session state plus the client's latest messages, directly unit-testable
// against fixtures the way encodeMessages is elsewhere in this codebase.
func RebuildContinuation(session *Session, clientMessages []protocol.Message, result sandbox.ExecutionResult) (*protocol.Request, error) {
	internal := make(map[string]bool, len(session.Pending))
	for _, p := range session.Pending {
		internal[p.PublicID] = true
	}

	lastAssistant := -1
	for i, m := range clientMessages {
		if m.Role == "assistant" {
			lastAssistant = i
		}
	}

	base := make([]protocol.Message, 0, len(clientMessages))
	for i, m := range clientMessages {
		if i == lastAssistant {
			continue
		}
		if m.Role == "user" {
			blocks, err := m.Blocks()
			if err != nil {
				return nil, fmt.Errorf("ptc: decode client message content: %w", err)
			}
			internalResult := false
			for _, b := range blocks {
				if tr, ok := b.(protocol.ToolResultBlock); ok && internal[tr.ToolUseID] {
					internalResult = true
					break
				}
			}
			if internalResult {
				continue
			}
		}
		base = append(base, m)
	}

	assistantMsg, err := protocol.NewMessage("assistant", session.OriginalAssistantContent)
	if err != nil {
		return nil, err
	}
	base = append(base, assistantMsg)

	content := result.Stdout
	if result.Success {
		if content == "" {
			content = "(execution produced no output)"
		}
	} else {
		content = "Error: " + result.Stderr
	}
	toolResultMsg, err := protocol.NewMessage("user", protocol.ContentBlocks{
		protocol.ToolResultBlock{ToolUseID: session.OriginalExecuteCodeID, Content: content, IsError: !result.Success},
	})
	if err != nil {
		return nil, err
	}
	base = append(base, toolResultMsg)

	return &protocol.Request{
		Model:         session.Snapshot.Model,
		Messages:      base,
		System:        session.Snapshot.System,
		MaxTokens:     session.Snapshot.MaxTokens,
		Temperature:   session.Snapshot.Temperature,
		TopP:          session.Snapshot.TopP,
		TopK:          session.Snapshot.TopK,
		StopSequences: session.Snapshot.StopSequences,
		Tools:         session.Snapshot.Tools,
		ToolChoice:    session.Snapshot.ToolChoice,
		Thinking:      session.Snapshot.Thinking,
		ServiceTier:   session.Snapshot.ServiceTier,
		AnthropicBeta: session.Snapshot.AnthropicBeta,
	}, nil
}
