package ptc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"goa.design/bedrock-gateway/internal/backend"
	"goa.design/bedrock-gateway/internal/convert"
	"goa.design/bedrock-gateway/internal/protocol"
	"goa.design/bedrock-gateway/internal/sandbox"
	"goa.design/bedrock-gateway/internal/telemetry"
)

// Options configures an Orchestrator.
type Options struct {
	Backend        *backend.Client
	Resolver       convert.ModelResolver
	BetaTables     protocol.BetaTables
	Sandbox        sandbox.Executor
	SessionTimeout time.Duration
	Telemetry      *telemetry.Telemetry
}

// Orchestrator drives the PTC state machine: it intercepts
// execute_code tool calls, runs the submitted code in a sandbox, fans
// nested tool calls out to the client, and rebuilds the backend-facing
// conversation on every continuation round.
type Orchestrator struct {
	backend        *backend.Client
	resolver       convert.ModelResolver
	betaTables     protocol.BetaTables
	sandbox        sandbox.Executor
	sessions       *ExecutionState
	sessionTimeout time.Duration
	tel            *telemetry.Telemetry
}

// New constructs an Orchestrator.
func New(opts Options) *Orchestrator {
	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.Noop()
	}
	timeout := opts.SessionTimeout
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &Orchestrator{
		backend:        opts.Backend,
		resolver:       opts.Resolver,
		betaTables:     opts.BetaTables,
		sandbox:        opts.Sandbox,
		sessions:       NewExecutionState(),
		sessionTimeout: timeout,
		tel:            tel,
	}
}

// Sessions exposes the session registry for health checks and the
// background sweeper.
func (o *Orchestrator) Sessions() *ExecutionState { return o.sessions }

// Handle processes one PTC-classified request end to end, returning the
// response for this turn: either a pause (stop_reason=tool_use) or a final
// answer.
func (o *Orchestrator) Handle(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	if req.ContainerID != "" {
		session, ok := o.sessions.Lookup(req.ContainerID)
		if !ok {
			return nil, protocol.NewGatewayError(protocol.ErrorPTCSessionNotFound,
				fmt.Sprintf("PTC session %q not found on this node; sticky routing to the instance that created it is required", req.ContainerID), nil)
		}
		if session.State == StateWaitingTool {
			return o.handleContinuation(ctx, session, req)
		}
		if session.IsBusy() {
			o.abandon(ctx, session, "prior generator was still busy when a new turn arrived")
			return o.handleInitial(ctx, req, "")
		}
		return o.handleInitial(ctx, req, session.ID)
	}
	return o.handleInitial(ctx, req, "")
}

// handleInitial runs the first backend call of a PTC turn, reusing
// reuseSessionID's warm sandbox session when non-empty (a later turn in the
// same container that isn't resuming a pause) or creating a fresh one.
func (o *Orchestrator) handleInitial(ctx context.Context, req *protocol.Request, reuseSessionID string) (*protocol.Response, error) {
	prepared, err := PrepareRequest(req)
	if err != nil {
		return nil, err
	}
	backendReq, err := convert.BuildBackendRequest(ctx, prepared, o.resolver, o.betaTables)
	if err != nil {
		return nil, err
	}
	resp, err := o.backend.Complete(ctx, backendReq)
	if err != nil {
		return nil, err
	}

	execUse, hasExec := findExecuteCode(resp.Content)
	if !hasExec {
		resp.Content = tagDirectCallers(resp.Content)
		return resp, nil
	}

	session, err := o.newOrReusedSession(ctx, reuseSessionID, req)
	if err != nil {
		return nil, err
	}
	return o.startExecution(ctx, session, resp, execUse, req.Messages)
}

// handleContinuation reinjects the client's tool results into the sandbox
// generator and resumes driving the state machine.
func (o *Orchestrator) handleContinuation(ctx context.Context, session *Session, req *protocol.Request) (*protocol.Response, error) {
	results, err := extractToolResults(req.Messages, session.Pending)
	if err != nil {
		return nil, err
	}
	for callID, r := range results {
		session.Results[callID] = r
	}
	if !session.AllResultsReady() {
		return nil, protocol.Invalid("ptc: session %s is waiting on %d tool result(s); supply every pending tool_use's tool_result in one turn", session.ID, len(session.Pending)-len(session.Results))
	}

	for _, p := range session.Pending {
		r := session.Results[p.CallID]
		var err error
		if r.IsError {
			err = session.Stream.InjectError(ctx, p.CallID, fmt.Sprint(r.Content))
		} else {
			data, merr := json.Marshal(r.Content)
			if merr != nil {
				return nil, merr
			}
			err = session.Stream.InjectResult(ctx, p.CallID, data)
		}
		if err != nil {
			o.abandon(ctx, session, "failed to inject tool result into sandbox")
			return nil, protocol.Internal("ptc: inject tool result", err)
		}
	}
	session.Pending = nil
	session.Results = make(map[string]PendingResult)
	session.State = StateRunning

	return o.runLoop(ctx, session, req.Messages)
}

// startExecution begins a sandbox run for the execute_code call found in
// resp and drives it until the next client-visible pause or final answer.
func (o *Orchestrator) startExecution(ctx context.Context, session *Session, resp *protocol.Response, execUse protocol.ToolUseBlock, clientMessages []protocol.Message) (*protocol.Response, error) {
	code, err := codeFromInput(execUse.Input)
	if err != nil {
		return nil, protocol.Invalid("ptc: execute_code input missing code field: %v", err)
	}
	session.OriginalExecuteCodeID = execUse.ID
	session.OriginalAssistantContent = resp.Content

	stream, err := o.sandbox.ExecuteCode(ctx, session.Sandbox, code)
	if err != nil {
		o.abandon(ctx, session, "sandbox failed to start execution")
		return nil, protocol.Internal("ptc: start sandbox execution", err)
	}
	session.Stream = stream
	session.State = StateRunning

	return o.runLoop(ctx, session, clientMessages)
}

// runLoop drives session.Stream until it yields a client-visible pause
// (WAITING_TOOL) or the orchestrator reaches a final answer (IDLE),
// recursing through FINALIZING -> RUNNING whenever a continuation's backend
// response contains another execute_code call.
func (o *Orchestrator) runLoop(ctx context.Context, session *Session, clientMessages []protocol.Message) (*protocol.Response, error) {
	for {
		switch session.State {
		case StateRunning:
			ev, ok, err := session.Stream.Next(ctx)
			if err != nil {
				o.abandon(ctx, session, "sandbox generator error")
				return nil, protocol.Internal("ptc: sandbox execution failed", err)
			}
			if !ok {
				o.abandon(ctx, session, "sandbox generator ended without a terminal result")
				return nil, protocol.Internal("ptc: sandbox generator ended unexpectedly", nil)
			}

			switch {
			case ev.ToolCall != nil:
				session.Pending = []PendingCall{{
					PublicID: newPublicToolID(), CallID: ev.ToolCall.CallID, Name: ev.ToolCall.Name,
				}}
				session.Results = make(map[string]PendingResult)
				session.State = StateWaitingTool
				session.ExpiresAt = time.Now().Add(o.sessionTimeout)
				return o.buildPauseResponse(session, []ToolCallRequestWithArgs{{Req: *ev.ToolCall}}), nil

			case ev.BatchCall != nil:
				calls := make([]PendingCall, 0, len(ev.BatchCall.Calls))
				argsByCall := make([]ToolCallRequestWithArgs, 0, len(ev.BatchCall.Calls))
				for _, c := range ev.BatchCall.Calls {
					calls = append(calls, PendingCall{PublicID: newPublicToolID(), CallID: c.CallID, Name: c.Name})
					argsByCall = append(argsByCall, ToolCallRequestWithArgs{Req: c})
				}
				session.Pending = calls
				session.Results = make(map[string]PendingResult)
				session.State = StateWaitingTool
				session.ExpiresAt = time.Now().Add(o.sessionTimeout)
				return o.buildPauseResponse(session, argsByCall), nil

			case ev.Result != nil:
				session.State = StateFinalizing
				contReq, err := RebuildContinuation(session, clientMessages, *ev.Result)
				if err != nil {
					o.abandon(ctx, session, "failed to rebuild continuation request")
					return nil, err
				}
				prepared, err := PrepareRequest(contReq)
				if err != nil {
					return nil, err
				}
				backendReq, err := convert.BuildBackendRequest(ctx, prepared, o.resolver, o.betaTables)
				if err != nil {
					return nil, err
				}
				resp, err := o.backend.Complete(ctx, backendReq)
				if err != nil {
					return nil, err
				}

				if execUse, hasExec := findExecuteCode(resp.Content); hasExec {
					code, err := codeFromInput(execUse.Input)
					if err != nil {
						return nil, protocol.Invalid("ptc: execute_code input missing code field: %v", err)
					}
					session.OriginalExecuteCodeID = execUse.ID
					session.OriginalAssistantContent = resp.Content
					stream, err := o.sandbox.ExecuteCode(ctx, session.Sandbox, code)
					if err != nil {
						o.abandon(ctx, session, "sandbox failed to start execution")
						return nil, protocol.Internal("ptc: start sandbox execution", err)
					}
					session.Stream = stream
					session.State = StateRunning
					continue
				}

				resp.Content = tagDirectCallers(resp.Content)
				resp.Container = &protocol.Container{ID: session.ID, ExpiresAt: session.ExpiresAt.Format(time.RFC3339)}
				session.State = StateIdle
				session.ExpiresAt = time.Now().Add(o.sessionTimeout)
				return resp, nil
			}

		default:
			return nil, fmt.Errorf("ptc: runLoop invoked on session %s in unexpected state %s", session.ID, session.State)
		}
	}
}

// ToolCallRequestWithArgs pairs a sandbox.ToolCallRequest with its arguments
// for rendering into a tool_use block's Input.
type ToolCallRequestWithArgs struct {
	Req sandbox.ToolCallRequest
}

func (o *Orchestrator) buildPauseResponse(session *Session, calls []ToolCallRequestWithArgs) *protocol.Response {
	content := make(protocol.ContentBlocks, 0, len(session.OriginalAssistantContent)+len(calls))
	for _, b := range session.OriginalAssistantContent {
		if tu, ok := b.(protocol.ToolUseBlock); ok && tu.ID == session.OriginalExecuteCodeID {
			content = append(content, protocol.ServerToolUseBlock{ID: tu.ID, Name: "code_execution", Input: tu.Input})
			continue
		}
		content = append(content, b)
	}
	for i, p := range session.Pending {
		content = append(content, protocol.ToolUseBlock{
			ID:    p.PublicID,
			Name:  p.Name,
			Input: calls[i].Req.Arguments,
			Caller: &protocol.Caller{Type: protocol.CallerCodeExecution, ToolID: session.OriginalExecuteCodeID},
		})
	}
	return &protocol.Response{
		ID:         "msg_" + uuid.NewString(),
		Type:       "message",
		Role:       "assistant",
		Model:      session.Snapshot.Model,
		Content:    content,
		StopReason: protocol.StopReasonToolUse,
		Container:  &protocol.Container{ID: session.ID, ExpiresAt: session.ExpiresAt.Format(time.RFC3339)},
	}
}

// newOrReusedSession returns the session named by reuseSessionID if set,
// otherwise creates a brand new sandbox session and registers it, snapshot
// taken from req.
func (o *Orchestrator) newOrReusedSession(ctx context.Context, reuseSessionID string, req *protocol.Request) (*Session, error) {
	if reuseSessionID != "" {
		if s, ok := o.sessions.Lookup(reuseSessionID); ok {
			s.Snapshot = snapshotFromRequest(req)
			return s, nil
		}
	}

	partition := PartitionTools(req.Tools)
	catalog, err := json.Marshal(partition.PTCCallableTools)
	if err != nil {
		return nil, err
	}
	sandboxSession, err := o.sandbox.CreateSession(ctx, catalog)
	if err != nil {
		return nil, protocol.NewGatewayError(protocol.ErrorServiceUnavailable, "sandbox unavailable", err)
	}

	session := &Session{
		ID:        sandboxSession.ID,
		State:     StateIdle,
		CreatedAt: time.Now(),
		ExpiresAt: sandboxSession.ExpiresAt,
		Sandbox:   sandboxSession,
		Snapshot:  snapshotFromRequest(req),
		Results:   make(map[string]PendingResult),
	}
	o.sessions.Create(session)
	return session, nil
}

func snapshotFromRequest(req *protocol.Request) Snapshot {
	return Snapshot{
		Model:         req.Model,
		System:        req.System,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		StopSequences: req.StopSequences,
		ToolChoice:    req.ToolChoice,
		Thinking:      req.Thinking,
		ServiceTier:   req.ServiceTier,
		AnthropicBeta: req.AnthropicBeta,
		Tools:         req.Tools,
	}
}

// abandon transitions session to ABANDONED, closes its sandbox resources,
// and removes it from the registry so the next call with this container id
// creates a fresh session.
func (o *Orchestrator) abandon(ctx context.Context, session *Session, reason string) {
	session.State = StateAbandoned
	if session.Stream != nil {
		_ = session.Stream.Close()
	}
	_ = o.sandbox.CloseSession(ctx, session.ID)
	o.sessions.Delete(session.ID)
	o.tel.Log.Warn(ctx, "ptc: session abandoned", "session_id", session.ID, "reason", reason)
}

func findExecuteCode(content protocol.ContentBlocks) (protocol.ToolUseBlock, bool) {
	for _, b := range content {
		if tu, ok := b.(protocol.ToolUseBlock); ok && tu.Name == protocol.ExecuteCodeToolName {
			return tu, true
		}
	}
	return protocol.ToolUseBlock{}, false
}

func tagDirectCallers(content protocol.ContentBlocks) protocol.ContentBlocks {
	out := make(protocol.ContentBlocks, len(content))
	for i, b := range content {
		if tu, ok := b.(protocol.ToolUseBlock); ok && tu.Caller == nil {
			tu.Caller = &protocol.Caller{Type: protocol.CallerDirect}
			out[i] = tu
			continue
		}
		out[i] = b
	}
	return out
}

func codeFromInput(input json.RawMessage) (string, error) {
	var v struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(input, &v); err != nil {
		return "", err
	}
	return v.Code, nil
}

func newPublicToolID() string {
	return "toolu_" + uuid.NewString()
}

// extractToolResults scans the client's latest user message for tool_result
// blocks matching pending's public ids, keyed by the sandbox-internal
// call id InjectResult/InjectError expect.
func extractToolResults(msgs []protocol.Message, pending []PendingCall) (map[string]PendingResult, error) {
	public := make(map[string]string, len(pending)) // publicID -> callID
	for _, p := range pending {
		public[p.PublicID] = p.CallID
	}
	results := make(map[string]PendingResult)
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role != "user" {
			continue
		}
		blocks, err := m.Blocks()
		if err != nil {
			return nil, fmt.Errorf("ptc: decode client message content: %w", err)
		}
		found := false
		for _, b := range blocks {
			tr, ok := b.(protocol.ToolResultBlock)
			if !ok {
				continue
			}
			if callID, ok := public[tr.ToolUseID]; ok {
				results[callID] = PendingResult{IsError: tr.IsError, Content: tr.Content}
				found = true
			}
		}
		if found {
			break
		}
	}
	return results, nil
}
