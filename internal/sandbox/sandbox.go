// Package sandbox adapts a Docker-backed code execution image into the
// pause/resume generator contract the PTC orchestrator drives: start a
// session, run code inside it, and surface every tool call the running code
// attempts as a discrete event the orchestrator can answer before resuming
// execution. It is grounded on haasonsaas-nexus/internal/tools/sandbox's
// Pool/Executor split, generalized from "one-shot execute and collect" to
// "long-lived session with mid-stream pauses," since a PTC session spans
// multiple code executions across orchestrator rounds rather than a single
// call.
package sandbox

import (
	"context"
	"encoding/json"
	"time"
)

// Session is an isolated execution context: one container, one workspace,
// reused across every execute_code call an orchestrator session makes until
// it idles out or is explicitly closed.
type Session struct {
	ID          string
	ContainerID string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	LastUsedAt  time.Time

	// busy is true while an execute_code run owns this session's generator
	// handle; a second concurrent run on the same session must fail rather
	// than interleave with the first.
	busy bool
}

// ToolCallRequest is a single tool invocation the running code attempted via
// its in-harness call_tool shim.
type ToolCallRequest struct {
	Name      string
	CallID    string
	Arguments json.RawMessage
}

// BatchToolCallRequest is an ordered set of tool invocations the running
// code issued together (an asyncio.gather(...)-style parallel fan-out); the
// orchestrator must reinject all N results, in original order, before the
// generator resumes.
type BatchToolCallRequest struct {
	Calls []ToolCallRequest
}

// ExecutionResult is the terminal event of one execute_code run.
type ExecutionResult struct {
	Success bool
	Stdout  string
	Stderr  string
}

// Event is the closed union a running ExecutionStream yields: exactly one of
// ToolCallRequest, BatchToolCallRequest, or ExecutionResult is non-nil.
type Event struct {
	ToolCall  *ToolCallRequest
	BatchCall *BatchToolCallRequest
	Result    *ExecutionResult
}

// ExecutionStream is the pull-based generator substitute standing in for
// Python's async generator: the sandbox-side goroutine blocks writing an
// Event and waits for an injected result/error before resuming the running
// code, mirroring the supervising-goroutine/running-command handoff
// haasonsaas-nexus's pooled executors use.
type ExecutionStream interface {
	// Next blocks until the running code yields another Event or finishes.
	// Returns (Event{}, false, nil) once the stream is exhausted after a
	// terminal ExecutionResult has already been delivered.
	Next(ctx context.Context) (Event, bool, error)

	// InjectResult resumes the generator after a ToolCallRequest or the
	// matching member of a BatchToolCallRequest, supplying the tool's
	// result content.
	InjectResult(ctx context.Context, callID string, result json.RawMessage) error

	// InjectError resumes the generator reporting that callID's tool call
	// failed, used when the client signals a tool error.
	InjectError(ctx context.Context, callID string, message string) error

	// Close abandons the stream, killing the in-flight execution if one is
	// still running.
	Close() error
}

// Executor is the sandbox contract: session lifecycle plus the
// generator-returning execute_code entry point.
type Executor interface {
	CreateSession(ctx context.Context, toolDefs json.RawMessage) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, bool, error)
	CloseSession(ctx context.Context, id string) error

	ExecuteCode(ctx context.Context, session *Session, code string) (ExecutionStream, error)

	IsImageAvailable(ctx context.Context) (bool, error)
	EnsureImageAvailable(ctx context.Context) error
}
