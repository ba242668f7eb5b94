package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/stdcopy"
)

// harnessLine is the newline-delimited JSON envelope the in-container
// harness writes to stdout for every event, and the gateway writes back on
// stdin to resume it. Exactly one of the payload fields is populated per
// direction, matching the ToolCallRequest/BatchToolCallRequest/
// ExecutionResult closed union.
type harnessLine struct {
	Type string `json:"type"`

	// harness -> gateway
	Name      string            `json:"name,omitempty"`
	CallID    string            `json:"call_id,omitempty"`
	Arguments json.RawMessage   `json:"arguments,omitempty"`
	Calls     []harnessLine     `json:"calls,omitempty"`
	Success   bool              `json:"success,omitempty"`
	Stdout    string            `json:"stdout,omitempty"`
	Stderr    string            `json:"stderr,omitempty"`

	// gateway -> harness
	Result  json.RawMessage `json:"result,omitempty"`
	Message string          `json:"message,omitempty"`
}

const (
	harnessTypeToolCall      = "tool_call"
	harnessTypeBatchToolCall = "batch_tool_call"
	harnessTypeResult        = "execution_result"
	harnessTypeToolResult    = "tool_result"
	harnessTypeToolError     = "tool_error"
)

// harnessStream implements ExecutionStream over one attached docker exec,
// demultiplexing the exec's stdout/stderr frame stream with stdcopy and
// scanning the resulting stdout byte stream for newline-delimited harness
// events. It is a channel-backed "yield" substitute: the read side here
// blocks in Next exactly the way a supervising goroutine blocks reading a
// running command's output in haasonsaas-nexus's pooled executors.
type harnessStream struct {
	attach types.HijackedResponse

	lines  chan harnessLine
	errc   chan error
	closed chan struct{}

	mu       sync.Mutex
	done     bool
	onFinish func()
}

func newHarnessStream(attach types.HijackedResponse, execTimeout time.Duration, onFinish func()) *harnessStream {
	s := &harnessStream{
		attach:   attach,
		lines:    make(chan harnessLine, 8),
		errc:     make(chan error, 1),
		closed:   make(chan struct{}),
		onFinish: onFinish,
	}
	stdoutR, stdoutW := io.Pipe()
	go func() {
		defer stdoutW.Close()
		if _, err := stdcopy.StdCopy(stdoutW, io.Discard, attach.Reader); err != nil && err != io.EOF {
			stdoutW.CloseWithError(err)
		}
	}()
	go s.pump(stdoutR, execTimeout)
	return s
}

func (s *harnessStream) pump(r io.Reader, execTimeout time.Duration) {
	defer close(s.lines)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	deadline := time.Now().Add(execTimeout)
	for scanner.Scan() {
		if execTimeout > 0 && time.Now().After(deadline) {
			s.errc <- fmt.Errorf("sandbox: execution exceeded timeout %s", execTimeout)
			return
		}
		var line harnessLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			s.errc <- fmt.Errorf("sandbox: decode harness line: %w", err)
			return
		}
		select {
		case s.lines <- line:
		case <-s.closed:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.errc <- fmt.Errorf("sandbox: read harness stdout: %w", err)
	}
}

// Next blocks for the next harness event and translates it into the
// ExecutionStream Event union.
func (s *harnessStream) Next(ctx context.Context) (Event, bool, error) {
	select {
	case <-ctx.Done():
		return Event{}, false, ctx.Err()
	case err := <-s.errc:
		s.finish()
		return Event{}, false, err
	case line, ok := <-s.lines:
		if !ok {
			s.finish()
			return Event{}, false, nil
		}
		return translateHarnessLine(line), true, nil
	}
}

func translateHarnessLine(line harnessLine) Event {
	switch line.Type {
	case harnessTypeToolCall:
		return Event{ToolCall: &ToolCallRequest{Name: line.Name, CallID: line.CallID, Arguments: line.Arguments}}
	case harnessTypeBatchToolCall:
		calls := make([]ToolCallRequest, 0, len(line.Calls))
		for _, c := range line.Calls {
			calls = append(calls, ToolCallRequest{Name: c.Name, CallID: c.CallID, Arguments: c.Arguments})
		}
		return Event{BatchCall: &BatchToolCallRequest{Calls: calls}}
	case harnessTypeResult:
		return Event{Result: &ExecutionResult{Success: line.Success, Stdout: line.Stdout, Stderr: line.Stderr}}
	default:
		return Event{}
	}
}

// InjectResult writes a tool_result envelope back to the harness's stdin,
// resuming the code that's blocked on call_tool.
func (s *harnessStream) InjectResult(ctx context.Context, callID string, result json.RawMessage) error {
	return s.writeLine(harnessLine{Type: harnessTypeToolResult, CallID: callID, Result: result})
}

// InjectError writes a tool_error envelope back to the harness's stdin.
func (s *harnessStream) InjectError(ctx context.Context, callID string, message string) error {
	return s.writeLine(harnessLine{Type: harnessTypeToolError, CallID: callID, Message: message})
}

func (s *harnessStream) writeLine(line harnessLine) error {
	data, err := json.Marshal(line)
	if err != nil {
		return err
	}
	_, err = s.attach.Conn.Write(append(data, '\n'))
	return err
}

// Close abandons the stream, closing the underlying exec connection; if
// execution is still running inside the container it is killed with it.
func (s *harnessStream) Close() error {
	s.finish()
	s.attach.Close()
	return nil
}

func (s *harnessStream) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	close(s.closed)
	if s.onFinish != nil {
		s.onFinish()
	}
}
