package gatewayhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"goa.design/bedrock-gateway/internal/protocol"
)

// decodeRequest reads and JSON-decodes r's body into a protocol.Request,
// folding in the out-of-band anthropic-beta and container-id headers, and
// restores r.Body so later handlers in the chain can decode it again
// without re-reading the network.
func decodeRequest(r *http.Request) (*protocol.Request, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(strings.NewReader(string(body)))

	var req protocol.Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	req.AnthropicBeta = parseBetaHeader(r.Header.Get("anthropic-beta"))
	req.ContainerID = strings.TrimSpace(r.Header.Get("X-Gateway-Container-Id"))
	if err := validateToolSchemas(req.Tools); err != nil {
		return nil, err
	}
	return &req, nil
}

// validateToolSchemas rejects a request up front if any declared tool's
// input_schema is not itself valid JSON Schema, rather than discovering the
// malformed schema only once Bedrock rejects the tool spec.
func validateToolSchemas(tools []protocol.ToolDefinition) error {
	for _, t := range tools {
		if err := protocol.ValidateToolSchema(t.InputSchema); err != nil {
			return fmt.Errorf("tool %q: %w", t.Name, err)
		}
	}
	return nil
}

func parseBetaHeader(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func withDecodedRequest(ctx context.Context, req *protocol.Request) context.Context {
	return context.WithValue(ctx, ctxKeyDecodedRequest, req)
}

func decodedRequestFromContext(ctx context.Context) (*protocol.Request, bool) {
	req, ok := ctx.Value(ctxKeyDecodedRequest).(*protocol.Request)
	return req, ok
}
