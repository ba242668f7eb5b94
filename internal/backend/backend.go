// Package backend invokes AWS Bedrock on behalf of the gateway: it owns the
// semaphore bounding concurrent backend calls, dispatches Converse or InvokeModel calls
// depending on the shape internal/convert selected, bridges Bedrock's event
// stream into Anthropic-shaped SSE events, and classifies provider errors
// into the gateway's error taxonomy. Grounded on
// features/model/bedrock/client.go's RuntimeClient/Options/Client shape and
// features/model/bedrock/stream.go's event-pump goroutine.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"golang.org/x/sync/semaphore"

	"goa.design/bedrock-gateway/internal/convert"
	"goa.design/bedrock-gateway/internal/protocol"
	"goa.design/bedrock-gateway/internal/telemetry"
)

// RuntimeClient mirrors the subset of *bedrockruntime.Client the gateway
// calls, so tests can substitute a fake (mirrors
// features/model/bedrock/client.go's RuntimeClient interface, extended with
// the InvokeModel pair the native shape requires).
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
	InvokeModelWithResponseStream(ctx context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error)
	CountTokens(ctx context.Context, params *bedrockruntime.CountTokensInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.CountTokensOutput, error)
}

// Client dispatches backend-ready requests, bounding in-flight calls with a
// weighted semaphore of fixed size, the same shape
// features/model/middleware/ratelimit.go's AdaptiveRateLimiter composes with.
type Client struct {
	runtime RuntimeClient
	sem     *semaphore.Weighted
	tel     *telemetry.Telemetry

	// serviceTierFallback maps a requested service tier to the tier retried on
	// capacity errors, e.g. "priority" -> "default".
	serviceTierFallback map[string]string
}

// Options configures a Client.
type Options struct {
	Runtime             RuntimeClient
	SemaphoreSize       int
	ServiceTierFallback map[string]string
	Telemetry           *telemetry.Telemetry
}

// New constructs a backend Client.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, errors.New("backend: runtime client is required")
	}
	size := opts.SemaphoreSize
	if size <= 0 {
		size = 15
	}
	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.Noop()
	}
	return &Client{
		runtime:             opts.Runtime,
		sem:                 semaphore.NewWeighted(int64(size)),
		tel:                 tel,
		serviceTierFallback: opts.ServiceTierFallback,
	}, nil
}

// Complete issues a single non-streaming backend call for req, dispatching
// to Converse or InvokeModel based on req.Shape, and retries once on a
// capacity error with the configured service-tier fallback.
func (c *Client) Complete(ctx context.Context, req *convert.BackendRequest) (*protocol.Response, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, protocol.NewGatewayError(protocol.ErrorServiceUnavailable, "backend concurrency limit wait canceled", err)
	}
	defer c.sem.Release(1)

	resp, err := c.complete(ctx, req)
	if err != nil && isCapacityError(err) {
		if fallback, ok := c.serviceTierFallback[req.ServiceTier]; ok {
			c.tel.Log.Warn(ctx, "backend capacity error, retrying with fallback service tier",
				"original_tier", req.ServiceTier, "fallback_tier", fallback)
			retried := *req
			retried.ServiceTier = fallback
			resp, err = c.complete(ctx, &retried)
		}
	}
	if err != nil {
		return nil, translateBackendError(err)
	}
	return resp, nil
}

func (c *Client) complete(ctx context.Context, req *convert.BackendRequest) (*protocol.Response, error) {
	switch req.Shape {
	case convert.ShapeConverse:
		out, err := c.runtime.Converse(ctx, buildConverseInput(req.Converse))
		if err != nil {
			return nil, err
		}
		return convert.ConverseResponseToProtocol(out, req.ModelID, req.ToolNameProvToCanonical)
	case convert.ShapeNative:
		out, err := c.runtime.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(req.ModelID),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        req.NativeBody,
		})
		if err != nil {
			return nil, err
		}
		return convert.NativeResponseToProtocol(out.Body, req.ToolNameProvToCanonical)
	default:
		return nil, fmt.Errorf("backend: unknown request shape %v", req.Shape)
	}
}

// CountTokens asks Bedrock's count_tokens API for the exact input token
// count of a Converse-shaped request, the primary path
// bedrock_service.py's _count_tokens_sync uses for Claude models before
// ever falling back to a local estimate: it builds the same
// {"converse": {"messages", "system", "toolConfig"}} body the model call
// itself would send and lets Bedrock count it.
func (c *Client) CountTokens(ctx context.Context, parts *convert.ConverseParts) (int, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return 0, protocol.NewGatewayError(protocol.ErrorServiceUnavailable, "backend concurrency limit wait canceled", err)
	}
	defer c.sem.Release(1)

	input := &bedrockruntime.CountTokensInput{
		ModelId: aws.String(parts.ModelID),
		Input: &brtypes.CountTokensInputUnionMemberConverse{
			Value: brtypes.ConverseTokensInput{
				Messages:   parts.Messages,
				System:     parts.System,
				ToolConfig: parts.ToolConfig,
			},
		},
	}
	out, err := c.runtime.CountTokens(ctx, input)
	if err != nil {
		return 0, translateBackendError(err)
	}
	return int(out.InputTokens), nil
}

// Stream issues a streaming backend call and returns a channel of
// Anthropic-shaped SSE events. Bedrock's Go SDK already delivers events on a
// channel, so the bridge simply forwards converted events rather than
// polling; the channel is closed when the stream ends or the context is
// canceled.
func (c *Client) Stream(ctx context.Context, req *convert.BackendRequest) (<-chan protocol.SSEEvent, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, protocol.NewGatewayError(protocol.ErrorServiceUnavailable, "backend concurrency limit wait canceled", err)
	}

	switch req.Shape {
	case convert.ShapeConverse:
		return c.streamConverse(ctx, req)
	case convert.ShapeNative:
		return c.streamNative(ctx, req)
	default:
		c.sem.Release(1)
		return nil, fmt.Errorf("backend: unknown request shape %v", req.Shape)
	}
}

func (c *Client) streamConverse(ctx context.Context, req *convert.BackendRequest) (<-chan protocol.SSEEvent, error) {
	out, err := c.runtime.ConverseStream(ctx, buildConverseStreamInput(req.Converse), streamOptions(req.Converse)...)
	if err != nil {
		c.sem.Release(1)
		return nil, translateBackendError(err)
	}
	stream := out.GetStream()
	if stream == nil {
		c.sem.Release(1)
		return nil, protocol.Internal("backend: converse stream output missing event stream", nil)
	}

	events := make(chan protocol.SSEEvent, 32)
	converter := convert.NewConverseStreamConverter(req.ModelID, req.ToolNameProvToCanonical)
	go func() {
		defer c.sem.Release(1)
		defer close(events)
		defer func() { _ = stream.Close() }()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-stream.Events():
				if !ok {
					if err := stream.Err(); err != nil {
						c.emitStreamError(ctx, events, translateBackendError(err))
					}
					return
				}
				sseEvents, err := converter.Handle(ev)
				if err != nil {
					c.emitStreamError(ctx, events, protocol.Internal("backend: convert stream event", err))
					return
				}
				for _, se := range sseEvents {
					select {
					case events <- se:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return events, nil
}

func (c *Client) streamNative(ctx context.Context, req *convert.BackendRequest) (<-chan protocol.SSEEvent, error) {
	out, err := c.runtime.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(req.ModelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        req.NativeBody,
	})
	if err != nil {
		c.sem.Release(1)
		return nil, translateBackendError(err)
	}
	stream := out.GetStream()
	if stream == nil {
		c.sem.Release(1)
		return nil, protocol.Internal("backend: invoke-model stream output missing event stream", nil)
	}

	events := make(chan protocol.SSEEvent, 32)
	converter := newNativeStreamConverter(req.ToolNameProvToCanonical)
	go func() {
		defer c.sem.Release(1)
		defer close(events)
		defer func() { _ = stream.Close() }()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-stream.Events():
				if !ok {
					if err := stream.Err(); err != nil {
						c.emitStreamError(ctx, events, translateBackendError(err))
					}
					return
				}
				chunk, ok := ev.(*brtypes.ResponseStreamMemberChunk)
				if !ok || chunk.Value.Bytes == nil {
					continue
				}
				sseEvent, err := converter.handle(chunk.Value.Bytes)
				if err != nil {
					c.emitStreamError(ctx, events, protocol.Internal("backend: convert native stream event", err))
					return
				}
				if sseEvent != nil {
					select {
					case events <- *sseEvent:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return events, nil
}

func (c *Client) emitStreamError(ctx context.Context, events chan<- protocol.SSEEvent, err error) {
	ge, ok := protocol.AsGatewayError(err)
	if !ok {
		ge = protocol.Internal(err.Error(), err)
	}
	select {
	case events <- protocol.SSEEvent{Event: "error", Data: ge.ToWire()}:
	case <-ctx.Done():
	}
}

// isCapacityError reports whether err is a throttling/capacity signal worth
// retrying on a fallback service tier, reusing the rate-limit classification
// ported into translateBackendError's underlying check.
func isCapacityError(err error) bool {
	return isRateLimited(err)
}

// isRateLimited is ported verbatim (in spirit) from
// features/model/bedrock/client.go's isRateLimited: it treats provider
// throttling codes and HTTP 429 as rate-limited regardless of which
// Bedrock API surface (Converse or InvokeModel) produced them.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException", "ServiceQuotaExceededException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429 {
		return true
	}
	return false
}

// translateBackendError classifies a raw Bedrock SDK error into a
// GatewayError exactly once, at this boundary; callers never
// re-wrap a backend error afterward.
func translateBackendError(err error) error {
	if err == nil {
		return nil
	}
	if ge, ok := protocol.AsGatewayError(err); ok {
		return ge
	}
	if isRateLimited(err) {
		return protocol.NewGatewayError(protocol.ErrorRateLimit, "backend rate limit exceeded", err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDeniedException":
			return protocol.NewGatewayError(protocol.ErrorPermission, "backend denied access to the requested model", err)
		case "ValidationException":
			return protocol.NewGatewayError(protocol.ErrorInvalidRequest, apiErr.ErrorMessage(), err)
		case "ResourceNotFoundException":
			return protocol.NewGatewayError(protocol.ErrorNotFound, "requested model not found", err)
		case "ModelErrorException", "ModelTimeoutException", "InternalServerException":
			return protocol.NewGatewayError(protocol.ErrorServiceUnavailable, "backend model error", err)
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.HTTPStatusCode() >= 500:
			return protocol.NewGatewayError(protocol.ErrorServiceUnavailable, "backend returned a server error", err)
		case respErr.HTTPStatusCode() == 401 || respErr.HTTPStatusCode() == 403:
			return protocol.NewGatewayError(protocol.ErrorAuthentication, "backend rejected credentials", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return protocol.NewGatewayError(protocol.ErrorServiceUnavailable, "backend call timed out", err)
	}
	return protocol.Internal("backend call failed", err)
}

// streamOptions adds the interleaved-thinking beta header Bedrock requires
// out-of-band for that feature, ported from
// features/model/bedrock/client.go's streamOptions.
func streamOptions(parts *convert.ConverseParts) []func(*bedrockruntime.Options) {
	if !protocol.HasBeta(parts.AnthropicBeta, "interleaved-thinking-2025-05-14") {
		return nil
	}
	return []func(*bedrockruntime.Options){
		bedrockruntime.WithAPIOptions(
			smithyhttp.AddHeaderValue("x-amzn-bedrock-beta", "interleaved-thinking-2025-05-14"),
		),
	}
}

func inferenceConfig(parts *convert.ConverseParts) *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	var set bool
	if parts.MaxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(parts.MaxTokens)) //nolint:gosec // bounded by request validation
		set = true
	}
	if parts.Temperature != nil {
		cfg.Temperature = aws.Float32(float32(*parts.Temperature))
		set = true
	}
	if parts.TopP != nil {
		cfg.TopP = aws.Float32(float32(*parts.TopP))
		set = true
	}
	if len(parts.StopSequences) > 0 {
		cfg.StopSequences = parts.StopSequences
		set = true
	}
	if !set {
		return nil
	}
	return &cfg
}

func buildConverseInput(parts *convert.ConverseParts) *bedrockruntime.ConverseInput {
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(parts.ModelID),
		Messages: parts.Messages,
	}
	if len(parts.System) > 0 {
		input.System = parts.System
	}
	if parts.ToolConfig != nil {
		input.ToolConfig = parts.ToolConfig
	}
	if cfg := inferenceConfig(parts); cfg != nil {
		input.InferenceConfig = cfg
	}
	if fields := additionalModelFields(parts); fields != nil {
		input.AdditionalModelRequestFields = fields
	}
	return input
}

func buildConverseStreamInput(parts *convert.ConverseParts) *bedrockruntime.ConverseStreamInput {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(parts.ModelID),
		Messages: parts.Messages,
	}
	if len(parts.System) > 0 {
		input.System = parts.System
	}
	if parts.ToolConfig != nil {
		input.ToolConfig = parts.ToolConfig
	}
	if cfg := inferenceConfig(parts); cfg != nil {
		input.InferenceConfig = cfg
	}
	if fields := additionalModelFields(parts); fields != nil {
		input.AdditionalModelRequestFields = fields
	}
	return input
}

// additionalModelFields carries provider-extension fields Converse's typed
// InferenceConfiguration has no slot for (top_k, thinking), the same
// document-escape-hatch features/model/bedrock/client.go's
// buildConverseStreamInput uses for its thinking config.
func additionalModelFields(parts *convert.ConverseParts) document.Interface {
	fields := map[string]any{}
	if parts.TopK != nil {
		fields["top_k"] = *parts.TopK
	}
	if parts.Thinking.Enabled() {
		thinkingCfg := map[string]any{"type": "enabled", "budget_tokens": parts.Thinking.BudgetTokens}
		fields["thinking"] = thinkingCfg
	}
	if len(fields) == 0 {
		return nil
	}
	return document.NewLazyDocument(&fields)
}

