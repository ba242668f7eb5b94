package gatewayhttp

import (
	"context"
	"net/http"
	"time"

	"goa.design/bedrock-gateway/internal/convert"
	"goa.design/bedrock-gateway/internal/protocol"
	"goa.design/bedrock-gateway/internal/ptc"
	"goa.design/bedrock-gateway/internal/ratelimit"
	"goa.design/bedrock-gateway/internal/sse"
	"goa.design/bedrock-gateway/internal/store"
	"goa.design/bedrock-gateway/internal/tokencount"
)

// handleMessages implements POST /v1/messages: classify the
// request as PTC or direct, invoke the corresponding pipeline, render the
// response (synthesized or native SSE, or a single JSON body), and record
// usage/spend.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decodedRequestFromContext(ctx)
	if !ok {
		writeError(w, protocol.Internal("request was not decoded upstream", nil))
		return
	}

	limiter := s.Limiters.For(ctx, apiKeyFromContext(ctx))

	if ptc.IsPTCRequest(s.Config.PTC.Enabled, req) {
		s.handlePTCMessage(w, r, req, limiter)
		return
	}
	s.handleDirectMessage(w, r, req, limiter)
}

func (s *Server) handlePTCMessage(w http.ResponseWriter, r *http.Request, req *protocol.Request, limiter *ratelimit.Limiter) {
	ctx := r.Context()
	resp, err := s.Orchestrator.Handle(ctx, req)
	limiter.Observe(err)
	if err != nil {
		s.recordUsage(ctx, req, nil, err)
		writeError(w, err)
		return
	}
	s.recordUsage(ctx, req, resp, nil)

	if !req.Stream {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	// Hybrid streaming: the orchestrator always runs non-streaming internally,
	// so the client's streamed view is synthesized here.
	sw, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, protocol.Internal("streaming unsupported by response writer", err))
		return
	}
	_ = sse.Pump(sw, sse.SynthesizeFromResponse(resp))
}

func (s *Server) handleDirectMessage(w http.ResponseWriter, r *http.Request, req *protocol.Request, limiter *ratelimit.Limiter) {
	ctx := r.Context()

	resolver, err := s.resolveModel(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}
	backendReq, err := convert.BuildBackendRequest(ctx, req, resolver, s.BetaTables)
	if err != nil {
		writeError(w, err)
		return
	}

	if !req.Stream {
		resp, err := s.Backend.Complete(ctx, backendReq)
		limiter.Observe(err)
		if err != nil {
			s.recordUsage(ctx, req, nil, err)
			writeError(w, err)
			return
		}
		s.recordUsage(ctx, req, resp, nil)
		writeJSON(w, http.StatusOK, resp)
		return
	}

	events, err := s.Backend.Stream(ctx, backendReq)
	limiter.Observe(err)
	if err != nil {
		writeError(w, err)
		return
	}
	sw, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, protocol.Internal("streaming unsupported by response writer", err))
		return
	}
	var final protocol.Response
	tap := make(chan protocol.SSEEvent, 32)
	go tapUsage(events, tap, &final)
	_ = sse.Pump(sw, tap)
	s.recordUsage(ctx, req, &final, nil)
}

// tapUsage forwards every event from src to dst unchanged while accumulating
// the final response's usage fields from message_start/message_delta
// payloads, so the handler can record usage after the stream completes
// without buffering the whole response body.
func tapUsage(src <-chan protocol.SSEEvent, dst chan<- protocol.SSEEvent, final *protocol.Response) {
	defer close(dst)
	for ev := range src {
		switch payload := ev.Data.(type) {
		case protocol.MessageStartPayload:
			final.ID = payload.Message.ID
			final.Model = payload.Message.Model
			final.Usage = payload.Message.Usage
		case protocol.MessageDeltaPayload:
			final.StopReason = payload.Delta.StopReason
			final.Usage.OutputTokens = payload.Usage.OutputTokens
		}
		dst <- ev
	}
}

// resolveModel folds a model_mapping table hit on top of the configured
// default map, falling back to the
// defaults-only resolver on a lookup miss or store error so a DynamoDB
// outage degrades to static mapping rather than failing every request.
func (s *Server) resolveModel(ctx context.Context, req *protocol.Request) (convert.ModelResolver, error) {
	if s.ModelMap == nil {
		return s.resolverFor(nil), nil
	}
	resolved, ok, err := s.ModelMap.Resolve(ctx, req.Model)
	if err != nil {
		s.Telemetry.Log.Warn(ctx, "model mapping lookup failed, falling back to static defaults",
			"model", req.Model, "error", err)
		return s.resolverFor(nil), nil
	}
	if !ok {
		return s.resolverFor(nil), nil
	}
	return s.resolverFor(map[string]string{req.Model: resolved}), nil
}

// handleCountTokens implements POST /v1/messages/count_tokens: for
// Anthropic-family models it calls Bedrock's count_tokens API with the same
// Converse-shaped body the model call itself would send, and falls back to
// the deterministic estimator whenever that call errors, returns zero, or
// the model isn't Anthropic-family in the first place.
func (s *Server) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decodedRequestFromContext(ctx)
	if !ok {
		writeError(w, protocol.Internal("request was not decoded upstream", nil))
		return
	}

	if count, ok := s.backendTokenCount(ctx, req); ok {
		writeJSON(w, http.StatusOK, protocol.CountTokensResponse{InputTokens: count})
		return
	}

	count, err := tokencount.Estimate(req)
	if err != nil {
		writeError(w, protocol.Invalid("count_tokens: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, protocol.CountTokensResponse{InputTokens: count})
}

// backendTokenCount asks Bedrock for an exact input token count, mirroring
// bedrock_service.py's count_tokens/_count_tokens_sync: only Claude models
// get a real backend call, and any build failure, backend error, or a
// reported count of zero falls back to the estimator rather than failing
// the request.
func (s *Server) backendTokenCount(ctx context.Context, req *protocol.Request) (int, bool) {
	resolver, err := s.resolveModel(ctx, req)
	if err != nil {
		return 0, false
	}
	backendReq, err := convert.BuildBackendRequest(ctx, req, resolver, s.BetaTables)
	if err != nil || backendReq.Shape != convert.ShapeConverse || !protocol.IsAnthropicFamily(backendReq.ModelID) {
		return 0, false
	}
	count, err := s.Backend.CountTokens(ctx, backendReq.Converse)
	if err != nil || count <= 0 {
		return 0, false
	}
	return count, true
}

// recordUsage writes the usage row, accumulates per-key stats, and applies
// spend against the key's monthly budget. Failures are logged, not
// surfaced: a bookkeeping outage must never turn a successful model call
// into an error response to the client.
func (s *Server) recordUsage(ctx context.Context, req *protocol.Request, resp *protocol.Response, callErr error) {
	apiKey := apiKeyFromContext(ctx)
	now := time.Now()

	if s.Usage != nil {
		_ = s.Usage.Put(ctx, usageRecordFrom(apiKey, requestIDFromContext(ctx), req, resp, callErr), now)
	}
	if resp == nil || apiKey == "" {
		return
	}
	if s.Pricing != nil && s.APIKeys != nil {
		pricing, err := s.Pricing.Get(ctx, resp.Model)
		if err == nil {
			cost := pricing.Cost(resp.Usage)
			if err := s.APIKeys.RecordSpend(ctx, apiKey, cost, now); err != nil {
				s.Telemetry.Log.Warn(ctx, "record spend failed", "api_key", apiKey, "error", err)
			}
			if s.UsageStats != nil {
				if err := s.UsageStats.Accumulate(ctx, apiKey, resp.Usage, cost, now); err != nil {
					s.Telemetry.Log.Warn(ctx, "accumulate usage stats failed", "api_key", apiKey, "error", err)
				}
			}
		} else {
			s.Telemetry.Log.Warn(ctx, "pricing lookup failed, skipping spend accounting", "model", resp.Model, "error", err)
		}
	}
}

// usageRecordFrom builds the usage table row for one completed call.
func usageRecordFrom(apiKey, requestID string, req *protocol.Request, resp *protocol.Response, callErr error) store.UsageRecord {
	rec := store.UsageRecord{
		APIKey:    apiKey,
		RequestID: requestID,
		Model:     req.Model,
		Success:   callErr == nil,
	}
	if callErr != nil {
		rec.ErrorMessage = callErr.Error()
	}
	if resp != nil {
		rec.Model = resp.Model
		rec.InputTokens = resp.Usage.InputTokens
		rec.OutputTokens = resp.Usage.OutputTokens
		if resp.Usage.CacheReadInputTokens != nil {
			rec.CachedTokens = *resp.Usage.CacheReadInputTokens
		}
		if resp.Usage.CacheCreationInputTokens != nil {
			rec.CacheWriteInputTokens = *resp.Usage.CacheCreationInputTokens
		}
	}
	return rec
}
