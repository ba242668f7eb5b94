// Package gatewayhttp implements the gateway's HTTP surface:
// POST /v1/messages, POST /v1/messages/count_tokens, and the health
// endpoints. Routing uses the standard library's net/http.ServeMux
// (Go 1.22+ method+pattern routing) since the HTTP framework itself is an
// out-of-scope collaborator; handlers are composed with the same
// registration-order onion middleware style features/model/gateway.Server
// uses for its UnaryHandler/StreamHandler chains, adapted to wrap
// http.Handler instead.
package gatewayhttp

import (
	"net/http"

	"goa.design/bedrock-gateway/internal/backend"
	"goa.design/bedrock-gateway/internal/config"
	"goa.design/bedrock-gateway/internal/convert"
	"goa.design/bedrock-gateway/internal/protocol"
	"goa.design/bedrock-gateway/internal/ptc"
	"goa.design/bedrock-gateway/internal/ratelimit"
	"goa.design/bedrock-gateway/internal/sandbox"
	"goa.design/bedrock-gateway/internal/store"
	"goa.design/bedrock-gateway/internal/telemetry"
)

// Middleware wraps an http.Handler to add behavior before, after, or around
// the handler invocation, mirroring gateway.Server's UnaryMiddleware shape
// at the transport layer.
type Middleware func(http.Handler) http.Handler

// Chain composes mw in registration order: the first middleware registered
// becomes the outermost layer, wrapping every middleware after it and
// finally next.
func Chain(next http.Handler, mw ...Middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		next = mw[i](next)
	}
	return next
}

// Server bundles every collaborator the gateway's HTTP handlers need.
type Server struct {
	Config       *config.Config
	Backend      *backend.Client
	Catalog      *backend.Catalog
	BetaTables   protocol.BetaTables
	Orchestrator *ptc.Orchestrator
	Sandbox      sandbox.Executor
	APIKeys      *store.APIKeyStore
	Usage        *store.UsageStore
	UsageStats   *store.UsageStatsStore
	Pricing      *store.PricingStore
	ModelMap     *store.ModelMappingStore
	Limiters     *ratelimit.Registry
	Telemetry    *telemetry.Telemetry
}

// New constructs a Server, defaulting Telemetry to a no-op implementation.
func New(s Server) *Server {
	if s.Telemetry == nil {
		s.Telemetry = telemetry.Noop()
	}
	return &s
}

// Routes builds the gateway's request router with every middleware layer
// applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /v1/messages", s.wrap(http.HandlerFunc(s.handleMessages)))
	mux.Handle("POST /v1/messages/count_tokens", s.wrap(http.HandlerFunc(s.handleCountTokens)))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /liveness", s.handleLiveness)
	mux.HandleFunc("GET /health/ptc", s.handlePTCHealth)
	if s.Catalog != nil {
		mux.Handle("GET /v1/models", s.wrapAuth(http.HandlerFunc(s.handleListModels)))
		mux.Handle("GET /v1/models/{model_id}", s.wrapAuth(http.HandlerFunc(s.handleGetModel)))
	}
	return mux
}

// wrap applies the request-logging, authentication, and rate-limit layers
// around h, in that registration order: requestLogging is outermost (it logs
// every request including auth/rate-limit rejections), authenticate runs
// next, and rateLimit runs only once a key is known good.
func (s *Server) wrap(h http.Handler) http.Handler {
	return Chain(h, s.requestLogging, s.authenticate, s.rateLimit)
}

// wrapAuth is wrap without the rate-limit layer, for GET endpoints with no
// Messages-shaped body for rateLimit to decode and cost.
func (s *Server) wrapAuth(h http.Handler) http.Handler {
	return Chain(h, s.requestLogging, s.authenticate)
}

// resolverFor builds a per-request ModelResolver, folding a model_mapping
// table hit (if any) on top of the configured default map: per-key override,
// configured default, pass through. The gateway has no per-key override
// table of its own yet, so PerKeyOverride here carries only the single
// request's resolved mapping.
func (s *Server) resolverFor(resolved map[string]string) convert.ModelResolver {
	return convert.ModelResolver{
		PerKeyOverride: resolved,
		Defaults:       s.Config.ModelMappingDefaults,
	}
}
