package gatewayhttp

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"goa.design/bedrock-gateway/internal/protocol"
)

// requestLogging stamps every request with an id and logs its method, path,
// status, and latency, the outermost layer so it observes auth and
// rate-limit rejections too.
func (s *Server) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		ctx := withRequestID(r.Context(), id)
		r = r.WithContext(ctx)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.Telemetry.Log.Info(ctx, "http request",
			"request_id", id, "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration_ms", time.Since(start).Milliseconds())
		s.Telemetry.Metrics.RecordTimer("gatewayhttp.request.duration", time.Since(start),
			"path", r.URL.Path, "status", statusLabel(rec.status))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}

// authenticate resolves the x-api-key header against the api_keys table,
// rejecting with the corresponding error kind on a miss, deactivation, or
// exhausted budget.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("x-api-key"))
		rec, err := s.APIKeys.Authenticate(r.Context(), key)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := withAPIKey(r.Context(), key, rec)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rateLimit waits on the caller's adaptive token-bucket limiter before
// admitting the request, decoding the body to estimate its token cost and
// restoring it for the downstream handler.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeRequest(r)
		if err != nil {
			writeError(w, protocol.Invalid("malformed request body: %v", err))
			return
		}
		limiter := s.Limiters.For(r.Context(), apiKeyFromContext(r.Context()))
		if err := limiter.Wait(r.Context(), req); err != nil {
			writeError(w, err)
			return
		}
		ctx := withDecodedRequest(r.Context(), req)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
