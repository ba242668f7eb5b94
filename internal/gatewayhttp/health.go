package gatewayhttp

import (
	"net/http"
)

// handleHealth reports basic liveness plus sandbox image readiness, the
// aggregate health view operators poll.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	imageOK, _ := s.Sandbox.IsImageAvailable(r.Context())
	status := "ok"
	code := http.StatusOK
	if !imageOK {
		status = "degraded"
		code = http.StatusOK
	}
	writeJSON(w, code, map[string]any{
		"status":           status,
		"sandbox_image_ok": imageOK,
		"ptc_sessions":     s.Orchestrator.Sessions().Count(),
	})
}

// handleReady reports whether the gateway can accept traffic: the sandbox
// image must be pulled, since PTC requests would otherwise fail on first
// use.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	imageOK, err := s.Sandbox.IsImageAvailable(r.Context())
	if err != nil || !imageOK {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

// handleLiveness is a bare process-liveness probe with no collaborator
// checks, so an orchestrator platform never restarts the process merely
// because Bedrock or DynamoDB is slow.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"alive": true})
}

// handlePTCHealth exposes Docker/sandbox-image availability, the in-memory
// PTC session count and a sample of session ids, and a sticky-routing note
// for multi-instance deployments. Mirrors health.py's ptc_health_check:
// Docker unreachable reports 503, a missing sandbox image triggers an
// auto-pull attempt via EnsureImageAvailable, and the session sample exists
// to diagnose "session not found" reports caused by a load balancer that
// isn't routing PTC continuation requests back to the instance holding the
// live container.
func (s *Server) handlePTCHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	result := map[string]any{
		"enabled": s.Config.PTC.Enabled,
		"config": map[string]any{
			"sandbox_image":     s.Config.PTC.SandboxImage,
			"session_timeout":   s.Config.PTC.SessionTimeout.String(),
			"execution_timeout": s.Config.PTC.ExecutionTimeout.String(),
			"memory_limit_mb":   s.Config.PTC.MemoryLimitMB,
			"network_disabled":  s.Config.PTC.NetworkDisabled,
		},
		"multi_instance_note": "PTC sessions are instance-local; enable sticky (session-affinity) routing at the load balancer for multi-instance deployments, or continuation requests for an active session may land on an instance without its container.",
	}
	if !s.Config.PTC.Enabled {
		result["status"] = "disabled"
		writeJSON(w, http.StatusOK, result)
		return
	}

	imageOK, err := s.Sandbox.IsImageAvailable(ctx)
	if err != nil {
		result["status"] = "unhealthy"
		result["docker"] = "unavailable"
		result["error"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, result)
		return
	}
	result["docker"] = "connected"

	if !imageOK {
		result["image_pull_status"] = "pulling"
		if err := s.Sandbox.EnsureImageAvailable(ctx); err != nil {
			result["image_pull_status"] = "failed"
			result["image_pull_error"] = err.Error()
		} else {
			result["image_pull_status"] = "success"
			imageOK = true
		}
	}
	result["sandbox_image_available"] = imageOK

	sessions := s.Orchestrator.Sessions()
	result["session_count"] = sessions.Count()
	result["sample_sessions"] = sessions.SampleIDs(10)
	result["status"] = "healthy"
	writeJSON(w, http.StatusOK, result)
}
