package gatewayhttp

import (
	"net/http"

	"goa.design/bedrock-gateway/internal/protocol"
)

// handleListModels implements GET /v1/models, ported from
// bedrock_service.py's list_available_models: the distilled spec dropped
// this surface entirely, but it costs nothing to carry once Catalog is wired
// and lets callers discover which Bedrock foundation models the gateway can
// reach without hardcoding a model-id list client-side.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.Catalog.ListModels(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

// handleGetModel implements GET /v1/models/{model_id}, ported from
// bedrock_service.py's get_model_info, including its
// None-on-ResourceNotFoundException behavior surfaced here as a 404.
func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	modelID := r.PathValue("model_id")
	info, err := s.Catalog.GetModel(r.Context(), modelID)
	if err != nil {
		writeError(w, err)
		return
	}
	if info == nil {
		writeError(w, protocol.NewGatewayError(protocol.ErrorNotFound, "model not found: "+modelID, nil))
		return
	}
	writeJSON(w, http.StatusOK, info)
}
