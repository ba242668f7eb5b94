package gatewayhttp

import (
	"encoding/json"
	"net/http"

	"goa.design/bedrock-gateway/internal/protocol"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as the Anthropic-shaped error body,
// translating a bare error into an internal api_error if it isn't already a
// *protocol.GatewayError.
func writeError(w http.ResponseWriter, err error) {
	ge, ok := protocol.AsGatewayError(err)
	if !ok {
		ge = protocol.Internal(err.Error(), err)
	}
	writeJSON(w, ge.Status, ge.ToWire())
}
