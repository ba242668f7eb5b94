package protocol

import "strings"

// BetaTables configures how the comma-separated anthropic-beta request
// header is translated into the set of backend beta values actually sent to
// Bedrock:
//
//  1. Values present in Mapping expand to a list of backend beta values.
//  2. Values present in Passthrough forward unchanged.
//  3. Values present in Blocklist are dropped.
//  4. Unknown values forward unchanged.
//
// If any resulting backend beta value is in RequiresInvokeModel and the
// resolved model is Anthropic-family, the request is forced to native shape
// even when Converse would otherwise serve the model.
type BetaTables struct {
	Mapping            map[string][]string
	Passthrough        map[string]bool
	Blocklist          map[string]bool
	RequiresInvokeModel map[string]bool
	SupportedModels    map[string]bool
}

// DefaultBetaTables returns a table reflecting the beta surface an
// end-to-end PTC flow exercises: the PTC beta expands to the tool-search
// family, both of which require InvokeModel.
func DefaultBetaTables() BetaTables {
	return BetaTables{
		Mapping: map[string][]string{
			"advanced-tool-use-2025-11-20": {
				"tool-examples-2025-11-20",
				"tool-search-tool-2025-11-20",
			},
		},
		Passthrough: map[string]bool{
			"interleaved-thinking-2025-05-14": true,
			"context-1m-2025-08-07":           true,
			"fine-grained-tool-streaming-2025-05-14": true,
		},
		Blocklist: map[string]bool{
			"computer-use-2025-01-24": true,
		},
		RequiresInvokeModel: map[string]bool{
			"tool-examples-2025-11-20":    true,
			"tool-search-tool-2025-11-20": true,
		},
		SupportedModels: map[string]bool{},
	}
}

// ParseBetaHeader splits the comma-separated anthropic-beta header value
// into trimmed, non-empty tokens.
func ParseBetaHeader(header string) []string {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Resolve applies the four-rule beta translation to client values and
// returns the deduplicated backend-facing beta value list.
func (t BetaTables) Resolve(clientValues []string) []string {
	seen := make(map[string]bool, len(clientValues))
	var out []string
	add := func(v string) {
		if v == "" || seen[v] {
			return
		}
		seen[v] = true
		out = append(out, v)
	}
	for _, v := range clientValues {
		switch {
		case len(t.Mapping[v]) > 0:
			for _, mapped := range t.Mapping[v] {
				add(mapped)
			}
		case t.Blocklist[v]:
			// dropped
		case t.Passthrough[v]:
			add(v)
		default:
			// unknown values forward unchanged
			add(v)
		}
	}
	return out
}

// RequiresNativeShape reports whether any backend beta value forces the
// native-Anthropic-over-InvokeModel shape.
func (t BetaTables) RequiresNativeShape(backendValues []string) bool {
	for _, v := range backendValues {
		if t.RequiresInvokeModel[v] {
			return true
		}
	}
	return false
}

// PTCBetaValue is the client-supplied beta token that marks a request as
// Programmatic Tool Calling.
const PTCBetaValue = "advanced-tool-use-2025-11-20"

// HasBeta reports whether values contains target.
func HasBeta(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

// IsAnthropicFamily reports whether modelID names an Anthropic-family model.
func IsAnthropicFamily(modelID string) bool {
	lower := strings.ToLower(modelID)
	return strings.Contains(lower, "anthropic") || strings.Contains(lower, "claude")
}
