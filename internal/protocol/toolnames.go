package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SanitizeToolName maps a canonical tool name to the character set Bedrock's
// ToolSpecification.Name accepts ([a-zA-Z0-9_-]+, <=64 chars), generalized
// from the Bedrock adapter elsewhere in this codebase to also cover
// synthesized PTC tool names (execute_code) and the versioned
// tool_search_tool_* family. The mapping is deterministic; names that already
// satisfy the constraint pass through unchanged, everything else is
// rune-filtered and, if too long, truncated with a stable sha256-derived
// suffix to avoid collisions.
func SanitizeToolName(in string) string {
	if in == "" {
		return ""
	}
	const maxLen = 64
	const hashLen = 8

	allowed := true
	for _, r := range in {
		if r == '.' {
			continue
		}
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_', r == '-':
		default:
			allowed = false
		}
		if !allowed {
			break
		}
	}

	var sanitized string
	if allowed {
		sanitized = strings.ReplaceAll(in, ".", "_")
	} else {
		out := make([]rune, 0, len(in))
		for _, r := range in {
			switch {
			case r == '.':
				out = append(out, '_')
			case r >= 'a' && r <= 'z':
				out = append(out, r)
			case r >= 'A' && r <= 'Z':
				out = append(out, r)
			case r >= '0' && r <= '9':
				out = append(out, r)
			case r == '_' || r == '-':
				out = append(out, r)
			default:
				out = append(out, '_')
			}
		}
		sanitized = string(out)
	}

	if len(sanitized) <= maxLen {
		return sanitized
	}
	sum := sha256.Sum256([]byte(in))
	suffix := hex.EncodeToString(sum[:])[:hashLen]
	prefixLen := maxLen - (1 + hashLen)
	if prefixLen < 1 {
		prefixLen = 1
	}
	return sanitized[:prefixLen] + "_" + suffix
}

// versionedToolRenames maps versioned server-tool type markers to the
// Bedrock-recognized tool name Converse expects in ToolSpecification.Name.
var versionedToolRenames = map[string]string{
	ToolTypeToolSearchRegex: "tool_search_tool_regex",
	ToolTypeToolSearch:      "tool_search_tool",
}

// RenameVersionedToolType returns the Bedrock-recognized name for a versioned
// tool type marker, or ok=false if toolType names no known versioned tool.
func RenameVersionedToolType(toolType string) (string, bool) {
	name, ok := versionedToolRenames[toolType]
	return name, ok
}

// ExecuteCodeToolName is the synthesized tool name the PTC orchestrator
// substitutes for the code_execution_20250825 server tool.
const ExecuteCodeToolName = "execute_code"
