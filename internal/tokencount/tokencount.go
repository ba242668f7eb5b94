// Package tokencount implements the gateway's deterministic token-count
// fallback estimator, grounded on the same character-walk
// heuristic style as features/model/middleware/ratelimit.go's
// estimateTokens, extended with CJK-aware character classes and
// per-block-type constants.
package tokencount

import (
	"encoding/json"
	"math"

	"goa.design/bedrock-gateway/internal/protocol"
)

const (
	imageTokens    = 85
	documentTokens = 250
	// framingOverhead accounts for message/role/turn framing Bedrock adds on
	// top of raw text tokens.
	framingOverhead = 1.05
)

// cjkRanges lists the Unicode ranges treated as CJK, each counted as a full
// token rather than the 1/4-token Latin-script heuristic.
var cjkRanges = [][2]rune{
	{0x4E00, 0x9FFF},
	{0x3400, 0x4DBF},
	{0x20000, 0x2A6DF},
	{0x2A700, 0x2B73F},
	{0x2B740, 0x2B81F},
	{0x2B820, 0x2CEAF},
	{0xF900, 0xFAFF},
	{0x2F800, 0x2FA1F},
	{0x3040, 0x309F},
	{0x30A0, 0x30FF},
	{0xAC00, 0xD7AF},
}

func isCJK(r rune) bool {
	for _, rg := range cjkRanges {
		if r >= rg[0] && r <= rg[1] {
			return true
		}
	}
	return false
}

// textTokens estimates the token count of s: each CJK rune counts as 1
// token, every other rune counts as 1/4 token, floored to an int.
func textTokens(s string) int {
	if s == "" {
		return 0
	}
	var total float64
	for _, r := range s {
		if isCJK(r) {
			total++
		} else {
			total += 0.25
		}
	}
	return int(math.Floor(total))
}

// Estimate walks all text in system, messages, and tool specs of req and
// returns a monotone token estimate: adding any character never decreases
// the result.
func Estimate(req *protocol.Request) (int, error) {
	var total int

	entries, err := req.SystemEntries()
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		total += textTokens(e.Text)
	}

	for _, msg := range req.Messages {
		blocks, err := msg.Blocks()
		if err != nil {
			return 0, err
		}
		total += estimateBlocks(blocks)
	}

	for _, tool := range req.Tools {
		total += textTokens(tool.Name)
		total += textTokens(tool.Description)
		total += textTokens(schemaText(tool.InputSchema))
	}

	result := int(math.Ceil(float64(total) * framingOverhead))
	if result < 1 {
		result = 1
	}
	return result, nil
}

func estimateBlocks(blocks protocol.ContentBlocks) int {
	var total int
	for _, b := range blocks {
		switch v := b.(type) {
		case protocol.TextBlock:
			total += textTokens(v.Text)
		case protocol.ThinkingBlock:
			total += textTokens(v.Thinking)
		case protocol.ToolUseBlock:
			total += textTokens(string(v.Input))
		case protocol.ToolResultBlock:
			total += textTokens(resultText(v.Content))
		case protocol.ImageBlock:
			total += imageTokens
		case protocol.DocumentBlock:
			total += documentTokens
		case protocol.CitationsBlock:
			for _, c := range v.Cited {
				total += textTokens(c)
			}
		}
	}
	return total
}

func resultText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func schemaText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	return string(raw)
}
