package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBetaTablesResolve(t *testing.T) {
	tbl := DefaultBetaTables()

	t.Run("mapping expands", func(t *testing.T) {
		got := tbl.Resolve([]string{"advanced-tool-use-2025-11-20"})
		assert.ElementsMatch(t, []string{"tool-examples-2025-11-20", "tool-search-tool-2025-11-20"}, got)
	})

	t.Run("passthrough forwards unchanged", func(t *testing.T) {
		got := tbl.Resolve([]string{"interleaved-thinking-2025-05-14"})
		assert.Equal(t, []string{"interleaved-thinking-2025-05-14"}, got)
	})

	t.Run("blocklist drops", func(t *testing.T) {
		got := tbl.Resolve([]string{"computer-use-2025-01-24"})
		assert.Empty(t, got)
	})

	t.Run("unknown forwards unchanged", func(t *testing.T) {
		got := tbl.Resolve([]string{"some-future-beta"})
		assert.Equal(t, []string{"some-future-beta"}, got)
	})

	t.Run("requires invoke model", func(t *testing.T) {
		backend := tbl.Resolve([]string{"advanced-tool-use-2025-11-20"})
		assert.True(t, tbl.RequiresNativeShape(backend))
	})
}

func TestParseBetaHeader(t *testing.T) {
	got := ParseBetaHeader(" a, b ,, c")
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Nil(t, ParseBetaHeader(""))
}

func TestIsAnthropicFamily(t *testing.T) {
	assert.True(t, IsAnthropicFamily("anthropic.claude-sonnet-4-5-20250929-v1:0"))
	assert.True(t, IsAnthropicFamily("claude-sonnet-4-5-20250929"))
	assert.False(t, IsAnthropicFamily("amazon.nova-pro-v1:0"))
}

func TestSanitizeToolNameTruncatesLongNames(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "x"
	}
	got := SanitizeToolName(long)
	assert.LessOrEqual(t, len(got), 64)
}
