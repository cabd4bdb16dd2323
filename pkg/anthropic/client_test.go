package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageResponse_Text(t *testing.T) {
	resp := &MessageResponse{
		Content: []ContentBlock{
			{Type: "text", Text: "hello "},
			{Type: "tool_use", Text: "ignored"},
			{Type: "text", Text: "world"},
		},
	}
	assert.Equal(t, "hello world", resp.Text())
}

func TestTokenUsage_Add(t *testing.T) {
	u := TokenUsage{InputTokens: 10, OutputTokens: 5}
	u.Add(TokenUsage{InputTokens: 3, OutputTokens: 2, CacheReadInputTokens: 7})
	assert.Equal(t, int64(13), u.InputTokens)
	assert.Equal(t, int64(7), u.OutputTokens)
	assert.Equal(t, int64(7), u.CacheReadInputTokens)
}

func TestTokenUsage_EstimateCost(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	assert.InDelta(t, 4.80, u.EstimateCost("claude-haiku-4-5-20251001"), 0.001)
	assert.Zero(t, u.EstimateCost("unknown-model"))
}

func TestBuildCachedSystemBlocks(t *testing.T) {
	blocks := BuildCachedSystemBlocks("system text")
	assert.Len(t, blocks, 1)
	assert.Equal(t, "system text", blocks[0].Text)
	assert.Equal(t, "1h", blocks[0].CacheControl.TTL)
}
