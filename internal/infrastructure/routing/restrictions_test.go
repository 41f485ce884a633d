package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Nyukimin/storefront_agent/internal/domain/llm"
)

func TestRestrictions_Lookup(t *testing.T) {
	r := DefaultRestrictions()

	tests := []struct {
		model string
		want  bool
	}{
		{"gpt-5-nano", true},
		{"GPT-5-nano-2025-08-07", true},
		{"o1", true},
		{"o3-mini", true},
		{"gpt-4o-mini", false},
		{"o10-ultra", false},
		{"claude-sonnet-4-5", false},
	}

	for _, tt := range tests {
		_, ok := r.Lookup(tt.model)
		assert.Equal(t, tt.want, ok, tt.model)
	}
}

func TestRestrictions_Apply(t *testing.T) {
	r := DefaultRestrictions()
	req := llm.GenerateRequest{
		Temperature:      0.1,
		MaxTokens:        300,
		TopP:             0.9,
		FrequencyPenalty: 0.2,
		PresencePenalty:  0.2,
		Stop:             []string{"\n"},
		SystemPrompt:     "keep me",
	}

	got := r.Apply("gpt-5-nano", req, nil)
	assert.Zero(t, got.Temperature)
	assert.Zero(t, got.MaxTokens)
	assert.Zero(t, got.TopP)
	assert.Zero(t, got.FrequencyPenalty)
	assert.Zero(t, got.PresencePenalty)
	assert.Nil(t, got.Stop)
	assert.Equal(t, "keep me", got.SystemPrompt)

	unchanged := r.Apply("gpt-4o", req, nil)
	assert.Equal(t, req, unchanged)
}
