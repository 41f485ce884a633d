package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		backend    string
		operation  string
		confidence float64
		parseError bool
	}{
		{
			name:       "plain JSON",
			content:    `{"selected_server":"storefront","reasoning":"r","tool_name":"search_products","parameters":{"query":"lamp"},"confidence":0.8}`,
			backend:    "storefront",
			operation:  "search_products",
			confidence: 0.8,
		},
		{
			name:       "code fence",
			content:    "```json\n{\"selected_server\":\"storefront\",\"tool_name\":\"get_categories\",\"confidence\":0.9}\n```",
			backend:    "storefront",
			operation:  "get_categories",
			confidence: 0.9,
		},
		{
			name:       "surrounding prose",
			content:    `Sure! {"selected_server":"storefront","tool_name":"get_product","parameters":{"product_id":"p-1"},"confidence":0.7} Hope that helps.`,
			backend:    "storefront",
			operation:  "get_product",
			confidence: 0.7,
		},
		{
			name:       "braces inside strings",
			content:    `{"selected_server":"storefront","reasoning":"user typed {weird}","tool_name":"search_products","parameters":{"query":"}{"},"confidence":0.6}`,
			backend:    "storefront",
			operation:  "search_products",
			confidence: 0.6,
		},
		{
			name:       "mcp_operations fallback",
			content:    `{"selected_server":"storefront","mcp_operations":["tools/get_categories"],"confidence":0.5}`,
			backend:    "storefront",
			operation:  "get_categories",
			confidence: 0.5,
		},
		{
			name:       "null server",
			content:    `{"selected_server":null,"reasoning":"not a shopping request","confidence":0.2}`,
			confidence: 0.2,
		},
		{
			name:      "string null server",
			content:   `{"selected_server":"null","tool_name":"get_categories"}`,
			operation: "get_categories",
		},
		{
			name:       "confidence clamped high",
			content:    `{"selected_server":"storefront","tool_name":"get_categories","confidence":3}`,
			backend:    "storefront",
			operation:  "get_categories",
			confidence: 1,
		},
		{
			name:       "confidence clamped low",
			content:    `{"selected_server":"storefront","tool_name":"get_categories","confidence":-1}`,
			backend:    "storefront",
			operation:  "get_categories",
			confidence: 0,
		},
		{name: "empty", content: "", parseError: true},
		{name: "no JSON", content: "I cannot decide", parseError: true},
		{name: "truncated", content: `{"selected_server":"storefront"`, parseError: true},
		{name: "wrong type confidence", content: `{"selected_server":"storefront","confidence":"high"}`, parseError: true},
		{name: "wrong type parameters", content: `{"selected_server":"storefront","parameters":[1,2]}`, parseError: true},
		{name: "wrong type server", content: `{"selected_server":42}`, parseError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ParseDecision(tt.content)

			assert.Equal(t, tt.backend, d.Backend)
			assert.Equal(t, tt.operation, d.Operation)
			assert.Equal(t, tt.confidence, d.Confidence)
			assert.NotNil(t, d.Parameters)
			assert.GreaterOrEqual(t, d.Confidence, 0.0)
			assert.LessOrEqual(t, d.Confidence, 1.0)

			if tt.parseError {
				assert.NotEmpty(t, d.ParseError)
				assert.Equal(t, "Failed to parse LLM response", d.Reasoning)
			} else {
				assert.Empty(t, d.ParseError)
				assert.NotEmpty(t, d.Reasoning)
			}
		})
	}
}

func TestParseDecision_Parameters(t *testing.T) {
	d := ParseDecision(`{"selected_server":"storefront","tool_name":"search_products","parameters":{"query":"lamp","limit":5}}`)

	assert.Equal(t, "lamp", d.Parameters["query"])
	assert.Equal(t, 5.0, d.Parameters["limit"])
	assert.Equal(t, "No reasoning provided", d.Reasoning)
}

func TestExtractFirstJSONText(t *testing.T) {
	assert.Equal(t, `{"a":{"b":1}}`, extractFirstJSONText(`x {"a":{"b":1}} y {"c":2}`))
	assert.Equal(t, `{"s":"\"}"}`, extractFirstJSONText(`{"s":"\"}"}`))
	assert.Equal(t, "", extractFirstJSONText("no braces"))
	assert.Equal(t, "", extractFirstJSONText("{ unbalanced"))
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence(`  {"a":1}  `))
}
