package claude

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Nyukimin/storefront_agent/internal/domain/llm"
)

func messageResponse(text string) map[string]interface{} {
	return map[string]interface{}{
		"id":    "msg_123",
		"type":  "message",
		"role":  "assistant",
		"model": "claude-sonnet-4-5",
		"content": []map[string]interface{}{
			{"type": "text", "text": text},
		},
		"stop_reason": "end_turn",
		"usage": map[string]interface{}{
			"input_tokens":  12,
			"output_tokens": 8,
		},
	}
}

func TestNewClaudeProvider(t *testing.T) {
	provider := NewClaudeProvider("test-api-key", "claude-sonnet-4-5")

	if provider == nil {
		t.Fatal("NewClaudeProvider should not return nil")
	}
	if provider.Name() != "claude-claude-sonnet-4-5" {
		t.Errorf("Expected name 'claude-claude-sonnet-4-5', got '%s'", provider.Name())
	}
	if provider.Model() != "claude-sonnet-4-5" {
		t.Errorf("Expected model 'claude-sonnet-4-5', got '%s'", provider.Model())
	}
}

func TestClaudeProviderGenerate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("Expected path '/v1/messages', got '%s'", r.URL.Path)
		}
		if key := r.Header.Get("X-Api-Key"); key != "test-api-key" {
			t.Errorf("Expected X-Api-Key 'test-api-key', got '%s'", key)
		}

		var reqBody map[string]interface{}
		json.NewDecoder(r.Body).Decode(&reqBody)

		if reqBody["model"] != "claude-sonnet-4-5" {
			t.Errorf("Expected model 'claude-sonnet-4-5', got '%v'", reqBody["model"])
		}
		if reqBody["max_tokens"] != float64(300) {
			t.Errorf("Expected max_tokens 300, got '%v'", reqBody["max_tokens"])
		}
		if _, ok := reqBody["system"]; !ok {
			t.Error("Expected system prompt to be sent")
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messageResponse("Here are the categories."))
	}))
	defer server.Close()

	provider := NewClaudeProvider("test-api-key", "claude-sonnet-4-5")
	provider.SetBaseURL(server.URL)

	resp, err := provider.Generate(context.Background(), llm.GenerateRequest{
		SystemPrompt: "You are a shopping assistant.",
		Messages:     llm.UserMessage("Show me all categories"),
		MaxTokens:    300,
		Temperature:  0.5,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if resp.Content != "Here are the categories." {
		t.Errorf("Unexpected content: '%s'", resp.Content)
	}
	if resp.FinishReason != "end_turn" {
		t.Errorf("Expected 'end_turn', got '%s'", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 20 {
		t.Errorf("Expected 20 total tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestClaudeProviderGenerate_DefaultMaxTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqBody map[string]interface{}
		json.NewDecoder(r.Body).Decode(&reqBody)

		// max_tokens は必須なので既定値が送られる
		if reqBody["max_tokens"] != float64(defaultMaxTokens) {
			t.Errorf("Expected default max_tokens, got '%v'", reqBody["max_tokens"])
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messageResponse("ok"))
	}))
	defer server.Close()

	provider := NewClaudeProvider("test-api-key", "claude-sonnet-4-5")
	provider.SetBaseURL(server.URL)

	if _, err := provider.Generate(context.Background(), llm.GenerateRequest{Messages: llm.UserMessage("hi")}); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
}

func TestClaudeProviderGenerate_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad request"}}`))
	}))
	defer server.Close()

	provider := NewClaudeProvider("test-api-key", "claude-sonnet-4-5")
	provider.SetBaseURL(server.URL)

	_, err := provider.Generate(context.Background(), llm.GenerateRequest{Messages: llm.UserMessage("test")})
	if err == nil {
		t.Fatal("Expected error for API error response")
	}
	if !strings.Contains(err.Error(), "claude API error") {
		t.Errorf("Expected wrapped error, got '%v'", err)
	}
}
