package routing

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Nyukimin/storefront_agent/internal/domain/routing"
)

// rawDecision はオラクル応答JSONの受け口
// 型が合わないフィールドはデコードエラーとして扱う
type rawDecision struct {
	SelectedServer *string        `json:"selected_server"`
	Intent         *string        `json:"intent"`
	Reasoning      *string        `json:"reasoning"`
	ToolName       *string        `json:"tool_name"`
	MCPOperations  []string       `json:"mcp_operations"`
	Parameters     map[string]any `json:"parameters"`
	Confidence     *float64       `json:"confidence"`
}

// ParseDecision はオラクル応答からDecisionを作る
// 解釈できない応答は ParseError 付きの選択なしDecisionになり、エラーは返さない
func ParseDecision(content string) routing.Decision {
	text := extractFirstJSONText(stripCodeFence(content))
	if text == "" {
		return routing.ParseFailure("no JSON object found in oracle response")
	}

	var raw rawDecision
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return routing.ParseFailure(fmt.Sprintf("invalid decision JSON: %v", err))
	}

	operation := deref(raw.ToolName)
	if operation == "" && len(raw.MCPOperations) > 0 {
		operation = strings.TrimPrefix(strings.TrimSpace(raw.MCPOperations[0]), "tools/")
	}

	reasoning := deref(raw.Reasoning)
	if reasoning == "" {
		reasoning = "No reasoning provided"
	}

	var confidence float64
	if raw.Confidence != nil {
		confidence = *raw.Confidence
	}

	d := routing.NewDecision(nullable(deref(raw.SelectedServer)), nullable(operation), raw.Parameters, confidence, reasoning)
	d.Intent = deref(raw.Intent)
	return d
}

// stripCodeFence は ```json ... ``` で囲まれた応答から中身を取り出す
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	start := strings.Index(trimmed, "```")
	if start < 0 {
		return trimmed
	}

	rest := trimmed[start+3:]
	// 言語タグ（```json など）を飛ばす
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// extractFirstJSONText は最初の { から対応する } までを取り出す
// 文字列リテラル内の括弧は数えない
func extractFirstJSONText(text string) string {
	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(text[start : i+1])
			}
		}
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// nullable は "null" や "none" を選択なしとして扱う
func nullable(s string) string {
	switch strings.ToLower(s) {
	case "null", "none", "nil":
		return ""
	}
	return s
}
