package routing

import "strings"

// Decision はオラクルが返したルーティング判断
// Backend / Operation の空文字は「選択なし」を表す
type Decision struct {
	Backend    string         `json:"selected_server"`
	Operation  string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning"`
	Intent     string         `json:"intent,omitempty"`
	ParseError string         `json:"parse_error,omitempty"`
}

// NewDecision は新しいDecisionを作成
// 信頼度は [0,1] に丸める
func NewDecision(backend, operation string, params map[string]any, confidence float64, reasoning string) Decision {
	if params == nil {
		params = map[string]any{}
	}
	return Decision{
		Backend:    strings.TrimSpace(backend),
		Operation:  strings.TrimSpace(operation),
		Parameters: params,
		Confidence: ClampConfidence(confidence),
		Reasoning:  reasoning,
	}
}

// NullDecision は選択なしのDecisionを作成
func NullDecision(reasoning string) Decision {
	return Decision{
		Parameters: map[string]any{},
		Confidence: 0,
		Reasoning:  reasoning,
	}
}

// ParseFailure は応答の解釈に失敗した場合のDecisionを作成
func ParseFailure(reason string) Decision {
	d := NullDecision("Failed to parse LLM response")
	d.ParseError = reason
	return d
}

// HasBackend はバックエンドが選択されているかを判定
func (d Decision) HasBackend() bool {
	return d.Backend != ""
}

// IsRoutable はバックエンドとオペレーションが両方選択されているかを判定
func (d Decision) IsRoutable() bool {
	return d.Backend != "" && d.Operation != ""
}

// ClampConfidence は信頼度を [0,1] に丸める
func ClampConfidence(c float64) float64 {
	if c != c { // NaN
		return 0
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
