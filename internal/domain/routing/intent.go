package routing

// IntentAnalysis は発話の意図分析結果
// 解析できなかった場合は Intent が "unknown" になり Raw に生応答が入る
type IntentAnalysis struct {
	Intent      string   `json:"intent"`
	Confidence  float64  `json:"confidence"`
	Operations  []string `json:"mcp_operations"`
	UserMessage string   `json:"user_message"`
	Raw         string   `json:"raw_response,omitempty"`
}

// IsUnknown は意図が特定できなかったかを判定
func (a IntentAnalysis) IsUnknown() bool {
	return a.Intent == "" || a.Intent == "unknown"
}
