package llm

import "context"

// Message はLLMメッセージを表す
type Message struct {
	Role    string // "user", "assistant", "system"
	Content string
}

// GenerateRequest はLLM生成リクエスト
// ゼロ値のサンプリングパラメータは「指定なし」として扱う
type GenerateRequest struct {
	Messages         []Message
	SystemPrompt     string
	MaxTokens        int
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
	Stop             []string
}

// Usage はトークン使用量
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// GenerateResponse はLLM生成レスポンス
type GenerateResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
	Model        string
}

// LLMProvider はLLMプロバイダーの抽象化
type LLMProvider interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
	Name() string
	// Model は実際に呼び出すモデル（Azureの場合はデプロイ名）を返す
	Model() string
}

// UserMessage は単一のユーザーメッセージを持つリクエストを作成
func UserMessage(content string) []Message {
	return []Message{{Role: "user", Content: content}}
}
