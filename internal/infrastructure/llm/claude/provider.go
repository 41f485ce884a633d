package claude

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Nyukimin/storefront_agent/internal/domain/llm"
)

const (
	defaultTimeout   = 120 * time.Second
	defaultMaxTokens = 1024
)

// ClaudeProvider はClaude APIプロバイダーの実装
type ClaudeProvider struct {
	apiKey     string
	model      string
	baseURL    string
	maxRetries int
	client     anthropic.Client
}

// NewClaudeProvider は新しいClaudeProviderを作成
func NewClaudeProvider(apiKey, model string) *ClaudeProvider {
	p := &ClaudeProvider{
		apiKey: apiKey,
		model:  model,
	}
	p.client = anthropic.NewClient(p.requestOptions()...)
	return p
}

// SetBaseURL はベースURLを設定（テスト用）
func (p *ClaudeProvider) SetBaseURL(url string) {
	p.baseURL = url
	p.client = anthropic.NewClient(p.requestOptions()...)
}

// SetMaxRetries はSDKのリトライ回数を設定
func (p *ClaudeProvider) SetMaxRetries(n int) {
	p.maxRetries = n
	p.client = anthropic.NewClient(p.requestOptions()...)
}

func (p *ClaudeProvider) requestOptions() []option.RequestOption {
	opts := []option.RequestOption{
		option.WithMaxRetries(p.maxRetries),
		option.WithRequestTimeout(defaultTimeout),
	}
	if p.apiKey != "" {
		opts = append(opts, option.WithAPIKey(p.apiKey))
	}
	if p.baseURL != "" {
		opts = append(opts, option.WithBaseURL(p.baseURL))
	}
	return opts
}

// Generate はLLM生成を実行
func (p *ClaudeProvider) Generate(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		// Claude API は max_tokens 必須
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
		Messages:  p.convertMessages(req.Messages),
	}

	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.TopP > 0 {
		params.TopP = anthropic.Float(req.TopP)
	}
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return llm.GenerateResponse{}, fmt.Errorf("claude API error: %w", err)
	}

	// テキストブロックを連結
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}

	input := int(msg.Usage.InputTokens)
	output := int(msg.Usage.OutputTokens)

	return llm.GenerateResponse{
		Content:      strings.Join(parts, ""),
		FinishReason: string(msg.StopReason),
		Usage: llm.Usage{
			PromptTokens:     input,
			CompletionTokens: output,
			TotalTokens:      input + output,
		},
		Model: string(msg.Model),
	}, nil
}

// Name はプロバイダー名を返す
func (p *ClaudeProvider) Name() string {
	return fmt.Sprintf("claude-%s", p.model)
}

// Model はモデル名を返す
func (p *ClaudeProvider) Model() string {
	return p.model
}

// convertMessages はドメインメッセージをSDKのメッセージに変換
// system ロールは Claude ではメッセージに含められないためユーザー発話として扱う
func (p *ClaudeProvider) convertMessages(messages []llm.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(block))
			continue
		}
		out = append(out, anthropic.NewUserMessage(block))
	}
	return out
}
