package openai

import (
	"context"
	"fmt"
	"time"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/azure"
	"github.com/openai/openai-go/v3/option"

	"github.com/Nyukimin/storefront_agent/internal/domain/llm"
)

const defaultTimeout = 120 * time.Second

// Config はOpenAI互換プロバイダーの設定
type Config struct {
	APIKey  string
	Model   string // Azureの場合はデプロイ名
	BaseURL string // 空ならOpenAI公式

	// Azure OpenAI（AzureEndpoint が空でなければ Azure として扱う）
	AzureEndpoint   string
	AzureAPIVersion string

	MaxRetries int
	Timeout    time.Duration
}

// OpenAIProvider はOpenAI / Azure OpenAI / OpenAI互換APIプロバイダーの実装
type OpenAIProvider struct {
	cfg    Config
	client openaisdk.Client
}

// NewOpenAIProvider は新しいOpenAIProviderを作成
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	return NewOpenAIProviderWithConfig(Config{APIKey: apiKey, Model: model})
}

// NewAzureProvider は Azure OpenAI 向けの OpenAIProvider を作成
func NewAzureProvider(endpoint, apiKey, apiVersion, deployment string) *OpenAIProvider {
	return NewOpenAIProviderWithConfig(Config{
		APIKey:          apiKey,
		Model:           deployment,
		AzureEndpoint:   endpoint,
		AzureAPIVersion: apiVersion,
	})
}

// NewOpenAIProviderWithConfig は設定からOpenAIProviderを作成
func NewOpenAIProviderWithConfig(cfg Config) *OpenAIProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	p := &OpenAIProvider{cfg: cfg}
	p.client = openaisdk.NewClient(p.requestOptions()...)
	return p
}

// SetBaseURL はベースURLを設定（テスト用）
func (p *OpenAIProvider) SetBaseURL(url string) {
	if p.isAzure() {
		p.cfg.AzureEndpoint = url
	} else {
		p.cfg.BaseURL = url
	}
	p.client = openaisdk.NewClient(p.requestOptions()...)
}

func (p *OpenAIProvider) isAzure() bool {
	return p.cfg.AzureEndpoint != ""
}

func (p *OpenAIProvider) requestOptions() []option.RequestOption {
	opts := []option.RequestOption{
		option.WithMaxRetries(p.cfg.MaxRetries),
		option.WithRequestTimeout(p.cfg.Timeout),
	}

	if p.isAzure() {
		opts = append(opts,
			azure.WithEndpoint(p.cfg.AzureEndpoint, p.cfg.AzureAPIVersion),
			azure.WithAPIKey(p.cfg.APIKey),
		)
		return opts
	}

	if p.cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(p.cfg.APIKey))
	}
	if p.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(p.cfg.BaseURL))
	}
	return opts
}

// Generate はLLM生成を実行
func (p *OpenAIProvider) Generate(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(p.cfg.Model),
		Messages: p.convertMessages(req),
	}

	// ゼロ値は未指定として送らない
	if req.MaxTokens > 0 {
		params.MaxTokens = openaisdk.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openaisdk.Float(req.Temperature)
	}
	if req.TopP > 0 {
		params.TopP = openaisdk.Float(req.TopP)
	}
	if req.FrequencyPenalty != 0 {
		params.FrequencyPenalty = openaisdk.Float(req.FrequencyPenalty)
	}
	if req.PresencePenalty != 0 {
		params.PresencePenalty = openaisdk.Float(req.PresencePenalty)
	}
	if len(req.Stop) > 0 {
		params.Stop = openaisdk.ChatCompletionNewParamsStopUnion{OfStringArray: req.Stop}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.GenerateResponse{}, fmt.Errorf("openai API error: %w", err)
	}

	var content, finishReason string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		finishReason = string(resp.Choices[0].FinishReason)
	}

	return llm.GenerateResponse{
		Content:      content,
		FinishReason: finishReason,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		Model: resp.Model,
	}, nil
}

// Name はプロバイダー名を返す
func (p *OpenAIProvider) Name() string {
	if p.isAzure() {
		return fmt.Sprintf("azure-openai-%s", p.cfg.Model)
	}
	return fmt.Sprintf("openai-%s", p.cfg.Model)
}

// Model はモデル名（Azureではデプロイ名）を返す
func (p *OpenAIProvider) Model() string {
	return p.cfg.Model
}

// convertMessages はドメインメッセージをSDKのメッセージに変換
func (p *OpenAIProvider) convertMessages(req llm.GenerateRequest) []openaisdk.ChatCompletionMessageParamUnion {
	messages := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)

	// システムプロンプトを最初に追加
	if req.SystemPrompt != "" {
		messages = append(messages, openaisdk.SystemMessage(req.SystemPrompt))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			messages = append(messages, openaisdk.SystemMessage(msg.Content))
		case "assistant":
			messages = append(messages, openaisdk.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openaisdk.UserMessage(msg.Content))
		}
	}

	return messages
}
