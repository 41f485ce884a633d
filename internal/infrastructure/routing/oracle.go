package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Nyukimin/storefront_agent/internal/domain/llm"
	domainmcp "github.com/Nyukimin/storefront_agent/internal/domain/mcp"
	"github.com/Nyukimin/storefront_agent/internal/domain/routing"
)

// Sampling は呼び出し種別ごとのサンプリング設定
type Sampling struct {
	Temperature float64
	MaxTokens   int
}

// Settings はオラクルの呼び出し設定
type Settings struct {
	Decide    Sampling
	Interpret Sampling
	NoMatch   Sampling
	Intent    Sampling
}

// DefaultSettings は既定の呼び出し設定を返す
func DefaultSettings() Settings {
	return Settings{
		Decide:    Sampling{Temperature: 0.1, MaxTokens: 500}, // 低温度で安定したルーティング
		Interpret: Sampling{Temperature: 0.5, MaxTokens: 400},
		NoMatch:   Sampling{Temperature: 0.6, MaxTokens: 150},
		Intent:    Sampling{Temperature: 0.3, MaxTokens: 500},
	}
}

const noMatchFallback = "Hi! I couldn't find a matching tool for that. Try asking about products, " +
	"categories, or searching for items by name or category."

// Oracle はLLMを使ったルーティング判断と応答生成
type Oracle struct {
	provider     llm.LLMProvider
	catalog      *domainmcp.Catalog
	restrictions *Restrictions
	settings     Settings
	logger       *slog.Logger
}

// Option はOracleの設定オプション
type Option func(*Oracle)

// WithCatalog はオペレーションカタログを設定
func WithCatalog(c *domainmcp.Catalog) Option {
	return func(o *Oracle) { o.catalog = c }
}

// WithRestrictions はモデル制約表を設定
func WithRestrictions(r *Restrictions) Option {
	return func(o *Oracle) { o.restrictions = r }
}

// WithSettings は呼び出し設定を上書き
func WithSettings(s Settings) Option {
	return func(o *Oracle) { o.settings = s }
}

// WithLogger はロガーを設定
func WithLogger(l *slog.Logger) Option {
	return func(o *Oracle) { o.logger = l }
}

// NewOracle は新しいOracleを作成
func NewOracle(provider llm.LLMProvider, opts ...Option) *Oracle {
	o := &Oracle{
		provider:     provider,
		catalog:      domainmcp.DefaultCatalog(),
		restrictions: DefaultRestrictions(),
		settings:     DefaultSettings(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Generate はモデル制約を適用してから1回の補完を実行
func (o *Oracle) Generate(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	return o.generate(ctx, "generate", req)
}

func (o *Oracle) generate(ctx context.Context, op string, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	req = o.restrictions.Apply(o.provider.Model(), req, o.logger)

	resp, err := o.provider.Generate(ctx, req)
	if err != nil {
		return llm.GenerateResponse{}, &OracleError{Op: op, Provider: o.provider.Name(), Err: err}
	}

	o.logger.Debug("oracle completion",
		"op", op,
		"model", resp.Model,
		"finish_reason", resp.FinishReason,
		"total_tokens", resp.Usage.TotalTokens,
	)
	return resp, nil
}

// DecideRoute は発話に対してバックエンド・オペレーション・引数を決める
// 応答が解釈できない場合も error は返さず、選択なしのDecisionを返す
func (o *Oracle) DecideRoute(ctx context.Context, utterance string, backends []domainmcp.Descriptor) (routing.Decision, error) {
	req := llm.GenerateRequest{
		SystemPrompt: buildSelectionPrompt(backends, o.catalog),
		Messages:     llm.UserMessage(fmt.Sprintf("User Request: %s", utterance)),
		Temperature:  o.settings.Decide.Temperature,
		MaxTokens:    o.settings.Decide.MaxTokens,
	}

	resp, err := o.generate(ctx, "decide_route", req)
	if err != nil {
		return routing.Decision{}, err
	}

	decision := ParseDecision(resp.Content)
	if decision.ParseError != "" {
		o.logger.Warn("failed to parse oracle decision",
			"error", decision.ParseError,
			"raw", truncate(resp.Content, 500),
		)
		return decision, nil
	}

	o.logger.Info("oracle decision",
		"backend", decision.Backend,
		"operation", decision.Operation,
		"confidence", decision.Confidence,
		"reasoning", decision.Reasoning,
	)
	return decision, nil
}

// InterpretOutcome は実行結果を会話文にする
// オラクルが失敗した場合はテンプレート文を返す
func (o *Oracle) InterpretOutcome(ctx context.Context, outcome routing.Outcome, utterance string) string {
	req := llm.GenerateRequest{
		Messages:    llm.UserMessage(buildInterpretPrompt(outcome, utterance, o.catalog)),
		Temperature: o.settings.Interpret.Temperature,
		MaxTokens:   o.settings.Interpret.MaxTokens,
	}

	resp, err := o.generate(ctx, "interpret", req)
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		if err != nil {
			o.logger.Error("failed to interpret outcome", "error", err)
		}
		return fallbackInterpretation(outcome, utterance)
	}
	return strings.TrimSpace(resp.Content)
}

// NoMatchResponse はツールが選べなかった場合の案内文を生成する
func (o *Oracle) NoMatchResponse(ctx context.Context, utterance string, ops []domainmcp.Operation) string {
	req := llm.GenerateRequest{
		Messages:    llm.UserMessage(buildNoMatchPrompt(utterance, ops, o.catalog)),
		Temperature: o.settings.NoMatch.Temperature,
		MaxTokens:   o.settings.NoMatch.MaxTokens,
	}

	resp, err := o.generate(ctx, "no_match", req)
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		if err != nil {
			o.logger.Error("failed to generate no-match response", "error", err)
		}
		return noMatchFallback
	}
	return strings.TrimSpace(resp.Content)
}

// AnalyzeIntent は発話の意図と必要なオペレーションを分析する
// JSONとして解釈できない場合は intent=unknown と生応答を返す
func (o *Oracle) AnalyzeIntent(ctx context.Context, utterance string) (routing.IntentAnalysis, error) {
	req := llm.GenerateRequest{
		Messages:    llm.UserMessage(buildIntentPrompt(utterance)),
		Temperature: o.settings.Intent.Temperature,
		MaxTokens:   o.settings.Intent.MaxTokens,
	}

	resp, err := o.generate(ctx, "analyze_intent", req)
	if err != nil {
		return routing.IntentAnalysis{}, err
	}

	var analysis routing.IntentAnalysis
	text := extractFirstJSONText(stripCodeFence(resp.Content))
	if text == "" || json.Unmarshal([]byte(text), &analysis) != nil {
		o.logger.Warn("failed to parse intent analysis, returning raw content")
		return routing.IntentAnalysis{
			Intent:      "unknown",
			Operations:  []string{},
			UserMessage: resp.Content,
			Raw:         resp.Content,
		}, nil
	}

	analysis.Confidence = routing.ClampConfidence(analysis.Confidence)
	if analysis.Operations == nil {
		analysis.Operations = []string{}
	}
	return analysis, nil
}

// fallbackInterpretation はオラクルを使わない定型応答
// 失敗時は状態だけから文面を作り、生のエラー文は含めない
func fallbackInterpretation(outcome routing.Outcome, utterance string) string {
	if outcome.Success {
		return fmt.Sprintf("Here is what I found for %q:\n%s", utterance, compactJSON(outcome.Result, 2000))
	}
	switch outcome.State {
	case routing.StateOracleFailed:
		return "Sorry, I'm having trouble processing requests right now. Please try again in a moment."
	case routing.StateConnectFailed:
		return fmt.Sprintf("Sorry, I couldn't reach the %s service right now. Please try again later.", outcome.ServiceName())
	case routing.StateCallFailed:
		return fmt.Sprintf("Sorry, the %s service couldn't complete that request. Please try again or rephrase it.", outcome.ServiceName())
	}
	return "Sorry, I couldn't complete your request."
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
