package routing

import (
	"log/slog"
	"strings"

	"github.com/Nyukimin/storefront_agent/internal/domain/llm"
)

// ModelRestriction はモデルが受け付けないサンプリングパラメータの定義
type ModelRestriction struct {
	// Prefix に一致するモデル名（完全一致または "Prefix-" で始まる）に適用
	Prefix string

	DropTemperature bool
	DropMaxTokens   bool
	DropTopP        bool
	DropPenalties   bool
	DropStop        bool
}

// Restrictions はモデル制約表
type Restrictions struct {
	rules []ModelRestriction
}

// NewRestrictions は新しいRestrictionsを作成
func NewRestrictions(rules ...ModelRestriction) *Restrictions {
	return &Restrictions{rules: rules}
}

// DefaultRestrictions は既知の制約付きモデルの表を返す
// gpt-5-nano と o系推論モデルは既定温度のみ対応で max_tokens も受け付けない
func DefaultRestrictions() *Restrictions {
	all := func(prefix string) ModelRestriction {
		return ModelRestriction{
			Prefix:          prefix,
			DropTemperature: true,
			DropMaxTokens:   true,
			DropTopP:        true,
			DropPenalties:   true,
			DropStop:        true,
		}
	}
	return NewRestrictions(all("gpt-5-nano"), all("o1"), all("o3"), all("o4-mini"))
}

// Lookup はモデルに適用される制約を返す
func (r *Restrictions) Lookup(model string) (ModelRestriction, bool) {
	m := strings.ToLower(strings.TrimSpace(model))
	for _, rule := range r.rules {
		p := strings.ToLower(rule.Prefix)
		if m == p || strings.HasPrefix(m, p+"-") {
			return rule, true
		}
	}
	return ModelRestriction{}, false
}

// Apply は制約に従って未対応パラメータを取り除く
// 取り除いたパラメータは警告ログに残し、失敗にはしない
func (r *Restrictions) Apply(model string, req llm.GenerateRequest, logger *slog.Logger) llm.GenerateRequest {
	rule, ok := r.Lookup(model)
	if !ok {
		return req
	}

	var dropped []string
	if rule.DropTemperature && req.Temperature != 0 {
		dropped = append(dropped, "temperature")
		req.Temperature = 0
	}
	if rule.DropMaxTokens && req.MaxTokens != 0 {
		dropped = append(dropped, "max_tokens")
		req.MaxTokens = 0
	}
	if rule.DropTopP && req.TopP != 0 {
		dropped = append(dropped, "top_p")
		req.TopP = 0
	}
	if rule.DropPenalties && (req.FrequencyPenalty != 0 || req.PresencePenalty != 0) {
		dropped = append(dropped, "frequency_penalty", "presence_penalty")
		req.FrequencyPenalty = 0
		req.PresencePenalty = 0
	}
	if rule.DropStop && len(req.Stop) > 0 {
		dropped = append(dropped, "stop")
		req.Stop = nil
	}

	if len(dropped) > 0 && logger != nil {
		logger.Warn("model does not support sampling parameters, ignoring them",
			"model", model,
			"dropped", strings.Join(dropped, ","),
		)
	}
	return req
}
