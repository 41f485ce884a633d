package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/Nyukimin/storefront_agent/internal/domain/llm"
)

const (
	defaultMaxFailures uint32        = 5
	defaultOpenTimeout time.Duration = 30 * time.Second
	defaultInterval    time.Duration = 60 * time.Second
)

// ErrCircuitOpen はブレーカーが開いているため呼び出しを行わなかった
var ErrCircuitOpen = errors.New("circuit open")

// Config はガードの設定
type Config struct {
	// MaxFailures 回連続で失敗するとブレーカーが開く
	MaxFailures uint32 `yaml:"max_failures"`
	// OpenTimeout はブレーカーが開いたままでいる時間
	OpenTimeout time.Duration `yaml:"open_timeout"`
	// Interval は閉状態での失敗カウントのリセット周期
	Interval time.Duration `yaml:"interval"`
	// RequestsPerMinute が0なら流量制限なし
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// Provider はLLMProviderにサーキットブレーカーと流量制限をかけるラッパー
type Provider struct {
	inner   llm.LLMProvider
	breaker *gobreaker.CircuitBreaker[llm.GenerateResponse]
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New は inner をガードで包む
func New(inner llm.LLMProvider, cfg Config, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}

	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	timeout := cfg.OpenTimeout
	if timeout == 0 {
		timeout = defaultOpenTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultInterval
	}

	cb := gobreaker.NewCircuitBreaker[llm.GenerateResponse](gobreaker.Settings{
		Name:        "oracle:" + inner.Name(),
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// 呼び出し側のキャンセルはプロバイダー障害として数えない
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute)/60.0, burst)
	}

	return &Provider{
		inner:   inner,
		breaker: cb,
		limiter: limiter,
		logger:  logger,
	}
}

// Generate は llm.LLMProvider を実装
func (p *Provider) Generate(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return llm.GenerateResponse{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	resp, err := p.breaker.Execute(func() (llm.GenerateResponse, error) {
		return p.inner.Generate(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return llm.GenerateResponse{}, fmt.Errorf("provider %q %w: %w", p.inner.Name(), ErrCircuitOpen, err)
		}
		return llm.GenerateResponse{}, err
	}
	return resp, nil
}

// Name は llm.LLMProvider を実装
func (p *Provider) Name() string { return p.inner.Name() }

// Model は llm.LLMProvider を実装
func (p *Provider) Model() string { return p.inner.Model() }

// State はブレーカーの現在状態を返す
func (p *Provider) State() gobreaker.State {
	return p.breaker.State()
}

var _ llm.LLMProvider = (*Provider)(nil)
