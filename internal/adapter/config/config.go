package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	domainmcp "github.com/Nyukimin/storefront_agent/internal/domain/mcp"
	"github.com/Nyukimin/storefront_agent/internal/infrastructure/llm/guard"
	"github.com/Nyukimin/storefront_agent/internal/infrastructure/tracer"
)

// DefaultPath は STOREFRONT_CONFIG が未設定の場合の設定ファイルパス
const DefaultPath = "./config.yaml"

// Environment は実行環境
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
	EnvTesting     Environment = "testing"
)

// Oracle プロバイダー
const (
	ProviderAzure  = "azure"
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
)

// Config はアプリケーション全体の設定
type Config struct {
	Environment Environment            `yaml:"environment"`
	Server      ServerConfig           `yaml:"server"`
	Oracle      OracleConfig           `yaml:"oracle"`
	MCP         MCPConfig              `yaml:"mcp"`
	Backends    []domainmcp.Descriptor `yaml:"backends"`
	Health      HealthConfig           `yaml:"health"`
	Session     SessionConfig          `yaml:"session"`
	Tracing     tracer.Config          `yaml:"tracing"`
	Log         LogConfig              `yaml:"log"`
}

// ServerConfig はHTTPサーバー設定
type ServerConfig struct {
	Host           string        `yaml:"host" env:"STOREFRONT_SERVER_HOST"`
	Port           int           `yaml:"port" env:"STOREFRONT_SERVER_PORT"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"STOREFRONT_SERVER_ALLOWED_ORIGINS" envSeparator:","`
	SSEKeepalive   time.Duration `yaml:"sse_keepalive" env:"STOREFRONT_SERVER_SSE_KEEPALIVE"`
}

// OracleConfig はルーティング判断に使うLLMの設定
type OracleConfig struct {
	// Provider は azure | openai | claude（空なら資格情報から推定）
	Provider   string        `yaml:"provider" env:"STOREFRONT_ORACLE_PROVIDER"`
	MaxRetries int           `yaml:"max_retries" env:"MAX_RETRIES"`
	Timeout    time.Duration `yaml:"timeout" env:"STOREFRONT_ORACLE_TIMEOUT"`
	Azure      AzureConfig   `yaml:"azure"`
	OpenAI     OpenAIConfig  `yaml:"openai"`
	Claude     ClaudeConfig  `yaml:"claude"`
	Guard      guard.Config  `yaml:"guard"`
}

// AzureConfig はAzure OpenAI設定
type AzureConfig struct {
	Endpoint   string `yaml:"endpoint" env:"AZURE_OPENAI_ENDPOINT"`
	APIKey     string `yaml:"api_key" env:"AZURE_OPENAI_API_KEY"` // 環境変数から読み込み推奨
	APIVersion string `yaml:"api_version" env:"AZURE_OPENAI_API_VERSION"`
	Deployment string `yaml:"deployment" env:"AZURE_OPENAI_DEPLOYMENT_NAME"`
}

// OpenAIConfig はOpenAI API設定
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key" env:"OPENAI_API_KEY"` // 環境変数から読み込み推奨
	Model   string `yaml:"model" env:"STOREFRONT_OPENAI_MODEL"`
	BaseURL string `yaml:"base_url" env:"OPENAI_BASE_URL"`
}

// ClaudeConfig はClaude API設定
type ClaudeConfig struct {
	APIKey string `yaml:"api_key" env:"ANTHROPIC_API_KEY"` // 環境変数から読み込み推奨
	Model  string `yaml:"model" env:"STOREFRONT_CLAUDE_MODEL"`
}

// MCPConfig はバックエンド接続の共通設定
type MCPConfig struct {
	// ServerURL は主バックエンドのアドレス（backends 未設定時はこれだけで動く）
	ServerURL string `yaml:"server_url" env:"MCP_SERVER_URL"`
	// Timeout は1回の呼び出しのタイムアウト（秒）
	Timeout int    `yaml:"timeout" env:"MCP_SERVER_TIMEOUT"`
	Primary string `yaml:"primary" env:"STOREFRONT_MCP_PRIMARY"`
}

// HealthConfig は定期ヘルスチェック設定
type HealthConfig struct {
	Enabled  bool   `yaml:"enabled" env:"STOREFRONT_HEALTH_ENABLED"`
	Schedule string `yaml:"schedule" env:"STOREFRONT_HEALTH_SCHEDULE"`
}

// SessionConfig はSSE/WebSocketセッション設定
type SessionConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"STOREFRONT_SESSION_IDLE_TIMEOUT"`
}

// LogConfig はログ設定
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"STOREFRONT_LOG_FORMAT"` // text | json
	Output string `yaml:"output" env:"STOREFRONT_LOG_OUTPUT"` // stdout | stderr | file
	File   string `yaml:"file" env:"STOREFRONT_LOG_FILE"`
}

// profile は環境ごとの既定値
type profile struct {
	timeout    int
	logLevel   string
	maxRetries int
	serverURL  string
	deployment string
}

var profiles = map[Environment]profile{
	EnvDevelopment: {timeout: 30, logLevel: "debug", maxRetries: 3, serverURL: "ws://localhost:8080", deployment: "gpt-5-nano"},
	EnvStaging:     {timeout: 30, logLevel: "info", maxRetries: 3, deployment: "gpt-5-nano-staging"},
	EnvProduction:  {timeout: 60, logLevel: "warn", maxRetries: 5, deployment: "gpt-5-nano"},
	EnvTesting:     {timeout: 10, logLevel: "debug", maxRetries: 3, serverURL: "ws://localhost:8081", deployment: "gpt-5-nano-test"},
}

// PathFromEnv は STOREFRONT_CONFIG から設定ファイルパスを返す
func PathFromEnv() string {
	if p := os.Getenv("STOREFRONT_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// LoadConfig は設定ファイルを読み込む
// ファイルが存在しない場合は環境変数のみで構成する
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// 環境変数のみ
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// 環境変数で上書き（API キーはファイルに平文保存しない）
	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	cfg.setDefaults()
	cfg.applyServerURL()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromEnv は環境変数から設定を読み込む
// backends はYAMLのみで設定する
func (c *Config) loadFromEnv() error {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		c.Environment = Environment(v)
	}

	targets := []any{&c.Server, &c.Oracle, &c.MCP, &c.Health, &c.Session, &c.Log}
	for _, target := range targets {
		if err := env.Parse(target); err != nil {
			return fmt.Errorf("failed to parse environment: %w", err)
		}
	}

	if err := env.ParseWithOptions(&c.Tracing, env.Options{Prefix: "STOREFRONT_TRACING_"}); err != nil {
		return fmt.Errorf("failed to parse tracing environment: %w", err)
	}
	return nil
}

// setDefaults は未設定の項目に環境プロファイルの既定値を設定
func (c *Config) setDefaults() {
	c.Environment = Environment(strings.ToLower(string(c.Environment)))
	p, ok := profiles[c.Environment]
	if !ok {
		c.Environment = EnvDevelopment
		p = profiles[EnvDevelopment]
	}

	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.SSEKeepalive == 0 {
		c.Server.SSEKeepalive = 30 * time.Second
	}

	if c.Oracle.MaxRetries == 0 {
		c.Oracle.MaxRetries = p.maxRetries
	}
	if c.Oracle.Timeout == 0 {
		c.Oracle.Timeout = 60 * time.Second
	}
	if c.Oracle.Azure.APIVersion == "" {
		c.Oracle.Azure.APIVersion = "2024-02-15-preview"
	}
	if c.Oracle.Azure.Deployment == "" {
		c.Oracle.Azure.Deployment = p.deployment
	}
	if c.Oracle.OpenAI.Model == "" {
		c.Oracle.OpenAI.Model = "gpt-4o-mini"
	}
	if c.Oracle.Claude.Model == "" {
		c.Oracle.Claude.Model = "claude-sonnet-4-20250514"
	}
	if c.Oracle.Provider == "" {
		c.Oracle.Provider = c.inferProvider()
	}
	if c.Oracle.Guard.MaxFailures == 0 {
		c.Oracle.Guard.MaxFailures = 5
	}
	if c.Oracle.Guard.OpenTimeout == 0 {
		c.Oracle.Guard.OpenTimeout = 30 * time.Second
	}

	if c.MCP.ServerURL == "" {
		c.MCP.ServerURL = p.serverURL
	}
	if c.MCP.Timeout == 0 {
		c.MCP.Timeout = p.timeout
	}
	if c.MCP.Primary == "" {
		if len(c.Backends) > 0 {
			c.MCP.Primary = c.Backends[0].Name
		} else {
			c.MCP.Primary = "storefront"
		}
	}

	if c.Health.Schedule == "" {
		c.Health.Schedule = "*/5 * * * *"
	}
	if c.Session.IdleTimeout == 0 {
		c.Session.IdleTimeout = 30 * time.Minute
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "stdout"
	}

	if c.Log.Level == "" {
		c.Log.Level = p.logLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}
}

// inferProvider は設定済みの資格情報からプロバイダーを推定
func (c *Config) inferProvider() string {
	switch {
	case c.Oracle.Azure.Endpoint != "":
		return ProviderAzure
	case c.Oracle.Claude.APIKey != "" && c.Oracle.OpenAI.APIKey == "":
		return ProviderClaude
	default:
		return ProviderOpenAI
	}
}

// applyServerURL は MCP.ServerURL を主バックエンドに反映する
// backends 未設定なら主バックエンドを1件作成する
func (c *Config) applyServerURL() {
	for i := range c.Backends {
		if c.Backends[i].Name == c.MCP.Primary {
			if c.Backends[i].Address == "" && c.Backends[i].Command == "" {
				c.Backends[i].Address = c.MCP.ServerURL
			}
			return
		}
	}

	if c.MCP.ServerURL == "" {
		return
	}
	primary := domainmcp.Descriptor{
		Name:        c.MCP.Primary,
		Address:     c.MCP.ServerURL,
		Description: "Storefront MCP server for product catalog operations",
		Capabilities: []string{
			"product_search", "product_details", "categories", "category_browse",
		},
	}
	c.Backends = append([]domainmcp.Descriptor{primary}, c.Backends...)
}

// CallTimeout はバックエンド呼び出し1回のタイムアウト
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.MCP.Timeout) * time.Second
}

// Addr はHTTPサーバーの待ち受けアドレス
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate は設定の妥当性を検証
func (c *Config) Validate() error {
	// サーバー設定検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}

	if c.MCP.Timeout < 1 {
		return fmt.Errorf("invalid mcp timeout: %d (must be positive seconds)", c.MCP.Timeout)
	}

	// バックエンド設定検証
	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend is required (set backends or MCP_SERVER_URL)")
	}
	seen := make(map[string]bool, len(c.Backends))
	for _, d := range c.Backends {
		if err := d.Validate(); err != nil {
			return err
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate backend name: %s", d.Name)
		}
		seen[d.Name] = true
	}
	if !seen[c.MCP.Primary] {
		return fmt.Errorf("primary backend '%s' is not configured", c.MCP.Primary)
	}

	// Oracle設定検証
	switch c.Oracle.Provider {
	case ProviderAzure:
		if c.Oracle.Azure.Endpoint == "" || c.Oracle.Azure.APIKey == "" {
			return fmt.Errorf("azure oracle requires AZURE_OPENAI_ENDPOINT and AZURE_OPENAI_API_KEY")
		}
	case ProviderOpenAI:
		if c.Oracle.OpenAI.APIKey == "" && c.Oracle.OpenAI.BaseURL == "" {
			return fmt.Errorf("openai oracle requires OPENAI_API_KEY or OPENAI_BASE_URL")
		}
	case ProviderClaude:
		if c.Oracle.Claude.APIKey == "" {
			return fmt.Errorf("claude oracle requires ANTHROPIC_API_KEY")
		}
	default:
		return fmt.Errorf("unknown oracle provider: %s", c.Oracle.Provider)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}

	return nil
}
