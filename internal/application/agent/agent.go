package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Nyukimin/storefront_agent/internal/application/router"
	domainmcp "github.com/Nyukimin/storefront_agent/internal/domain/mcp"
	"github.com/Nyukimin/storefront_agent/internal/domain/routing"
	"github.com/Nyukimin/storefront_agent/internal/domain/session"
	"github.com/Nyukimin/storefront_agent/internal/domain/task"
)

// Oracle はエージェントが使うオラクル機能
type Oracle interface {
	InterpretOutcome(ctx context.Context, outcome routing.Outcome, utterance string) string
	NoMatchResponse(ctx context.Context, utterance string, ops []domainmcp.Operation) string
	AnalyzeIntent(ctx context.Context, utterance string) (routing.IntentAnalysis, error)
}

// Registry はバックエンド登録のインターフェース
type Registry interface {
	Register(d domainmcp.Descriptor) error
	Get(name string) (domainmcp.Descriptor, bool)
	Descriptors() []domainmcp.Descriptor
}

// Router はルーティング実行のインターフェース
type Router interface {
	ExecuteRequest(ctx context.Context, utterance string) routing.Outcome
	EnsureConnection(ctx context.Context, name string) (domainmcp.Connector, error)
	Verify(ctx context.Context, name string) (domainmcp.Connector, error)
	Connection(name string) (domainmcp.Connector, bool)
	Servers(ctx context.Context) []router.ServerStatus
	ConnectedNames() []string
	DisconnectAll()
}

// ErrResourcesUnsupported はリソースを公開しないバックエンドが指定された
var ErrResourcesUnsupported = errors.New("backend does not expose resources")

// Response は Process の結果
// Error は利用者向けの要約で、詳細は Outcome.Error に残る
type Response struct {
	RequestID     string          `json:"request_id"`
	SessionID     string          `json:"session_id,omitempty"`
	UserInput     string          `json:"user_input"`
	Outcome       routing.Outcome `json:"mcp_result"`
	FinalResponse string          `json:"final_response"`
	Success       bool            `json:"success"`
	Error         string          `json:"error,omitempty"`
}

// ToolInfo はバックエンド名付きのオペレーション
type ToolInfo struct {
	Server      string `json:"server"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Operations は利用可能なオペレーションの一覧
type Operations struct {
	Servers          []router.ServerStatus `json:"servers"`
	Tools            []ToolInfo            `json:"tools"`
	TotalServers     int                   `json:"total_servers"`
	TotalTools       int                   `json:"total_tools"`
	ConnectedServers []string              `json:"connected_servers"`
}

// ResourceInfo はバックエンド名付きのリソース
type ResourceInfo struct {
	Server string `json:"server"`
	domainmcp.Resource
}

// Config はエージェントの設定
type Config struct {
	Backends []domainmcp.Descriptor
	// Primary は起動時に接続するバックエンド名（空なら先頭）
	Primary string
}

// Agent はルーターとオラクルをまとめたエントリポイント
type Agent struct {
	registry Registry
	router   Router
	oracle   Oracle
	sessions session.SessionRepository
	cfg      Config
	logger   *slog.Logger

	mu          sync.Mutex
	initialized bool
}

// New は新しいAgentを作成
// sessions が nil の場合、会話履歴は記録しない
func New(registry Registry, r Router, oracle Oracle, sessions session.SessionRepository, cfg Config, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		registry: registry,
		router:   r,
		oracle:   oracle,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger,
	}
}

// PrimaryBackend は主バックエンド名を返す
func (a *Agent) PrimaryBackend() string {
	if a.cfg.Primary != "" {
		return a.cfg.Primary
	}
	if len(a.cfg.Backends) > 0 {
		return a.cfg.Backends[0].Name
	}
	return ""
}

// Initialize は設定されたバックエンドを登録し、主バックエンドへ接続する
func (a *Agent) Initialize(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, d := range a.cfg.Backends {
		if err := a.registry.Register(d); err != nil {
			a.logger.Error("failed to register backend", "backend", d.Name, "error", err)
			return false
		}
	}

	primary := a.PrimaryBackend()
	if primary == "" {
		a.logger.Error("no backend configured")
		return false
	}

	if _, err := a.router.EnsureConnection(ctx, primary); err != nil {
		a.logger.Error("failed to initialize agent", "backend", primary, "error", err)
		return false
	}

	a.initialized = true
	a.logger.Info("agent initialized", "backend", primary, "backends", len(a.cfg.Backends))
	return true
}

// Initialized は初期化済みかを返す
func (a *Agent) Initialized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initialized
}

// Process は発話を処理し、必ず応答文を含む Response を返す
func (a *Agent) Process(ctx context.Context, utterance string) Response {
	return a.ProcessRequest(ctx, task.NewRequest(utterance, task.ChannelCLI))
}

// ProcessRequest は Request を処理する
// SessionID を持つ場合は会話履歴に記録する
func (a *Agent) ProcessRequest(ctx context.Context, req task.Request) Response {
	logger := a.logger.With("request_id", req.ID().String(), "channel", string(req.Channel()))
	logger.Info("processing request", "utterance", req.Utterance())

	outcome := a.router.ExecuteRequest(ctx, req.Utterance())

	var final string
	if outcome.State == routing.StateUnroutable {
		final = a.oracle.NoMatchResponse(ctx, req.Utterance(), a.primaryOperations(ctx))
	} else {
		final = a.oracle.InterpretOutcome(ctx, outcome, req.Utterance())
	}

	resp := Response{
		RequestID:     req.ID().String(),
		SessionID:     req.SessionID(),
		UserInput:     req.Utterance(),
		Outcome:       outcome,
		FinalResponse: final,
		Success:       outcome.Success,
		Error:         outcome.PublicError(),
	}

	if req.SessionID() != "" {
		if err := a.record(ctx, req, resp); err != nil {
			logger.Warn("failed to record session history", "session_id", req.SessionID(), "error", err)
		}
	}

	if !outcome.Success {
		logger.Warn("request failed", "state", string(outcome.State), "error", outcome.Error)
	}
	logger.Info("request processed", "state", string(outcome.State), "success", outcome.Success)
	return resp
}

// primaryOperations は案内文用に主バックエンドのオペレーションを取得する
// 未接続や取得失敗の場合は空を返す
func (a *Agent) primaryOperations(ctx context.Context) []domainmcp.Operation {
	conn, ok := a.router.Connection(a.PrimaryBackend())
	if !ok {
		return nil
	}
	ops, err := conn.ListOperations(ctx)
	if err != nil {
		a.logger.Warn("failed to list operations", "backend", a.PrimaryBackend(), "error", err)
		return nil
	}
	return ops
}

func (a *Agent) record(ctx context.Context, req task.Request, resp Response) error {
	if a.sessions == nil {
		return nil
	}

	sess, err := a.sessions.Load(ctx, req.SessionID())
	if err != nil {
		if !errors.Is(err, session.ErrSessionNotFound) {
			return fmt.Errorf("failed to load session: %w", err)
		}
		sess = session.NewSession(req.SessionID(), req.Channel())
	}

	sess.AddExchange(session.Exchange{
		RequestID: req.ID(),
		Utterance: req.Utterance(),
		Response:  resp.FinalResponse,
		Success:   resp.Success,
	})

	if err := a.sessions.Save(ctx, sess); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// AvailableOperations は全バックエンドの状態とオペレーションを返す
func (a *Agent) AvailableOperations(ctx context.Context) Operations {
	servers := a.router.Servers(ctx)
	tools := make([]ToolInfo, 0)
	for _, s := range servers {
		for _, op := range s.Operations {
			tools = append(tools, ToolInfo{Server: s.Descriptor.Name, Name: op.Name, Description: op.Description})
		}
	}

	connected := a.router.ConnectedNames()
	if connected == nil {
		connected = []string{}
	}

	return Operations{
		Servers:          servers,
		Tools:            tools,
		TotalServers:     len(servers),
		TotalTools:       len(tools),
		ConnectedServers: connected,
	}
}

// TestConnection は主バックエンドへの接続とオペレーション取得を確認する
func (a *Agent) TestConnection(ctx context.Context) bool {
	return a.TestBackend(ctx, a.PrimaryBackend())
}

// TestBackend は指定バックエンドへ接続し、Ping とオペレーション取得で疎通を確認する
// 未接続のバックエンドはここで接続する
func (a *Agent) TestBackend(ctx context.Context, name string) bool {
	conn, err := a.router.Verify(ctx, name)
	if err != nil {
		a.logger.Warn("connection test failed", "backend", name, "error", err)
		return false
	}
	if _, err := conn.ListOperations(ctx); err != nil {
		a.logger.Warn("connection test failed", "backend", name, "error", err)
		return false
	}
	return true
}

// Resources は接続中のバックエンドが公開するリソースを返す
// リソースを持たないバックエンドは飛ばす
func (a *Agent) Resources(ctx context.Context) []ResourceInfo {
	out := make([]ResourceInfo, 0)
	for _, name := range a.router.ConnectedNames() {
		conn, ok := a.router.Connection(name)
		if !ok {
			continue
		}
		reader, ok := conn.(domainmcp.ResourceReader)
		if !ok {
			continue
		}
		resources, err := reader.ListResources(ctx)
		if err != nil {
			a.logger.Warn("failed to list resources", "backend", name, "error", err)
			continue
		}
		for _, r := range resources {
			out = append(out, ResourceInfo{Server: name, Resource: r})
		}
	}
	return out
}

// ReadResource は指定バックエンドのリソースを読む
func (a *Agent) ReadResource(ctx context.Context, server, uri string) (any, error) {
	conn, err := a.router.EnsureConnection(ctx, server)
	if err != nil {
		return nil, err
	}
	reader, ok := conn.(domainmcp.ResourceReader)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrResourcesUnsupported, server)
	}
	content, err := reader.ReadResource(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to read resource %s from %s: %w", uri, server, err)
	}
	return content, nil
}

// AnalyzeIntent は発話の意図を分析する
func (a *Agent) AnalyzeIntent(ctx context.Context, utterance string) (routing.IntentAnalysis, error) {
	analysis, err := a.oracle.AnalyzeIntent(ctx, utterance)
	if err != nil {
		return routing.IntentAnalysis{}, fmt.Errorf("intent analysis failed: %w", err)
	}
	return analysis, nil
}

// Shutdown は全ての接続を切る（複数回呼んでも安全）
func (a *Agent) Shutdown() {
	a.mu.Lock()
	a.initialized = false
	a.mu.Unlock()

	a.router.DisconnectAll()
	a.logger.Info("agent shut down")
}

// Reconnect は接続を切ってから再初期化する
func (a *Agent) Reconnect(ctx context.Context) bool {
	a.Shutdown()
	return a.Initialize(ctx)
}
