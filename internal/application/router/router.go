package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	domainmcp "github.com/Nyukimin/storefront_agent/internal/domain/mcp"
	"github.com/Nyukimin/storefront_agent/internal/domain/routing"
	"github.com/Nyukimin/storefront_agent/internal/infrastructure/tracer"
)

const defaultCallTimeout = 30 * time.Second

// Registry はバックエンド登録簿のインターフェース
type Registry interface {
	Get(name string) (domainmcp.Descriptor, bool)
	Descriptors() []domainmcp.Descriptor
}

// DecisionOracle はルーティング判断を行うオラクルのインターフェース
type DecisionOracle interface {
	DecideRoute(ctx context.Context, utterance string, backends []domainmcp.Descriptor) (routing.Decision, error)
}

// ServerStatus はバックエンドの状態
type ServerStatus struct {
	Descriptor domainmcp.Descriptor  `json:"descriptor"`
	Connected  bool                  `json:"connected"`
	Operations []domainmcp.Operation `json:"tools"`
	Error      string                `json:"error,omitempty"`
}

// Router は発話をオラクルの判断に従ってバックエンドへ振り分ける
type Router struct {
	registry    Registry
	oracle      DecisionOracle
	factory     domainmcp.Factory
	callTimeout time.Duration
	metrics     *Metrics
	logger      *slog.Logger

	mu    sync.RWMutex
	conns map[string]domainmcp.Connector
	group singleflight.Group
}

// Option はRouterの設定オプション
type Option func(*Router)

// WithCallTimeout はバックエンド呼び出し1回あたりのタイムアウトを設定
func WithCallTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.callTimeout = d
		}
	}
}

// WithMetrics はメトリクスを設定
func WithMetrics(m *Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithLogger はロガーを設定
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// New は新しいRouterを作成
func New(registry Registry, oracle DecisionOracle, factory domainmcp.Factory, opts ...Option) *Router {
	r := &Router{
		registry:    registry,
		oracle:      oracle,
		factory:     factory,
		callTimeout: defaultCallTimeout,
		logger:      slog.Default(),
		conns:       make(map[string]domainmcp.Connector),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ExecuteRequest は発話1件を処理し、終端状態を表すOutcomeを返す
// 自動リトライは行わない
func (r *Router) ExecuteRequest(ctx context.Context, utterance string) routing.Outcome {
	start := time.Now()
	ctx, span := tracer.StartSpan(ctx, "router.execute_request")
	defer span.End()

	outcome := r.execute(ctx, utterance)

	span.SetAttributes(
		attribute.String("state", string(outcome.State)),
		attribute.String("backend", outcome.Backend),
		attribute.String("operation", outcome.Operation),
	)
	if outcome.Success {
		tracer.SetOK(span)
	} else {
		tracer.RecordError(span, fmt.Errorf("%s: %s", outcome.State, outcome.Error))
	}
	r.metrics.observeRequest(string(outcome.State), time.Since(start))
	return outcome
}

func (r *Router) execute(ctx context.Context, utterance string) routing.Outcome {
	decision, err := r.oracle.DecideRoute(ctx, utterance, r.registry.Descriptors())
	if err != nil {
		r.logger.Error("oracle decision failed", "error", err)
		return routing.Failed(routing.StateOracleFailed, nil, err.Error())
	}

	if !decision.IsRoutable() {
		r.logger.Info("no appropriate tool selected",
			"backend", decision.Backend,
			"reasoning", decision.Reasoning,
		)
		return routing.Failed(routing.StateUnroutable, &decision, routing.ErrNoToolSelected)
	}

	conn, err := r.EnsureConnection(ctx, decision.Backend)
	if err != nil {
		r.logger.Error("backend connection failed", "backend", decision.Backend, "error", err)
		return routing.Failed(routing.StateConnectFailed, &decision, err.Error())
	}

	result, err := r.invoke(ctx, conn, decision)
	if err != nil {
		r.logger.Error("backend call failed",
			"backend", decision.Backend,
			"operation", decision.Operation,
			"error", err,
		)
		return routing.Failed(routing.StateCallFailed, &decision, err.Error())
	}

	r.logger.Info("backend call completed", "backend", decision.Backend, "operation", decision.Operation)
	return routing.Completed(decision, result)
}

func (r *Router) invoke(ctx context.Context, conn domainmcp.Connector, decision routing.Decision) (any, error) {
	ctx, span := tracer.StartSpan(ctx, "router.invoke",
		attribute.String("backend", decision.Backend),
		attribute.String("operation", decision.Operation),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	result, err := conn.Call(ctx, decision.Operation, decision.Parameters)
	r.metrics.observeCall(decision.Backend, decision.Operation, err)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	if result == nil {
		result = map[string]any{}
	}
	tracer.SetOK(span)
	return result, nil
}

// EnsureConnection はキャッシュ済みの接続を返すか、新しく接続する
// 同じバックエンドへの同時接続は1回にまとめる。接続処理は呼び出し元のキャンセルに影響されない
func (r *Router) EnsureConnection(ctx context.Context, name string) (domainmcp.Connector, error) {
	if conn, ok := r.liveConnection(name); ok {
		return conn, nil
	}

	ch := r.group.DoChan(name, func() (interface{}, error) {
		if conn, ok := r.liveConnection(name); ok {
			return conn, nil
		}
		connCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.callTimeout)
		defer cancel()
		return r.connect(connCtx, name)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(domainmcp.Connector), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %w", domainmcp.ErrConnectFailed, name, ctx.Err())
	}
}

// Verify は接続を確保してから Ping で疎通を確認する
// Ping に失敗した接続は破棄し、次の利用時に再接続させる
func (r *Router) Verify(ctx context.Context, name string) (domainmcp.Connector, error) {
	conn, err := r.EnsureConnection(ctx, name)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	if err := conn.Ping(pingCtx); err != nil {
		r.logger.Warn("backend ping failed, dropping connection", "backend", name, "error", err)
		r.drop(name, conn)
		return nil, fmt.Errorf("ping %s: %w", name, err)
	}
	return conn, nil
}

// drop はキャッシュ中の接続が conn のままであれば切断して外す
func (r *Router) drop(name string, conn domainmcp.Connector) {
	r.mu.Lock()
	current, ok := r.conns[name]
	if ok && current == conn {
		delete(r.conns, name)
	}
	r.mu.Unlock()

	if ok && current == conn {
		conn.Disconnect()
	}
}

func (r *Router) liveConnection(name string) (domainmcp.Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[name]
	if !ok || !conn.Connected() {
		return nil, false
	}
	return conn, true
}

func (r *Router) connect(ctx context.Context, name string) (domainmcp.Connector, error) {
	ctx, span := tracer.StartSpan(ctx, "router.connect", attribute.String("backend", name))
	defer span.End()

	d, ok := r.registry.Get(name)
	if !ok {
		err := fmt.Errorf("%w: %s (%w)", domainmcp.ErrConnectFailed, name, domainmcp.ErrUnknownBackend)
		tracer.RecordError(span, err)
		r.metrics.observeConnect(name, false)
		return nil, err
	}

	conn, err := r.factory.New(d)
	if err != nil {
		err = fmt.Errorf("%w: %s: %v", domainmcp.ErrConnectFailed, name, err)
		tracer.RecordError(span, err)
		r.metrics.observeConnect(name, false)
		return nil, err
	}

	if !conn.Connect(ctx) {
		err := fmt.Errorf("%w: %s", domainmcp.ErrConnectFailed, name)
		tracer.RecordError(span, err)
		r.metrics.observeConnect(name, false)
		return nil, err
	}

	r.mu.Lock()
	stale := r.conns[name]
	r.conns[name] = conn
	r.mu.Unlock()

	if stale != nil && stale != conn {
		stale.Disconnect()
	}

	r.metrics.observeConnect(name, true)
	tracer.SetOK(span)
	r.logger.Info("connected to backend", "backend", name, "address", d.Address)
	return conn, nil
}

// Connect は指定バックエンドへ接続し、成否を返す
func (r *Router) Connect(ctx context.Context, name string) bool {
	_, err := r.EnsureConnection(ctx, name)
	if err != nil {
		r.logger.Error("connect failed", "backend", name, "error", err)
		return false
	}
	return true
}

// Connection はキャッシュ済みの接続を返す
func (r *Router) Connection(name string) (domainmcp.Connector, bool) {
	return r.liveConnection(name)
}

// Disconnect は指定バックエンドとの接続を切る
func (r *Router) Disconnect(name string) {
	r.mu.Lock()
	conn, ok := r.conns[name]
	delete(r.conns, name)
	r.mu.Unlock()

	if ok {
		conn.Disconnect()
		r.logger.Info("disconnected from backend", "backend", name)
	}
}

// DisconnectAll は全ての接続を切る（複数回呼んでも安全）
func (r *Router) DisconnectAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]domainmcp.Connector)
	r.mu.Unlock()

	for name, conn := range conns {
		conn.Disconnect()
		r.logger.Info("disconnected from backend", "backend", name)
	}
}

// Servers は登録済みバックエンドの状態を返す
// 接続済みのバックエンドはオペレーション一覧も取得する
func (r *Router) Servers(ctx context.Context) []ServerStatus {
	descs := r.registry.Descriptors()
	out := make([]ServerStatus, 0, len(descs))

	for _, d := range descs {
		st := ServerStatus{Descriptor: d, Operations: []domainmcp.Operation{}}
		if conn, ok := r.liveConnection(d.Name); ok {
			st.Connected = true
			ops, err := conn.ListOperations(ctx)
			if err != nil {
				st.Error = err.Error()
				r.logger.Warn("failed to list operations", "backend", d.Name, "error", err)
			} else {
				st.Operations = ops
			}
		}
		out = append(out, st)
	}
	return out
}

// ConnectedNames は接続中のバックエンド名を返す
func (r *Router) ConnectedNames() []string {
	var names []string
	for _, d := range r.registry.Descriptors() {
		if _, ok := r.liveConnection(d.Name); ok {
			names = append(names, d.Name)
		}
	}
	return names
}
