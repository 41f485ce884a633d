package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	domainmcp "github.com/Nyukimin/storefront_agent/internal/domain/mcp"
)

// errChannelClosed は応答待ち中に接続が切れた
var errChannelClosed = errors.New("websocket connection closed")

// pendingResult は応答待ちの呼び出しに届く結果
type pendingResult struct {
	resp rpcResponse
	err  error
}

// WebSocketConnector は JSON-RPC 2.0 over WebSocket のコネクタ
// 応答は受信ゴルーチンがIDで対応付けて返す
type WebSocketConnector struct {
	name    string
	url     string
	timeout time.Duration
	dialer  *websocket.Dialer
	logger  *slog.Logger

	mu   sync.RWMutex
	conn *websocket.Conn
	done chan struct{}

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan pendingResult
}

// NewWebSocketConnector は新しい WebSocketConnector を作成
func NewWebSocketConnector(d domainmcp.Descriptor, timeout time.Duration, logger *slog.Logger) *WebSocketConnector {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &WebSocketConnector{
		name:    d.Name,
		url:     d.Address,
		timeout: timeout,
		dialer: &websocket.Dialer{
			HandshakeTimeout: timeout,
		},
		logger:  logger.With("backend", d.Name, "transport", "websocket"),
		pending: make(map[string]chan pendingResult),
	}
}

// Connect はWebSocket接続を確立し受信ゴルーチンを開始
func (c *WebSocketConnector) Connect(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return true
	}

	c.logger.Info("Connecting to MCP server", "url", c.url)

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, resp, err := c.dialer.DialContext(dialCtx, c.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.logger.Error("Failed to connect to MCP server", "error", err)
		return false
	}

	done := make(chan struct{})
	c.conn = conn
	c.done = done
	go c.listen(conn, done)

	c.logger.Info("Connected to MCP server")
	return true
}

// listen は応答を受信し、対応する呼び出しに渡す
func (c *WebSocketConnector) listen(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("WebSocket connection closed")
			} else {
				c.logger.Warn("WebSocket listener stopped", "error", err)
			}
			c.detach(conn)
			if cerr := conn.Close(); cerr != nil {
				c.logger.Debug("WebSocket close after read error failed", "error", cerr)
			}
			c.failAll(fmt.Errorf("%w: %v", errChannelClosed, err))
			return
		}

		var resp rpcResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logger.Error("Failed to parse response JSON", "error", err)
			continue
		}

		c.resolve(resp)
	}
}

// resolve はIDに対応する応答待ちを取り出して結果を渡す
func (c *WebSocketConnector) resolve(resp rpcResponse) {
	id, err := resp.responseID()
	if err != nil {
		c.logger.Warn("Received response without usable id", "error", err)
		return
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Warn("Received response for unknown request ID", "id", id)
		return
	}
	ch <- pendingResult{resp: resp}
}

// failAll は全ての応答待ちを通信エラーで終了させる
func (c *WebSocketConnector) failAll(err error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan pendingResult)
	c.pendingMu.Unlock()

	for _, ch := range pending {
		ch <- pendingResult{err: err}
	}
}

// detach は現在の接続が conn であれば切り離す
func (c *WebSocketConnector) detach(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == conn {
		c.conn = nil
	}
}

// request はリクエストを送信し、応答またはタイムアウトを待つ
func (c *WebSocketConnector) request(ctx context.Context, label, method string, params any) (json.RawMessage, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return nil, domainmcp.NewTransportError(label, domainmcp.ErrNotConnected)
	}

	id := uuid.NewString()
	ch := make(chan pendingResult, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	c.writeMu.Lock()
	err := conn.WriteJSON(rpcRequest{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params})
	c.writeMu.Unlock()
	if err != nil {
		c.removePending(id)
		return nil, domainmcp.NewTransportError(label, err)
	}
	c.logger.Debug("Sent MCP request", "id", id, "method", method)

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, domainmcp.NewTransportError(label, res.err)
		}
		if res.resp.Error != nil {
			return nil, domainmcp.NewRemoteError(label, res.resp.Error.Code, res.resp.Error.Message)
		}
		return res.resp.Result, nil
	case <-callCtx.Done():
		c.removePending(id)
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, domainmcp.NewTimeoutError(label, callCtx.Err())
		}
		return nil, domainmcp.NewTransportError(label, callCtx.Err())
	}
}

func (c *WebSocketConnector) removePending(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *WebSocketConnector) pendingCount() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

// ListOperations は tools/list を送信
func (c *WebSocketConnector) ListOperations(ctx context.Context) ([]domainmcp.Operation, error) {
	raw, err := c.request(ctx, "tools/list", "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var result toolListResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("failed to decode tool list: %w", err)
		}
	}

	ops := make([]domainmcp.Operation, 0, len(result.Tools))
	for _, t := range result.Tools {
		ops = append(ops, domainmcp.Operation{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return ops, nil
}

// Call は tools/call を送信
func (c *WebSocketConnector) Call(ctx context.Context, name string, params map[string]any) (any, error) {
	if params == nil {
		params = map[string]any{}
	}

	c.logger.Info("Calling MCP tool", "operation", name)
	raw, err := c.request(ctx, name, "tools/call", toolCallParams{Name: name, Arguments: params})
	if err != nil {
		c.logger.Error("Error calling MCP tool", "operation", name, "error", err)
		return nil, err
	}
	return decodeRaw(raw), nil
}

// ListResources は resources/list を送信
func (c *WebSocketConnector) ListResources(ctx context.Context) ([]domainmcp.Resource, error) {
	raw, err := c.request(ctx, "resources/list", "resources/list", nil)
	if err != nil {
		return nil, err
	}

	var result resourceListResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("failed to decode resource list: %w", err)
		}
	}

	out := make([]domainmcp.Resource, 0, len(result.Resources))
	for _, r := range result.Resources {
		out = append(out, domainmcp.Resource{URI: r.URI, Name: r.Name, Description: r.Description, MIMEType: r.MIMEType})
	}
	return out, nil
}

// ReadResource は resources/read を送信
func (c *WebSocketConnector) ReadResource(ctx context.Context, uri string) (any, error) {
	raw, err := c.request(ctx, uri, "resources/read", resourceReadParams{URI: uri})
	if err != nil {
		return nil, err
	}
	return decodeRaw(raw), nil
}

// Ping は ping を送信する
// JSON-RPC のエラー応答も往復できているので到達とみなす
func (c *WebSocketConnector) Ping(ctx context.Context) error {
	_, err := c.request(ctx, "ping", "ping", nil)
	var rce *domainmcp.RemoteCallError
	if errors.As(err, &rce) && rce.Kind == domainmcp.KindRemote {
		return nil
	}
	return err
}

// Disconnect は接続を閉じる（複数回呼んでも安全）
func (c *WebSocketConnector) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	done := c.done
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return
	}

	c.writeMu.Lock()
	err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Debug("Close handshake failed", "error", err)
	}

	if err := conn.Close(); err != nil {
		c.logger.Error("Error disconnecting from MCP server", "error", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		c.logger.Warn("WebSocket listener did not stop in time")
	}
	c.logger.Info("Disconnected from MCP server")
}

// Connected は接続済みかを返す
func (c *WebSocketConnector) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}
