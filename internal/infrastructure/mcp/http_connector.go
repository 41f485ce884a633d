package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	domainmcp "github.com/Nyukimin/storefront_agent/internal/domain/mcp"
)

const defaultCallTimeout = 30 * time.Second

// HTTPConnector は REST (/api/tools) を公開するバックエンドへのコネクタ
type HTTPConnector struct {
	name       string
	baseURL    string
	httpClient *http.Client
	queryOps   map[string]bool
	logger     *slog.Logger

	mu        sync.RWMutex
	connected bool
}

// NewHTTPConnector は新しい HTTPConnector を作成
// queryOps に含まれるオペレーションは GET + クエリ文字列で呼び出す
func NewHTTPConnector(d domainmcp.Descriptor, timeout time.Duration, queryOps []string, logger *slog.Logger) *HTTPConnector {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	ops := make(map[string]bool, len(queryOps))
	for _, op := range queryOps {
		ops[op] = true
	}

	return &HTTPConnector{
		name:    d.Name,
		baseURL: strings.TrimRight(d.Address, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		queryOps: ops,
		logger:   logger.With("backend", d.Name, "transport", "http"),
	}
}

// Connect は GET /api/tools が 200 を返せば接続成功とみなす
func (c *HTTPConnector) Connect(ctx context.Context) bool {
	c.logger.Info("Connecting to HTTP MCP server", "url", c.baseURL)

	status, _, err := c.do(ctx, http.MethodGet, "/api/tools", nil)
	if err != nil {
		c.logger.Error("Failed to connect to HTTP MCP server", "error", err)
		return false
	}
	if status != http.StatusOK {
		c.logger.Error("HTTP MCP server connection failed", "status", status)
		return false
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("HTTP MCP server connection successful")
	return true
}

// ListOperations は GET /api/tools でオペレーション一覧を取得
func (c *HTTPConnector) ListOperations(ctx context.Context) ([]domainmcp.Operation, error) {
	body, err := c.expectOK(ctx, "tools/list", http.MethodGet, "/api/tools", nil)
	if err != nil {
		return nil, err
	}

	ops, err := decodeOperations(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tool list: %w", err)
	}
	return ops, nil
}

// Call はオペレーションを呼び出す
func (c *HTTPConnector) Call(ctx context.Context, name string, params map[string]any) (any, error) {
	if !c.Connected() {
		return nil, domainmcp.NewTransportError(name, domainmcp.ErrNotConnected)
	}

	path := "/api/tools/" + url.PathEscape(name)
	var (
		body []byte
		err  error
	)

	if c.queryOps[name] {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, queryValue(v))
		}
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		body, err = c.expectOK(ctx, name, http.MethodGet, path, nil)
	} else {
		if params == nil {
			params = map[string]any{}
		}
		body, err = c.expectOK(ctx, name, http.MethodPost, path, params)
	}
	if err != nil {
		c.logger.Error("Error calling MCP tool", "operation", name, "error", err)
		return nil, err
	}

	c.logger.Info("Successfully called tool", "operation", name)
	return decodeResult(body), nil
}

// Ping はバックエンドのヘルスチェック
func (c *HTTPConnector) Ping(ctx context.Context) error {
	_, err := c.expectOK(ctx, "ping", http.MethodGet, "/api/tools", nil)
	return err
}

// queryValue はクエリ文字列用に値を文字列化する
// スカラー以外は JSON にする
func queryValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool, int, int32, int64, float32, float64, json.Number:
		return fmt.Sprint(x)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// Disconnect は接続状態をリセット
func (c *HTTPConnector) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return
	}
	c.connected = false
	c.httpClient.CloseIdleConnections()
	c.logger.Info("Disconnected from HTTP MCP server")
}

// Connected は接続済みかを返す
func (c *HTTPConnector) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *HTTPConnector) expectOK(ctx context.Context, operation, method, path string, payload any) ([]byte, error) {
	status, body, err := c.do(ctx, method, path, payload)
	if err != nil {
		return nil, classifyError(operation, err)
	}
	if status < 200 || status >= 300 {
		return nil, domainmcp.NewHTTPStatusError(operation, status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// do はバックエンドに HTTP リクエストを送信
func (c *HTTPConnector) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// classifyError は通信エラーをタイムアウトとそれ以外に分類する
func classifyError(operation string, err error) *domainmcp.RemoteCallError {
	var rce *domainmcp.RemoteCallError
	if errors.As(err, &rce) {
		return rce
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domainmcp.NewTimeoutError(operation, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domainmcp.NewTimeoutError(operation, err)
	}
	return domainmcp.NewTransportError(operation, err)
}

// decodeOperations は配列形式と {"tools": [...]} 形式の両方を受け付ける
func decodeOperations(body []byte) ([]domainmcp.Operation, error) {
	var ops []domainmcp.Operation
	if err := json.Unmarshal(body, &ops); err == nil {
		return ops, nil
	}

	var wrapped struct {
		Tools []domainmcp.Operation `json:"tools"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Tools, nil
}

// decodeResult はJSONとして解釈できなければ文字列として返す
func decodeResult(body []byte) any {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	if v == nil {
		return map[string]any{}
	}
	return v
}
