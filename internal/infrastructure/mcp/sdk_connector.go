package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	domainmcp "github.com/Nyukimin/storefront_agent/internal/domain/mcp"
)

const clientName = "storefront-agent"

// sdkClient は mcp-go クライアントの抽象化（テスト用）
type sdkClient interface {
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	ListResources(ctx context.Context, request mcp.ListResourcesRequest) (*mcp.ListResourcesResult, error)
	ReadResource(ctx context.Context, request mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// sdkDialer は Descriptor から起動済みのクライアントを作る
type sdkDialer func(ctx context.Context, d domainmcp.Descriptor) (sdkClient, error)

// SDKConnector は mcp-go (stdio / streamable-http) を使うコネクタ
type SDKConnector struct {
	descriptor domainmcp.Descriptor
	timeout    time.Duration
	dial       sdkDialer
	version    string
	logger     *slog.Logger

	mu     sync.RWMutex
	client sdkClient
}

// NewSDKConnector は新しい SDKConnector を作成
func NewSDKConnector(d domainmcp.Descriptor, timeout time.Duration, version string, logger *slog.Logger) *SDKConnector {
	return newSDKConnectorWithDialer(d, timeout, version, logger, dialSDK)
}

func newSDKConnectorWithDialer(d domainmcp.Descriptor, timeout time.Duration, version string, logger *slog.Logger, dial sdkDialer) *SDKConnector {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}

	return &SDKConnector{
		descriptor: d,
		timeout:    timeout,
		dial:       dial,
		version:    version,
		logger:     logger.With("backend", d.Name, "transport", string(d.ResolveTransport())),
	}
}

// dialSDK は通信方式に応じて mcp-go クライアントを起動する
func dialSDK(ctx context.Context, d domainmcp.Descriptor) (sdkClient, error) {
	switch d.ResolveTransport() {
	case domainmcp.TransportStdio:
		c, err := mcpclient.NewStdioMCPClient(d.Command, d.Env, d.Args...)
		if err != nil {
			return nil, fmt.Errorf("create stdio client: %w", err)
		}
		return c, nil
	case domainmcp.TransportStreamableHTTP:
		t, err := transport.NewStreamableHTTP(d.Address)
		if err != nil {
			return nil, fmt.Errorf("create http transport: %w", err)
		}
		c := mcpclient.NewClient(t)
		if err := c.Start(ctx); err != nil {
			return nil, fmt.Errorf("start http client: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", d.ResolveTransport())
	}
}

// Connect はクライアントを起動し initialize ハンドシェイクを行う
func (c *SDKConnector) Connect(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client, err := c.dial(ctx, c.descriptor)
	if err != nil {
		c.logger.Error("Failed to start MCP client", "error", err)
		return false
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: c.version,
	}

	if _, err := client.Initialize(ctx, initReq); err != nil {
		c.logger.Error("MCP initialize failed", "error", err)
		if cerr := client.Close(); cerr != nil {
			c.logger.Warn("MCP client close error", "error", cerr)
		}
		return false
	}

	c.client = client
	c.logger.Info("MCP server connected")
	return true
}

func (c *SDKConnector) current(label string) (sdkClient, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.client == nil {
		return nil, domainmcp.NewTransportError(label, domainmcp.ErrNotConnected)
	}
	return c.client, nil
}

// ListOperations は tools/list を実行
func (c *SDKConnector) ListOperations(ctx context.Context) ([]domainmcp.Operation, error) {
	client, err := c.current("tools/list")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, classifyError("tools/list", err)
	}

	ops := make([]domainmcp.Operation, 0, len(result.Tools))
	for _, t := range result.Tools {
		ops = append(ops, domainmcp.Operation{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaMap(t.InputSchema),
		})
	}
	return ops, nil
}

// Call は tools/call を実行
func (c *SDKConnector) Call(ctx context.Context, name string, params map[string]any) (any, error) {
	client, err := c.current(name)
	if err != nil {
		return nil, err
	}

	if params == nil {
		params = map[string]any{}
	}

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = name
	callReq.Params.Arguments = params

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.logger.Info("Calling MCP tool", "operation", name)
	result, err := client.CallTool(ctx, callReq)
	if err != nil {
		c.logger.Error("Error calling MCP tool", "operation", name, "error", err)
		return nil, classifyError(name, err)
	}

	content := extractContent(result.Content)
	if result.IsError {
		return nil, domainmcp.NewRemoteError(name, 0, fmt.Sprint(content))
	}
	return content, nil
}

// Ping は ping を送信する
func (c *SDKConnector) Ping(ctx context.Context) error {
	client, err := c.current("ping")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		return classifyError("ping", err)
	}
	return nil
}

// ListResources は resources/list を実行
func (c *SDKConnector) ListResources(ctx context.Context) ([]domainmcp.Resource, error) {
	client, err := c.current("resources/list")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := client.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		return nil, classifyError("resources/list", err)
	}

	out := make([]domainmcp.Resource, 0, len(result.Resources))
	for _, r := range result.Resources {
		out = append(out, domainmcp.Resource{
			URI:         r.URI,
			Name:        r.Name,
			Description: r.Description,
			MIMEType:    r.MIMEType,
		})
	}
	return out, nil
}

// ReadResource は resources/read を実行
func (c *SDKConnector) ReadResource(ctx context.Context, uri string) (any, error) {
	client, err := c.current(uri)
	if err != nil {
		return nil, err
	}

	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := client.ReadResource(ctx, req)
	if err != nil {
		return nil, classifyError(uri, err)
	}

	var parts []string
	for _, rc := range result.Contents {
		if text, ok := rc.(mcp.TextResourceContents); ok {
			parts = append(parts, text.Text)
			continue
		}
		if data, err := json.Marshal(rc); err == nil {
			parts = append(parts, string(data))
		}
	}
	return strings.Join(parts, "\n"), nil
}

// Disconnect はクライアントを閉じる（複数回呼んでも安全）
func (c *SDKConnector) Disconnect() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		c.logger.Warn("MCP client close error", "error", err)
		return
	}
	c.logger.Info("Disconnected from MCP server")
}

// Connected は接続済みかを返す
func (c *SDKConnector) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil
}

// extractContent はテキストコンテンツを連結し、JSONとして読めればデコードして返す
func extractContent(contents []mcp.Content) any {
	var parts []string
	for _, ct := range contents {
		switch v := ct.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := json.Marshal(v); err == nil {
				parts = append(parts, string(data))
			}
		}
	}

	joined := strings.Join(parts, "\n")
	if len(parts) == 1 {
		return decodeResult([]byte(joined))
	}
	return joined
}

func schemaMap(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
