package mcp

import (
	"encoding/json"
	"fmt"
)

const jsonRPCVersion = "2.0"

// rpcRequest は JSON-RPC 2.0 リクエスト
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcResponse は JSON-RPC 2.0 レスポンス
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError は JSON-RPC エラー
type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// toolCallParams は tools/call のパラメータ
type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// resourceReadParams は resources/read のパラメータ
type resourceReadParams struct {
	URI string `json:"uri"`
}

// toolListResult は tools/list の結果
type toolListResult struct {
	Tools []struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		InputSchema map[string]any `json:"inputSchema,omitempty"`
	} `json:"tools"`
}

// resourceListResult は resources/list の結果
type resourceListResult struct {
	Resources []struct {
		URI         string `json:"uri"`
		Name        string `json:"name"`
		Description string `json:"description"`
		MIMEType    string `json:"mimeType"`
	} `json:"resources"`
}

// responseID は文字列IDを取り出す（数値IDも文字列化して扱う）
func (r rpcResponse) responseID() (string, error) {
	if len(r.ID) == 0 || string(r.ID) == "null" {
		return "", fmt.Errorf("response has no id")
	}

	var s string
	if err := json.Unmarshal(r.ID, &s); err == nil {
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(r.ID, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("unsupported id: %s", string(r.ID))
}

// decodeRaw は結果を汎用値に変換（空なら空オブジェクト）
func decodeRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	return decodeResult(raw)
}
