package mcp

import "context"

// Operation はバックエンドが公開するオペレーション（ツール）
type Operation struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// Resource はバックエンドが公開するリソース
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// Connector はバックエンドへの接続の抽象化
//
// Connect は失敗しても error を返さず false を返す。失敗理由はログに残す。
// Call の失敗は *RemoteCallError で返す。
// Ping は接続済みの経路でバックエンドが応答するかを確認する。
type Connector interface {
	Connect(ctx context.Context) bool
	ListOperations(ctx context.Context) ([]Operation, error)
	Call(ctx context.Context, name string, params map[string]any) (any, error)
	Ping(ctx context.Context) error
	Disconnect()
	Connected() bool
}

// ResourceReader はリソースを公開するバックエンド向けの追加機能
type ResourceReader interface {
	ListResources(ctx context.Context) ([]Resource, error)
	ReadResource(ctx context.Context, uri string) (any, error)
}

// Factory は Descriptor から Connector を作成する
type Factory interface {
	New(d Descriptor) (Connector, error)
}

// FactoryFunc は関数を Factory として扱うアダプタ
type FactoryFunc func(d Descriptor) (Connector, error)

// New は Factory を実装
func (f FactoryFunc) New(d Descriptor) (Connector, error) {
	return f(d)
}
