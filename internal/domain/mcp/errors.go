package mcp

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownBackend は未登録のバックエンド名が指定された
	ErrUnknownBackend = errors.New("unknown backend")
	// ErrConnectFailed はバックエンドへの接続に失敗した
	ErrConnectFailed = errors.New("failed to connect to server")
	// ErrNotConnected は未接続のConnectorが呼ばれた
	ErrNotConnected = errors.New("not connected")
)

// CallErrorKind はリモート呼び出し失敗の分類
type CallErrorKind string

const (
	KindTimeout    CallErrorKind = "timeout"
	KindHTTPStatus CallErrorKind = "http_status"
	KindTransport  CallErrorKind = "transport"
	KindRemote     CallErrorKind = "remote"
)

// RemoteCallError はバックエンド呼び出しの失敗
type RemoteCallError struct {
	Kind      CallErrorKind
	Operation string
	Status    int // HTTPStatus の場合のステータスコード、Remote の場合のJSON-RPCエラーコード
	Message   string
	Err       error
}

// Error は error インターフェースを実装
func (e *RemoteCallError) Error() string {
	switch e.Kind {
	case KindTimeout:
		return fmt.Sprintf("request timeout for operation: %s", e.Operation)
	case KindHTTPStatus:
		return fmt.Sprintf("HTTP error %d: %s", e.Status, e.Message)
	case KindRemote:
		return fmt.Sprintf("MCP error %d: %s", e.Status, e.Message)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
		}
		return fmt.Sprintf("%s failed: %s", e.Operation, e.Message)
	}
}

// Unwrap は元のエラーを返す
func (e *RemoteCallError) Unwrap() error {
	return e.Err
}

// NewTimeoutError はタイムアウトエラーを作成
func NewTimeoutError(operation string, err error) *RemoteCallError {
	return &RemoteCallError{Kind: KindTimeout, Operation: operation, Err: err}
}

// NewTransportError は通信エラーを作成
func NewTransportError(operation string, err error) *RemoteCallError {
	return &RemoteCallError{Kind: KindTransport, Operation: operation, Err: err}
}

// NewHTTPStatusError はHTTPステータスエラーを作成
func NewHTTPStatusError(operation string, status int, body string) *RemoteCallError {
	return &RemoteCallError{Kind: KindHTTPStatus, Operation: operation, Status: status, Message: body}
}

// NewRemoteError はリモート側が返したエラーを作成
func NewRemoteError(operation string, code int, message string) *RemoteCallError {
	return &RemoteCallError{Kind: KindRemote, Operation: operation, Status: code, Message: message}
}

// IsTimeout はエラーがタイムアウトかを判定
func IsTimeout(err error) bool {
	var rce *RemoteCallError
	return errors.As(err, &rce) && rce.Kind == KindTimeout
}
