package task

import "strings"

// Channel は発話の入口を表す
type Channel string

const (
	ChannelCLI       Channel = "cli"
	ChannelHTTP      Channel = "http"
	ChannelSSE       Channel = "sse"
	ChannelWebSocket Channel = "websocket"
)

// Request はユーザーからの1件の発話を表す値オブジェクト
type Request struct {
	id        RequestID
	utterance string
	channel   Channel
	sessionID string
}

// NewRequest は新しいRequestを作成
// 空の発話もそのまま保持する（ルーティング側で扱う）
func NewRequest(utterance string, channel Channel) Request {
	return Request{
		id:        NewRequestID(),
		utterance: utterance,
		channel:   channel,
	}
}

// ID はリクエストIDを返す
func (r Request) ID() RequestID {
	return r.id
}

// Utterance はユーザー発話を返す
func (r Request) Utterance() string {
	return r.utterance
}

// Channel はチャネルを返す
func (r Request) Channel() Channel {
	return r.channel
}

// SessionID はセッションIDを返す（SSE/WebSocketのみ）
func (r Request) SessionID() string {
	return r.sessionID
}

// WithSessionID はセッションIDを設定した新しいRequestを返す
func (r Request) WithSessionID(sessionID string) Request {
	r.sessionID = sessionID
	return r
}

// IsBlank は発話が空白のみかを判定
func (r Request) IsBlank() bool {
	return strings.TrimSpace(r.utterance) == ""
}
