package session

import (
	"errors"
	"time"

	"github.com/Nyukimin/storefront_agent/internal/domain/task"
)

// ErrSessionNotFound はセッションが見つからない場合のエラー
var ErrSessionNotFound = errors.New("session not found")

// Exchange は1往復分の会話（発話と最終応答）
type Exchange struct {
	RequestID task.RequestID
	Utterance string
	Response  string
	Success   bool
	At        time.Time
}

// Session はSSE/WebSocketのチャットセッションを表すエンティティ
// プロセス内でのみ保持し、永続化しない
type Session struct {
	id        string
	channel   task.Channel
	history   []Exchange
	createdAt time.Time
	updatedAt time.Time
}

// NewSession は新しいセッションを作成
func NewSession(id string, channel task.Channel) *Session {
	now := time.Now()
	return &Session{
		id:        id,
		channel:   channel,
		history:   make([]Exchange, 0),
		createdAt: now,
		updatedAt: now,
	}
}

// ID はセッションIDを返す
func (s *Session) ID() string {
	return s.id
}

// Channel はチャネルを返す
func (s *Session) Channel() task.Channel {
	return s.channel
}

// CreatedAt は作成時刻を返す
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// UpdatedAt は最終更新時刻を返す
func (s *Session) UpdatedAt() time.Time {
	return s.updatedAt
}

// AddExchange は会話を履歴に追加
func (s *Session) AddExchange(e Exchange) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.history = append(s.history, e)
	s.updatedAt = e.At
}

// History は会話履歴のコピーを返す
func (s *Session) History() []Exchange {
	out := make([]Exchange, len(s.history))
	copy(out, s.history)
	return out
}

// RecentHistory は最近N件の履歴を返す
func (s *Session) RecentHistory(n int) []Exchange {
	if n <= 0 {
		return []Exchange{}
	}
	if len(s.history) <= n {
		return s.History()
	}
	out := make([]Exchange, n)
	copy(out, s.history[len(s.history)-n:])
	return out
}

// HistoryCount は履歴の件数を返す
func (s *Session) HistoryCount() int {
	return len(s.history)
}

// Clone はセッションの複製を返す
func (s *Session) Clone() *Session {
	c := *s
	c.history = s.History()
	return &c
}

// IdleSince は最終更新からの経過時間を返す
func (s *Session) IdleSince(now time.Time) time.Duration {
	return now.Sub(s.updatedAt)
}
