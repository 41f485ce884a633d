package session

import (
	"context"
	"time"
)

// SessionRepository はセッション保管の抽象化
type SessionRepository interface {
	Save(ctx context.Context, session *Session) error
	Load(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
	// Prune は idle 以上更新のないセッションを削除し、削除件数を返す
	Prune(ctx context.Context, idle time.Duration) (int, error)
}
