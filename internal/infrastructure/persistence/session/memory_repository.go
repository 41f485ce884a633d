package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Nyukimin/storefront_agent/internal/domain/session"
)

// MemorySessionRepository はプロセス内メモリのSessionRepository実装
// 保存・取得のたびに複製するため、呼び出し側の変更は Save するまで反映されない
type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
	now      func() time.Time
}

// NewMemorySessionRepository は新しいMemorySessionRepositoryを作成
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[string]*session.Session),
		now:      time.Now,
	}
}

// Save はセッションを保存
func (r *MemorySessionRepository) Save(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.ID() == "" {
		return fmt.Errorf("failed to save session: empty session id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[sess.ID()] = sess.Clone()
	return nil
}

// Load はセッションをロード
func (r *MemorySessionRepository) Load(ctx context.Context, id string) (*session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", session.ErrSessionNotFound, id)
	}
	return sess.Clone(), nil
}

// Delete はセッションを削除
func (r *MemorySessionRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", session.ErrSessionNotFound, id)
	}
	delete(r.sessions, id)
	return nil
}

// Exists はセッションの存在を確認
func (r *MemorySessionRepository) Exists(ctx context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.sessions[id]
	return ok, nil
}

// Prune は idle 以上更新のないセッションを削除
func (r *MemorySessionRepository) Prune(ctx context.Context, idle time.Duration) (int, error) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, sess := range r.sessions {
		if sess.IdleSince(now) >= idle {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Count は保持しているセッション数を返す
func (r *MemorySessionRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
