package mcp

import (
	"fmt"
	"sort"
	"sync"

	domainmcp "github.com/Nyukimin/storefront_agent/internal/domain/mcp"
)

// Registry は登録済みバックエンドの管理
type Registry struct {
	backends map[string]domainmcp.Descriptor
	mu       sync.RWMutex
}

// NewRegistry は新しいRegistryを作成
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]domainmcp.Descriptor),
	}
}

// Register はバックエンドを登録
// 同名の登録は上書きする（既存の接続には影響しない）
func (r *Registry) Register(d domainmcp.Descriptor) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid backend descriptor: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.backends[d.Name] = d.Clone()
	return nil
}

// Get は名前でバックエンドを取得
func (r *Registry) Get(name string) (domainmcp.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.backends[name]
	if !ok {
		return domainmcp.Descriptor{}, false
	}
	return d.Clone(), true
}

// Names は登録済みバックエンド名をソートして返す
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptors は名前順にソートしたバックエンド一覧を返す
func (r *Registry) Descriptors() []domainmcp.Descriptor {
	names := r.Names()
	out := make([]domainmcp.Descriptor, 0, len(names))
	for _, name := range names {
		if d, ok := r.Get(name); ok {
			out = append(out, d)
		}
	}
	return out
}
