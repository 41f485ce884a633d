package mcp

import (
	"fmt"
	"net/url"
	"strings"
)

// Transport はバックエンドとの通信方式
type Transport string

const (
	TransportHTTP           Transport = "http"
	TransportWebSocket      Transport = "websocket"
	TransportStdio          Transport = "stdio"
	TransportStreamableHTTP Transport = "streamable-http"
)

// Descriptor は登録済みバックエンドの静的な記述
type Descriptor struct {
	Name         string    `yaml:"name" json:"name"`
	Address      string    `yaml:"address" json:"url"`
	Description  string    `yaml:"description" json:"description"`
	Capabilities []string  `yaml:"capabilities" json:"capabilities"`
	Transport    Transport `yaml:"transport,omitempty" json:"transport,omitempty"`

	// stdio のみ
	Command string   `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty"`
	Env     []string `yaml:"env,omitempty" json:"-"`

	// HealthURL はヘルスウォッチが GET で確認するURL（任意）
	HealthURL string `yaml:"health_url,omitempty" json:"health_url,omitempty"`

	// GET で呼び出すオペレーション名（HTTPのみ。空ならカタログに従う）
	QueryOperations []string `yaml:"query_operations,omitempty" json:"-"`
}

// Validate は記述の妥当性を検証
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("backend name is required")
	}

	switch d.ResolveTransport() {
	case TransportStdio:
		if d.Command == "" {
			return fmt.Errorf("backend '%s': command is required for stdio transport", d.Name)
		}
	case "":
		if d.Address == "" {
			return fmt.Errorf("backend '%s': address is required", d.Name)
		}
		return fmt.Errorf("backend '%s': unsupported address scheme: %s", d.Name, d.Address)
	default:
		if d.Address == "" {
			return fmt.Errorf("backend '%s': address is required", d.Name)
		}
		if _, err := url.Parse(d.Address); err != nil {
			return fmt.Errorf("backend '%s': invalid address: %w", d.Name, err)
		}
	}
	return nil
}

// ResolveTransport は明示指定がなければアドレスのスキームから通信方式を決める
// 判定できない場合は空文字を返す
func (d Descriptor) ResolveTransport() Transport {
	if d.Transport != "" {
		return d.Transport
	}
	if d.Command != "" && d.Address == "" {
		return TransportStdio
	}

	addr := strings.ToLower(d.Address)
	switch {
	case strings.HasPrefix(addr, "http://"), strings.HasPrefix(addr, "https://"):
		return TransportHTTP
	case strings.HasPrefix(addr, "ws://"), strings.HasPrefix(addr, "wss://"):
		return TransportWebSocket
	}
	return ""
}

// Clone はスライスを含めて複製する
func (d Descriptor) Clone() Descriptor {
	c := d
	c.Capabilities = append([]string(nil), d.Capabilities...)
	c.Args = append([]string(nil), d.Args...)
	c.Env = append([]string(nil), d.Env...)
	c.QueryOperations = append([]string(nil), d.QueryOperations...)
	return c
}
