package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptor_ResolveTransport(t *testing.T) {
	tests := []struct {
		name string
		d    Descriptor
		want Transport
	}{
		{"http", Descriptor{Address: "http://localhost:8000"}, TransportHTTP},
		{"https upper", Descriptor{Address: "HTTPS://shop.example.com"}, TransportHTTP},
		{"ws", Descriptor{Address: "ws://localhost:8080"}, TransportWebSocket},
		{"wss", Descriptor{Address: "wss://shop.example.com/mcp"}, TransportWebSocket},
		{"explicit wins", Descriptor{Address: "http://localhost/mcp", Transport: TransportStreamableHTTP}, TransportStreamableHTTP},
		{"command only", Descriptor{Command: "storefront-mcp"}, TransportStdio},
		{"unknown scheme", Descriptor{Address: "ftp://x"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.d.ResolveTransport())
		})
	}
}

func TestDescriptor_Validate(t *testing.T) {
	tests := []struct {
		name    string
		d       Descriptor
		wantErr string
	}{
		{"ok http", Descriptor{Name: "storefront", Address: "http://localhost:8000"}, ""},
		{"ok stdio", Descriptor{Name: "local", Command: "storefront-mcp"}, ""},
		{"missing name", Descriptor{Address: "http://localhost:8000"}, "backend name is required"},
		{"missing address", Descriptor{Name: "x"}, "address is required"},
		{"stdio without command", Descriptor{Name: "x", Transport: TransportStdio}, "command is required"},
		{"bad scheme", Descriptor{Name: "x", Address: "ftp://x"}, "unsupported address scheme"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.d.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDescriptor_Clone(t *testing.T) {
	d := Descriptor{Name: "a", Capabilities: []string{"search"}}
	c := d.Clone()
	c.Capabilities[0] = "mutated"

	assert.Equal(t, "search", d.Capabilities[0])
}
