package mcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainmcp "github.com/Nyukimin/storefront_agent/internal/domain/mcp"
)

func TestConnectorFactory_New(t *testing.T) {
	f := NewConnectorFactory(time.Second, nil, "test", nil)

	tests := []struct {
		name string
		d    domainmcp.Descriptor
		want any
	}{
		{"http", domainmcp.Descriptor{Name: "a", Address: "http://localhost:8000"}, &HTTPConnector{}},
		{"websocket", domainmcp.Descriptor{Name: "b", Address: "ws://localhost:8080"}, &WebSocketConnector{}},
		{"stdio", domainmcp.Descriptor{Name: "c", Command: "storefront-mcp"}, &SDKConnector{}},
		{"streamable", domainmcp.Descriptor{Name: "d", Address: "http://localhost/mcp", Transport: domainmcp.TransportStreamableHTTP}, &SDKConnector{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := f.New(tt.d)
			require.NoError(t, err)
			assert.IsType(t, tt.want, c)
		})
	}
}

func TestConnectorFactory_QueryOperations(t *testing.T) {
	f := NewConnectorFactory(time.Second, nil, "test", nil)

	c, err := f.New(domainmcp.Descriptor{Name: "a", Address: "http://localhost"})
	require.NoError(t, err)
	assert.True(t, c.(*HTTPConnector).queryOps["search_products"])

	c, err = f.New(domainmcp.Descriptor{Name: "b", Address: "http://localhost", QueryOperations: []string{"list_orders"}})
	require.NoError(t, err)
	http := c.(*HTTPConnector)
	assert.True(t, http.queryOps["list_orders"])
	assert.False(t, http.queryOps["search_products"])
}

func TestConnectorFactory_Unsupported(t *testing.T) {
	f := NewConnectorFactory(time.Second, nil, "test", nil)

	_, err := f.New(domainmcp.Descriptor{Name: "x", Address: "ftp://nope"})
	assert.Error(t, err)
}
