package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemoteCallError_Messages(t *testing.T) {
	tests := []struct {
		name string
		err  *RemoteCallError
		want string
	}{
		{"timeout", NewTimeoutError("tools/call", context.DeadlineExceeded), "request timeout for operation: tools/call"},
		{"http", NewHTTPStatusError("get_product", 404, "not found"), "HTTP error 404: not found"},
		{"remote", NewRemoteError("tools/call", -32601, "Method not found"), "MCP error -32601: Method not found"},
		{"transport", NewTransportError("get_categories", errors.New("connection refused")), "get_categories failed: connection refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestRemoteCallError_As(t *testing.T) {
	wrapped := fmt.Errorf("call failed: %w", NewTimeoutError("tools/call", context.DeadlineExceeded))

	var rce *RemoteCallError
	assert.True(t, errors.As(wrapped, &rce))
	assert.Equal(t, KindTimeout, rce.Kind)
	assert.True(t, IsTimeout(wrapped))
	assert.True(t, errors.Is(wrapped, context.DeadlineExceeded))
	assert.False(t, IsTimeout(errors.New("other")))
}
