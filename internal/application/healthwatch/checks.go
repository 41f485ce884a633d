package healthwatch

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// BackendTester はバックエンドの疎通確認ができるもの
type BackendTester interface {
	TestBackend(ctx context.Context, name string) bool
}

// BackendCheck はバックエンドへの接続と疎通を確認する（未接続なら接続を試みる）
func BackendCheck(tester BackendTester, name string) CheckFunc {
	return func(ctx context.Context) (bool, string) {
		if !tester.TestBackend(ctx, name) {
			return false, fmt.Sprintf("backend %s unreachable", name)
		}
		return true, "ok"
	}
}

// HTTPCheck はURLがHTTP 200を返すかを確認する
func HTTPCheck(url string, timeout time.Duration) CheckFunc {
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context) (bool, string) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false, fmt.Sprintf("bad request: %v", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return false, fmt.Sprintf("unreachable: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false, fmt.Sprintf("status %d", resp.StatusCode)
		}
		return true, "ok"
	}
}
