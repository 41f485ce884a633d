package routing

import "fmt"

// OracleError はオラクル（LLM）呼び出し自体の失敗
type OracleError struct {
	Op       string // decide_route, interpret, no_match, analyze_intent
	Provider string
	Err      error
}

// Error は error インターフェースを実装
func (e *OracleError) Error() string {
	return fmt.Sprintf("oracle %s failed (%s): %v", e.Op, e.Provider, e.Err)
}

// Unwrap は元のエラーを返す
func (e *OracleError) Unwrap() error {
	return e.Err
}
