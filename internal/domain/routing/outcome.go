package routing

import "fmt"

// State はルーティング処理の終端状態
type State string

const (
	StateOracleFailed  State = "oracle_failed"
	StateUnroutable    State = "unroutable"
	StateConnectFailed State = "connect_failed"
	StateCallFailed    State = "call_failed"
	StateCompleted     State = "completed"
)

// ErrNoToolSelected は Unroutable の場合のエラーメッセージ
const ErrNoToolSelected = "No appropriate tool selected"

// Outcome は1回のリクエスト処理の結果
type Outcome struct {
	Success    bool           `json:"success"`
	Backend    string         `json:"server,omitempty"`
	Operation  string         `json:"operation,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Result     any            `json:"result,omitempty"`
	Decision   *Decision      `json:"routing_decision,omitempty"`
	Error      string         `json:"error,omitempty"`
	State      State          `json:"state"`
}

// Completed は成功結果を作成
func Completed(d Decision, result any) Outcome {
	return Outcome{
		Success:    true,
		Backend:    d.Backend,
		Operation:  d.Operation,
		Parameters: d.Parameters,
		Result:     result,
		Decision:   &d,
		State:      StateCompleted,
	}
}

// Failed は失敗結果を作成
// OracleFailed の場合は Decision を持たない
func Failed(state State, d *Decision, errMsg string) Outcome {
	o := Outcome{
		Success:  false,
		Decision: d,
		Error:    errMsg,
		State:    state,
	}
	if d != nil {
		o.Backend = d.Backend
		o.Operation = d.Operation
		o.Parameters = d.Parameters
	}
	return o
}

// Reasoning はDecisionの理由を返す（Decisionがない場合は空文字）
func (o Outcome) Reasoning() string {
	if o.Decision == nil {
		return ""
	}
	return o.Decision.Reasoning
}

// PublicError は利用者に返してよい失敗の要約を返す
// 生のエラー文（URL、ステータス、応答本文）は含めない。成功時は空文字
func (o Outcome) PublicError() string {
	if o.Success {
		return ""
	}
	switch o.State {
	case StateOracleFailed:
		return "The assistant is temporarily unavailable"
	case StateUnroutable:
		return ErrNoToolSelected
	case StateConnectFailed:
		return fmt.Sprintf("Could not reach the %s service", o.ServiceName())
	case StateCallFailed:
		return fmt.Sprintf("The %s service could not complete the request", o.ServiceName())
	default:
		return "Request failed"
	}
}

// ServiceName は表示用のバックエンド名を返す
func (o Outcome) ServiceName() string {
	if o.Backend == "" {
		return "store"
	}
	return o.Backend
}
