package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RequestID はユーザー発話1件ごとの一意識別子を表す値オブジェクト
type RequestID struct {
	value string
}

// NewRequestID は新しいRequestIDを生成
func NewRequestID() RequestID {
	return newRequestIDAt(time.Now())
}

func newRequestIDAt(now time.Time) RequestID {
	// フォーマット: YYYYMMDD-HHMMSS-{UUID先頭8文字}
	return RequestID{
		value: fmt.Sprintf("%s-%s", now.Format("20060102-150405"), uuid.NewString()[:8]),
	}
}

// RequestIDFromString は文字列からRequestIDを復元
func RequestIDFromString(s string) RequestID {
	return RequestID{value: s}
}

// String はRequestIDの文字列表現を返す
func (r RequestID) String() string {
	return r.value
}

// Equals は2つのRequestIDが等しいかを判定
func (r RequestID) Equals(other RequestID) bool {
	return r.value == other.value
}

// IsZero はRequestIDがゼロ値かを判定
func (r RequestID) IsZero() bool {
	return r.value == ""
}
