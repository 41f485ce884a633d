package task

import (
	"strings"
	"testing"
	"time"
)

func TestNewRequestID(t *testing.T) {
	id1 := NewRequestID()
	id2 := NewRequestID()

	// RequestIDは一意である
	if id1.String() == id2.String() {
		t.Errorf("RequestID should be unique, got same ID: %s", id1.String())
	}

	// フォーマットチェック: YYYYMMDD-HHMMSS-{UUID}
	parts := strings.Split(id1.String(), "-")
	if len(parts) != 3 {
		t.Fatalf("RequestID format should be YYYYMMDD-HHMMSS-UUID, got: %s", id1.String())
	}
	if len(parts[0]) != 8 {
		t.Errorf("Date part should be 8 chars, got: %s", parts[0])
	}
	if len(parts[1]) != 6 {
		t.Errorf("Time part should be 6 chars, got: %s", parts[1])
	}
	if len(parts[2]) != 8 {
		t.Errorf("UUID part should be 8 chars, got: %s", parts[2])
	}
}

func TestRequestIDAt(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id := newRequestIDAt(at)

	if !strings.HasPrefix(id.String(), "20260301-120000-") {
		t.Errorf("Expected prefix 20260301-120000-, got %s", id.String())
	}
}

func TestRequestIDEquals(t *testing.T) {
	a := RequestIDFromString("20260301-120000-abcd1234")
	b := RequestIDFromString("20260301-120000-abcd1234")
	c := RequestIDFromString("20260301-120001-efgh5678")

	if !a.Equals(b) {
		t.Error("Same RequestIDs should be equal")
	}
	if a.Equals(c) {
		t.Error("Different RequestIDs should not be equal")
	}
	if a.IsZero() {
		t.Error("Non-empty RequestID should not be zero")
	}
	if !(RequestID{}).IsZero() {
		t.Error("Empty RequestID should be zero")
	}
}

func TestNewRequest(t *testing.T) {
	req := NewRequest("Show me all categories", ChannelHTTP)

	if req.ID().IsZero() {
		t.Error("Request should have an ID")
	}
	if req.Utterance() != "Show me all categories" {
		t.Errorf("Expected utterance preserved, got '%s'", req.Utterance())
	}
	if req.Channel() != ChannelHTTP {
		t.Errorf("Expected channel http, got '%s'", req.Channel())
	}
	if req.SessionID() != "" {
		t.Errorf("Expected empty session, got '%s'", req.SessionID())
	}

	withSession := req.WithSessionID("sess-1")
	if withSession.SessionID() != "sess-1" {
		t.Errorf("Expected session sess-1, got '%s'", withSession.SessionID())
	}
	// 元のRequestは変更されない
	if req.SessionID() != "" {
		t.Error("WithSessionID should not mutate the original request")
	}
}

func TestRequestIsBlank(t *testing.T) {
	tests := []struct {
		utterance string
		want      bool
	}{
		{"", true},
		{"   \t\n", true},
		{"hello", false},
	}

	for _, tt := range tests {
		if got := NewRequest(tt.utterance, ChannelCLI).IsBlank(); got != tt.want {
			t.Errorf("IsBlank(%q) = %v, want %v", tt.utterance, got, tt.want)
		}
	}
}
