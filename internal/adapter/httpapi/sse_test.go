package httpapi

import (
	"bytes"
	"testing"
)

func TestSSEEventWrite(t *testing.T) {
	var buf bytes.Buffer
	e := sseEvent{Event: "response", Data: map[string]any{"success": true}, ID: "abc"}

	if err := e.write(&buf); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	want := "event: response\ndata: {\"success\":true}\nid: abc\n\n"
	if buf.String() != want {
		t.Errorf("Expected %q, got %q", want, buf.String())
	}
}

func TestSSEHub_OpenReplacesExisting(t *testing.T) {
	hub := newSSEHub()

	first := hub.open("s1")
	second := hub.open("s1")

	select {
	case <-first.done:
	default:
		t.Error("Replaced stream should be closed")
	}

	if hub.count() != 1 {
		t.Errorf("Expected 1 stream, got %d", hub.count())
	}

	// 古い接続の release は新しい接続を外さない
	hub.release("s1", first)
	if !hub.has("s1") {
		t.Error("Releasing a replaced stream should keep the current one")
	}

	hub.release("s1", second)
	if hub.has("s1") {
		t.Error("Stream should be removed after release")
	}
}

func TestSSEHub_PublishAndClose(t *testing.T) {
	hub := newSSEHub()

	if hub.publish("missing", newEvent("response", nil)) {
		t.Error("publish to missing stream should fail")
	}

	s := hub.open("s1")
	if !hub.publish("s1", newEvent("processing", nil)) {
		t.Fatal("publish should succeed")
	}

	if !hub.closeStream("s1", newEvent("closed", nil)) {
		t.Fatal("closeStream should succeed")
	}
	if hub.closeStream("s1", newEvent("closed", nil)) {
		t.Error("second closeStream should report missing")
	}

	if got := (<-s.events).Event; got != "processing" {
		t.Errorf("Expected processing first, got %s", got)
	}
	if got := (<-s.events).Event; got != "closed" {
		t.Errorf("Expected closed second, got %s", got)
	}
	if hub.publish("s1", newEvent("late", nil)) {
		t.Error("publish after close should fail")
	}
}
