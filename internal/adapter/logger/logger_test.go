package logger

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Nyukimin/storefront_agent/internal/adapter/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}

	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_FileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")

	logger, closer, err := New(config.LogConfig{Level: "debug", Format: "json", Output: "file", File: path})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Debug("connected to backend", "backend", "storefront")
	if err := closer(); err != nil {
		t.Fatalf("closer failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry); err != nil {
		t.Fatalf("Expected JSON log line, got %q: %v", data, err)
	}
	if entry["backend"] != "storefront" {
		t.Errorf("Expected backend 'storefront', got %v", entry["backend"])
	}
	if entry["service"] != "storefront-agent" {
		t.Errorf("Expected service attribute, got %v", entry["service"])
	}
}

func TestNew_FileWithoutPath(t *testing.T) {
	if _, _, err := New(config.LogConfig{Output: "file"}); err == nil {
		t.Error("Expected error when file path is missing")
	}
}

func TestNew_UnsupportedOutput(t *testing.T) {
	if _, _, err := New(config.LogConfig{Output: "syslog"}); err == nil {
		t.Error("Expected error for unsupported output")
	}
}

func TestNew_Stdout(t *testing.T) {
	logger, closer, err := New(config.LogConfig{Format: "text"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if logger == nil {
		t.Fatal("logger should not be nil")
	}
	if err := closer(); err != nil {
		t.Errorf("stdout closer should be a no-op, got %v", err)
	}
}
