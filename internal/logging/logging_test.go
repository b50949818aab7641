package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_ConsoleAndFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "barrage.log")
	var console bytes.Buffer

	logger, closeLog := New(Options{
		Level:     "warn",
		File:      logFile,
		FileLevel: "debug",
		NoColor:   true,
		Writer:    &console,
	})

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")

	if err := closeLog(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if strings.Contains(console.String(), "info message") {
		t.Error("console should not contain info message at warn level")
	}
	if !strings.Contains(console.String(), "warn message") {
		t.Error("console should contain warn message")
	}

	content, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	for _, msg := range []string{"debug message", "info message", "warn message"} {
		if !strings.Contains(string(content), msg) {
			t.Errorf("file should contain %q", msg)
		}
	}
}

func TestNew_NoFile(t *testing.T) {
	var console bytes.Buffer
	logger, closeLog := New(Options{Writer: &console, NoColor: true})
	logger.Info("hello", "attempt", 2)

	if err := closeLog(); err != nil {
		t.Errorf("close without file: %v", err)
	}
	if !strings.Contains(console.String(), "hello") || !strings.Contains(console.String(), "attempt=2") {
		t.Errorf("console = %q", console.String())
	}
}

func TestRedactingHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewRedactingHandler(slog.NewJSONHandler(&buf, nil), SensitiveKeys))

	logger.With("password", "hunter2").Info("login",
		"Authorization", "Basic abc",
		"header", "Bearer eyJhbGciOi",
		"url", "https://api.example.com",
		slog.Group("auth", "client_secret", "s3cret", "client_id", "perf"),
	)

	var rec map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}

	tests := []struct {
		key  string
		want interface{}
	}{
		{"password", Redacted},
		{"Authorization", Redacted},
		{"header", Redacted},
		{"url", "https://api.example.com"},
	}
	for _, tt := range tests {
		if rec[tt.key] != tt.want {
			t.Errorf("%s = %v, want %v", tt.key, rec[tt.key], tt.want)
		}
	}

	group, _ := rec["auth"].(map[string]interface{})
	if group["client_secret"] != Redacted || group["client_id"] != "perf" {
		t.Errorf("auth group = %v", group)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelWarn},
		{"loud", slog.LevelWarn},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in, slog.LevelWarn); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
