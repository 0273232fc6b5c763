package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"klinecollector/config"

	"go.uber.org/zap/zapcore"
)

// go test -v --run TestNewWritesJSONFile
func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "collector.log")

	l, err := New(config.LogConfig{Level: "debug", Format: "json", OutputFile: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Info("kline appended")
	_ = l.Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := strings.TrimSpace(string(raw))

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not json: %v\n%s", err, line)
	}
	if entry["msg"] != "kline appended" {
		t.Fatalf("msg = %v", entry["msg"])
	}
	if entry["level"] != "info" {
		t.Fatalf("level = %v", entry["level"])
	}
}

// go test -v --run TestNewInvalidLevel
func TestNewInvalidLevel(t *testing.T) {
	if _, err := New(config.LogConfig{Level: "loud"}); err == nil {
		t.Fatal("expected an error for an unknown level")
	}
}

// go test -v --run TestNewDefaultsLevel
func TestNewDefaultsLevel(t *testing.T) {
	l, err := New(config.LogConfig{Environment: "dev"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !l.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("info should be enabled by default")
	}
	if l.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("debug should be disabled by default")
	}
}

// go test -v --run TestMustNew
func TestMustNew(t *testing.T) {
	if l := MustNew(config.LogConfig{Environment: "dev"}); l == nil {
		t.Fatal("MustNew returned nil")
	}
}
