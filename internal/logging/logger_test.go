package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/kuhlman-labs/doc-analyzer/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		expected slog.Level
	}{
		{"debug level", "debug", slog.LevelDebug},
		{"info level", "info", slog.LevelInfo},
		{"warn level", "warn", slog.LevelWarn},
		{"error level", "error", slog.LevelError},
		{"default level", "invalid", slog.LevelInfo},
		{"empty level", "", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseLevel(tt.level)
			if got != tt.expected {
				t.Errorf("parseLevel(%s) = %v, want %v", tt.level, got, tt.expected)
			}
		})
	}
}

func TestNewLogger_JSONFormat(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := config.LoggingConfig{
		Level:      "info",
		Format:     "json",
		OutputFile: filepath.Join(tmpDir, "test.log"),
		MaxSize:    10,
		MaxBackups: 2,
		MaxAge:     7,
	}

	logger := NewLogger(cfg)
	if logger == nil {
		t.Fatal("NewLogger() returned nil")
	}

	logger.Info("test message", "key", "value")

	if _, err := os.Stat(cfg.OutputFile); os.IsNotExist(err) {
		t.Error("NewLogger() did not create the log file")
	}
}

func TestLevelManager_SetLevel(t *testing.T) {
	levelVar := new(slog.LevelVar)
	levelVar.Set(slog.LevelInfo)
	m := &LevelManager{levelVar: levelVar, defaultLevel: slog.LevelInfo}

	m.SetLevel("debug")
	if got := m.GetLevel(); got != "debug" {
		t.Errorf("GetLevel() = %q, want %q", got, "debug")
	}

	m.ResetToDefault()
	if got := m.GetLevel(); got != "info" {
		t.Errorf("GetLevel() after reset = %q, want %q", got, "info")
	}
}

func TestLevelManager_NilSafe(t *testing.T) {
	var m *LevelManager
	if got := m.GetLevel(); got != "info" {
		t.Errorf("nil manager GetLevel() = %q, want %q", got, "info")
	}
	m.SetLevel("debug") // must not panic
	m.ResetToDefault()
}

func TestMultiHandler(t *testing.T) {
	var bufA, bufB bytes.Buffer
	handlerA := slog.NewTextHandler(&bufA, &slog.HandlerOptions{Level: slog.LevelInfo})
	handlerB := slog.NewTextHandler(&bufB, &slog.HandlerOptions{Level: slog.LevelInfo})

	multi := NewMultiHandler(handlerA, handlerB)
	logger := slog.New(multi)

	logger.Info("fan out", "k", "v")

	if bufA.Len() == 0 || bufB.Len() == 0 {
		t.Error("MultiHandler did not write to all handlers")
	}

	if !multi.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Enabled() = false, want true")
	}
	if multi.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Enabled() for debug = true, want false")
	}
}
