package logging

import (
	"log/slog"
	"testing"

	"github.com/duwi2024/duwi-bridge/internal/infrastructure/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewDoesNotPanic(t *testing.T) {
	for _, format := range []string{"json", "text", ""} {
		log := New(config.LoggingConfig{Level: "debug", Format: format, Output: "stderr"}, "test")
		if log == nil {
			t.Fatalf("New() returned nil for format %q", format)
		}
		log.Debug("probe", "format", format)
	}
}

func TestWithReturnsNewLogger(t *testing.T) {
	base := Default()
	derived := base.With("component", "test")
	if derived == base {
		t.Error("With() should return a new logger")
	}
	if derived.Logger == nil {
		t.Error("With() returned logger with nil slog.Logger")
	}
}
