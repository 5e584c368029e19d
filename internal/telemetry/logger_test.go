package telemetry

import (
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.name); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNewLoggerAt(t *testing.T) {
	l := NewLoggerAt("warn")
	if l.level != slog.LevelWarn {
		t.Errorf("expected warn level, got %v", l.level)
	}
	if NewLogger(true).level != slog.LevelDebug {
		t.Error("expected verbose logger at debug level")
	}
}
