package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultLoggerInitialized(t *testing.T) {
	require.NotNil(t, GetLogger(), "Logger should be initialized")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		expected slog.Level
	}{
		{"debug level", "debug", slog.LevelDebug},
		{"info level", "info", slog.LevelInfo},
		{"warn level", "warn", slog.LevelWarn},
		{"warning level", "warning", slog.LevelWarn},
		{"error level", "error", slog.LevelError},
		{"default for unknown", "invalid", slog.LevelInfo},
		{"uppercase", "DEBUG", slog.LevelDebug},
		{"padded", "  error ", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, ParseLevel(tt.level))
		})
	}
}

func TestJSONFormatWritesStructuredRecords(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "debug", "json")
	l.Debug("otp issued", "email", "owner@example.com")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	require.Equal(t, "otp issued", record["msg"])
	require.Equal(t, "owner@example.com", record["email"])
	require.Equal(t, "pj-ecs", record["service"])
}

func TestLevelFiltersRecords(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "warn", "text")
	l.Info("dropped")
	require.Empty(t, buf.String())
	l.Warn("kept")
	require.Contains(t, buf.String(), "kept")
}

func TestGetLogger(t *testing.T) {
	InitLogger("info", "text")
	logger1 := GetLogger()
	logger2 := GetLogger()
	require.Equal(t, logger1, logger2, "GetLogger should return the same instance")
}
