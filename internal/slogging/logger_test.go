package slogging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"debug", LogLevelDebug},
		{"DEBUG", LogLevelDebug},
		{"info", LogLevelInfo},
		{"warn", LogLevelWarn},
		{"warning", LogLevelWarn},
		{"error", LogLevelError},
		{"", LogLevelInfo},
		{"nonsense", LogLevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLogLevel(tt.input), "input %q", tt.input)
	}
}

func TestSanitizeLogMessage(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "hello world", "hello world"},
		{"newline injection", "user\nFAKE LOG LINE", "user FAKE LOG LINE"},
		{"carriage return", "a\r\nb", "a b"},
		{"tabs and runs of spaces", "a\t b   c", "a b c"},
		{"leading and trailing", "  padded  ", "padded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeLogMessage(tt.input))
		})
	}
}

func TestLoggerWritesToFile(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(Config{
		Level:  LogLevelDebug,
		IsDev:  true,
		LogDir: dir,
	})
	require.NoError(t, err)

	logger.Info("hello %s", "file")
	require.NoError(t, logger.Close())

	assert.FileExists(t, dir+"/chatd.log")
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(Config{
		Level:  LogLevelError,
		IsDev:  true,
		LogDir: dir,
	})
	require.NoError(t, err)
	defer func() { _ = logger.Close() }()

	// filtered call must not panic or write
	logger.Debug("ignored %d", 1)
	logger.Error("kept %d", 2)
}
