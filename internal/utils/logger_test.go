package utils

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   Debug,
		"DEBUG":   Debug,
		"info":    Info,
		"warn":    Warning,
		"warning": Warning,
		"error":   Error,
		"":        Info,
		"bogus":   Info,
	}
	for in, want := range tests {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetDefaultOutput(&buf)
	defer SetDefaultOutput(os.Stderr)

	logger := NewLogger("test", Warning)
	logger.Info("hidden message")
	logger.Warn("visible message", "key", "abc")

	out := buf.String()
	if strings.Contains(out, "hidden message") {
		t.Errorf("info message should be filtered at warning level: %q", out)
	}
	if !strings.Contains(out, "visible message") || !strings.Contains(out, "key=abc") {
		t.Errorf("warning message missing or without keyvals: %q", out)
	}
}
