package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "nil config falls back to defaults", config: nil},
		{name: "explicit debug config", config: &Config{Level: LevelDebug, Output: &bytes.Buffer{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Fatal("NewLogger() returned nil")
			}
		})
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("suppressed")
	logger.Info("also suppressed")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below configured level, got: %s", buf.String())
	}

	logger.Warn("connection retry", "conn_id", 7)
	out := buf.String()
	if !strings.Contains(out, "connection retry") || !strings.Contains(out, "conn_id=7") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestLoggerPrintfStyle(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Debugf("context %d entered %s", 3, "WaitingForResponse")
	out := buf.String()
	if !strings.Contains(out, "context 3 entered WaitingForResponse") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))
	defer SetDefault(NewLogger(nil))

	Debug("debug message", "key", "value")
	if out := buf.String(); !strings.Contains(out, "debug message") || !strings.Contains(out, "key=value") {
		t.Errorf("unexpected output: %s", out)
	}

	buf.Reset()
	Info("info message")
	if out := buf.String(); !strings.Contains(out, "info message") {
		t.Errorf("unexpected output: %s", out)
	}

	buf.Reset()
	Warn("warning message")
	if out := buf.String(); !strings.Contains(out, "warning message") {
		t.Errorf("unexpected output: %s", out)
	}

	buf.Reset()
	Error("error message")
	if out := buf.String(); !strings.Contains(out, "error message") {
		t.Errorf("unexpected output: %s", out)
	}
}
