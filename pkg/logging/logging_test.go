package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(999), "UNKNOWN"},
	}

	for _, test := range tests {
		result := test.level.String()
		if result != test.expected {
			t.Errorf("LogLevel(%d).String() = %s, expected %s", test.level, result, test.expected)
		}
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{LogLevel(999), slog.LevelInfo}, // Default for unknown
	}

	for _, test := range tests {
		result := test.level.SlogLevel()
		if result != test.expected {
			t.Errorf("LogLevel(%d).SlogLevel() = %v, expected %v", test.level, result, test.expected)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{" error ", LevelError, false},
		{"loud", LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitForCLI(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelInfo, &buf)
	defer Reset()

	Info("test-subsystem", "test message")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Error("Expected log message to appear in CLI output")
	}

	if !strings.Contains(output, "test-subsystem") {
		t.Error("Expected subsystem to appear in CLI output")
	}
}

func TestCLILevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelInfo, &buf)
	defer Reset()

	Debug("test", "debug message")
	Info("test", "info message")

	output := buf.String()
	if strings.Contains(output, "debug message") {
		t.Error("Debug message should be filtered out at INFO level")
	}

	if !strings.Contains(output, "info message") {
		t.Error("Info message should appear at INFO level")
	}
}

func TestErrorAttribute(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelDebug, &buf)
	defer Reset()

	Error("test", errors.New("boom"), "operation %s failed", "sync")

	output := buf.String()
	if !strings.Contains(output, "operation sync failed") {
		t.Errorf("Expected formatted message, got %q", output)
	}
	if !strings.Contains(output, "error=boom") {
		t.Errorf("Expected error attribute, got %q", output)
	}
}

func TestUninitializedLoggerIsSilent(t *testing.T) {
	Reset()

	if Enabled(LevelError) {
		t.Error("Expected no level to be enabled without a logger")
	}

	// Must not panic.
	Warn("test", "dropped")
}

type recordingTB struct {
	lines    []string
	cleanups []func()
}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Logf(format string, args ...any) {
	r.lines = append(r.lines, format)
	if len(args) > 0 {
		r.lines[len(r.lines)-1] = args[0].(string)
	}
}

func (r *recordingTB) Cleanup(fn func()) { r.cleanups = append(r.cleanups, fn) }

func TestInitForTest(t *testing.T) {
	tb := &recordingTB{}
	InitForTest(tb, LevelDebug)

	Debug("Scenario", "executing step %s", "GET /users")

	if len(tb.lines) != 1 || !strings.Contains(tb.lines[0], "executing step GET /users") {
		t.Fatalf("Expected one routed line, got %v", tb.lines)
	}

	for _, fn := range tb.cleanups {
		fn()
	}
	if Enabled(LevelError) {
		t.Error("Expected cleanup to reset the logger")
	}
}
