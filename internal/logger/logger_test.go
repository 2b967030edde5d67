package logger

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestInitWithFile(t *testing.T) {
	// Reset the logger for this test
	defaultLogger = nil
	once = *new(sync.Once)

	// Create temp directory
	tempDir := t.TempDir()

	// Initialize logger with file
	err := InitWithFile("debug", tempDir)
	if err != nil {
		t.Fatalf("InitWithFile failed: %v", err)
	}
	defer Close()

	// Check log file was created
	logPath := GetLogFilePath()
	if logPath == "" {
		t.Fatal("Expected log file path, got empty string")
	}

	// Log some messages
	Debug("test debug message")
	Info("test info message")
	Warn("test warn message")
	Error("test error message")

	// Close to flush
	Close()

	// Read log file and verify no ANSI color codes
	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	logContent := string(content)

	// Check messages are present
	if !strings.Contains(logContent, "test debug message") {
		t.Error("Debug message not found in log file")
	}
	if !strings.Contains(logContent, "test info message") {
		t.Error("Info message not found in log file")
	}

	// Check no ANSI color codes
	if strings.Contains(logContent, "\033[") {
		t.Error("Log file contains ANSI color codes")
	}

	// Check log file is in expected directory
	if filepath.Dir(logPath) != tempDir {
		t.Errorf("Log file not in expected directory: %s", logPath)
	}
}

func TestLogFilenameFormat(t *testing.T) {
	// Reset the logger for this test
	defaultLogger = nil
	once = *new(sync.Once)

	tempDir := t.TempDir()

	err := InitWithFile("info", tempDir)
	if err != nil {
		t.Fatalf("InitWithFile failed: %v", err)
	}
	defer Close()

	logPath := GetLogFilePath()
	filename := filepath.Base(logPath)

	// Check filename format: YYYY-MM-DD_HH-MM-SS_TZ.log
	if !strings.HasSuffix(filename, ".log") {
		t.Errorf("Log filename should end with .log: %s", filename)
	}

	// Should contain underscore separators
	parts := strings.Split(strings.TrimSuffix(filename, ".log"), "_")
	if len(parts) < 3 {
		t.Errorf("Log filename format incorrect: %s", filename)
	}
}

func TestLevelFiltering(t *testing.T) {
	defaultLogger = nil
	once = *new(sync.Once)

	var buf strings.Builder
	Init("warn")
	SetOutput(&buf)
	SetColorEnable(false)

	Debug("hidden debug")
	Info("hidden info")
	Warn("visible %s", "warn")
	Error("visible error")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("messages below level leaked: %q", out)
	}
	if !strings.Contains(out, "[WARN] visible warn") {
		t.Errorf("warn message missing: %q", out)
	}
	if !strings.Contains(out, "[ERROR] visible error") {
		t.Errorf("error message missing: %q", out)
	}

	SetLevel("debug")
	Debug("now shown")
	if !strings.Contains(buf.String(), "[DEBUG] now shown") {
		t.Errorf("debug message missing after SetLevel: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   DEBUG,
		"INFO":    INFO,
		"warning": WARN,
		"Error":   ERROR,
		"fatal":   FATAL,
		"bogus":   INFO,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInitWithFileClosesPreviousFile(t *testing.T) {
	defaultLogger = nil
	once = *new(sync.Once)

	if err := InitWithFile("info", t.TempDir()); err != nil {
		t.Fatalf("InitWithFile failed: %v", err)
	}
	first := defaultLogger.file

	secondDir := t.TempDir()
	if err := InitWithFile("error", secondDir); err != nil {
		t.Fatalf("second InitWithFile failed: %v", err)
	}
	defer Close()

	if _, err := first.Write([]byte("x")); err == nil {
		t.Error("first log file is still open")
	}
	if filepath.Dir(GetLogFilePath()) != secondDir {
		t.Errorf("log file not switched to %s: %s", secondDir, GetLogFilePath())
	}
	if defaultLogger.level != ERROR {
		t.Errorf("level = %v, want ERROR", defaultLogger.level)
	}
}

func TestInitAppliesLevelAgain(t *testing.T) {
	defaultLogger = nil
	once = *new(sync.Once)

	Init("info")
	Init("debug")
	if defaultLogger.level != DEBUG {
		t.Errorf("level = %v, want DEBUG", defaultLogger.level)
	}
}
