package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gopkg.in/natefinch/lumberjack.v2"
)

// setupTestDir creates a temporary directory for test logs and resets global state
func setupTestDir(t *testing.T) (cleanup func()) {
	t.Helper()

	tempDir := t.TempDir()

	// Save original state
	origLogDir := logDir
	origInitErr := initErr
	origSessionID := sessionID

	// Reset global state
	logDir = tempDir
	initErr = nil
	initOnce = sync.Once{}
	sessionID = ""
	sessionIDOnce = sync.Once{}
	rotator = nil
	rotatorOnce = sync.Once{}

	return func() {
		if rotator != nil {
			_ = rotator.Close()
		}
		logDir = origLogDir
		initErr = origInitErr
		initOnce = sync.Once{}
		sessionID = origSessionID
		sessionIDOnce = sync.Once{}
		rotator = nil
		rotatorOnce = sync.Once{}
	}
}

func readLog(t *testing.T, l *Logger) string {
	t.Helper()
	_ = l.sugar.Sync()
	content, err := os.ReadFile(l.LogPath())
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	return string(content)
}

func TestNewLogger(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	logger, err := NewLogger("test-component")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	if logger.Component() != "test-component" {
		t.Errorf("Expected component 'test-component', got %q", logger.Component())
	}

	if logger.SessionID() == "" {
		t.Error("Expected non-empty session ID")
	}

	if logger.LogPath() == "" {
		t.Error("Expected non-empty log path")
	}

	if _, ok := logger.Writer().(*lumberjack.Logger); !ok {
		t.Errorf("Expected file writer, got %T", logger.Writer())
	}
}

func TestLoggerFormatting(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	logger, err := NewLogger("test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	logger.Printf("Test message %d", 123)
	logger.Debugf("Debug message")
	logger.Infof("Info message")
	logger.Warnf("Warning message")
	logger.Errorf("Error message")

	logContent := readLog(t, logger)

	expectedPatterns := []string{
		"INFO\ttest\tTest message 123",
		"DEBUG\ttest\tDebug message",
		"INFO\ttest\tInfo message",
		"WARN\ttest\tWarning message",
		"ERROR\ttest\tError message",
	}

	for _, pattern := range expectedPatterns {
		if !strings.Contains(logContent, pattern) {
			t.Errorf("Log content missing expected pattern: %q\nContent:\n%s", pattern, logContent)
		}
	}
}

func TestMultipleComponents(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	logger1, err := NewLogger("component1")
	if err != nil {
		t.Fatalf("Failed to create logger1: %v", err)
	}
	defer logger1.Close()

	logger2, err := NewLogger("component2")
	if err != nil {
		t.Fatalf("Failed to create logger2: %v", err)
	}
	defer logger2.Close()

	// They should share the same session ID and log file
	if logger1.SessionID() != logger2.SessionID() {
		t.Errorf("Expected same session ID, got %q and %q", logger1.SessionID(), logger2.SessionID())
	}

	if logger1.LogPath() != logger2.LogPath() {
		t.Errorf("Expected same log path, got %q and %q", logger1.LogPath(), logger2.LogPath())
	}

	logger1.Printf("Message from component1")
	logger2.Printf("Message from component2")

	logContent := readLog(t, logger1)

	if !strings.Contains(logContent, "\tcomponent1\t") {
		t.Error("Log missing component1 entries")
	}
	if !strings.Contains(logContent, "\tcomponent2\t") {
		t.Error("Log missing component2 entries")
	}
}

func TestGetSessionID(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	id1 := GetSessionID()
	id2 := GetSessionID()

	if id1 != id2 {
		t.Errorf("Expected consistent session ID, got %q and %q", id1, id2)
	}

	if id1 == "" {
		t.Error("Expected non-empty session ID")
	}
}

func TestGetLogDirectory(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	dir, err := GetLogDirectory()
	if err != nil {
		t.Fatalf("Failed to get log directory: %v", err)
	}

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("Log directory does not exist or is not a directory: %s", dir)
	}
}

func TestLoggerClose(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	logger, err := NewLogger("test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	if err := logger.Close(); err != nil {
		t.Errorf("First close failed: %v", err)
	}

	// Close again should be safe
	if err := logger.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

func TestLogPathFormat(t *testing.T) {
	cleanup := setupTestDir(t)
	defer cleanup()

	logger, err := NewLogger("test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	// Verify log file name format: <session-id>-driverpool.log
	fileName := filepath.Base(logger.LogPath())
	if !strings.HasSuffix(fileName, "-driverpool.log") {
		t.Errorf("Expected log file to end with '-driverpool.log', got %q", fileName)
	}

	sessionPart := strings.TrimSuffix(fileName, "-driverpool.log")
	if !strings.Contains(sessionPart, "-") {
		t.Errorf("Expected session ID part to contain dashes (UUID format), got %q", sessionPart)
	}
}

func TestNewWithObserverCore(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := New("registry", core).With("worker", "w-1")

	logger.Infof("Create driver %s", "h1")
	logger.Debugf("probe")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "Create driver h1" {
		t.Errorf("Unexpected message %q", entries[0].Message)
	}
	if entries[0].LoggerName != "registry" {
		t.Errorf("Unexpected logger name %q", entries[0].LoggerName)
	}
	if entries[0].ContextMap()["worker"] != "w-1" {
		t.Errorf("Expected worker field, got %v", entries[0].ContextMap())
	}
}

func TestNopLogger(t *testing.T) {
	logger := NewNop()
	logger.Errorf("dropped %d", 1)
	if err := logger.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
