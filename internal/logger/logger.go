// Package logger is a small leveled logger shared by the whole tool.
// Console output is coloured; the optional log file never is.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents the logging level.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

var levelColors = map[Level]string{
	DEBUG: "\033[36m", // Cyan
	INFO:  "\033[32m", // Green
	WARN:  "\033[33m", // Yellow
	ERROR: "\033[31m", // Red
	FATAL: "\033[35m", // Magenta
}

const colorReset = "\033[0m"

// logFileLayout names log files by start time, e.g. 2026-10-18_14-03-22_UTC.log.
const logFileLayout = "2006-01-02_15-04-05_MST"

// Logger is the main logger instance.
type Logger struct {
	mu          sync.Mutex
	level       Level
	output      io.Writer
	colorEnable bool

	file     *os.File
	filePath string
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init initializes the default logger with the specified level. Later
// calls keep the existing sinks and only change the level.
func Init(levelStr string) {
	once.Do(func() {
		defaultLogger = &Logger{
			output:      os.Stdout,
			colorEnable: true,
		}
	})
	SetLevel(levelStr)
}

// InitWithFile initializes the default logger and additionally writes
// every message, uncoloured, to a timestamped file under dir. A file
// opened by an earlier call is closed.
func InitWithFile(levelStr, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, time.Now().Format(logFileLayout)+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	Init(levelStr)

	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	if defaultLogger.file != nil {
		defaultLogger.file.Close()
	}
	defaultLogger.file = f
	defaultLogger.filePath = path
	return nil
}

// GetLogFilePath returns the active log file, or "" when logging to console only.
func GetLogFilePath() string {
	if defaultLogger == nil {
		return ""
	}
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	return defaultLogger.filePath
}

// Close flushes and closes the log file, if any.
func Close() {
	if defaultLogger == nil {
		return
	}
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	if defaultLogger.file != nil {
		defaultLogger.file.Close()
		defaultLogger.file = nil
	}
}

// SetLevel sets the logging level for the default logger.
func SetLevel(levelStr string) {
	if defaultLogger == nil {
		Init(levelStr)
		return
	}
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.level = parseLevel(levelStr)
}

// SetOutput sets the console destination for the default logger.
func SetOutput(w io.Writer) {
	if defaultLogger == nil {
		Init("info")
	}
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.output = w
}

// SetColorEnable enables or disables color output.
func SetColorEnable(enable bool) {
	if defaultLogger == nil {
		Init("info")
	}
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.colorEnable = enable
}

// parseLevel converts a string to a Level.
func parseLevel(levelStr string) Level {
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	message := fmt.Sprintf(format, args...)
	plain := fmt.Sprintf("[%s] %s", levelNames[level], message)

	console := plain
	if l.colorEnable {
		console = fmt.Sprintf("%s[%s]%s %s", levelColors[level], levelNames[level], colorReset, message)
	}
	log.New(l.output, "", log.LstdFlags).Println(console)
	if l.file != nil {
		log.New(l.file, "", log.LstdFlags).Println(plain)
	}

	if level == FATAL {
		if l.file != nil {
			l.file.Close()
		}
		os.Exit(1)
	}
}

func std() *Logger {
	if defaultLogger == nil {
		Init("info")
	}
	return defaultLogger
}

// Debug logs a debug message.
func Debug(format string, args ...interface{}) { std().log(DEBUG, format, args...) }

// Info logs an info message.
func Info(format string, args ...interface{}) { std().log(INFO, format, args...) }

// Warn logs a warning message.
func Warn(format string, args ...interface{}) { std().log(WARN, format, args...) }

// Error logs an error message.
func Error(format string, args ...interface{}) { std().log(ERROR, format, args...) }

// Fatal logs a fatal message and exits the program.
func Fatal(format string, args ...interface{}) { std().log(FATAL, format, args...) }
