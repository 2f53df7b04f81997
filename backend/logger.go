/*
 * backend/logger.go
 *
 * Leveled console logger with a bounded in-memory tail for diagnostics.
 * Every subsystem takes this through its package-local Logger interface.
 */

package backend

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log line.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// String returns the string representation of LogLevel.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel maps a flag value to a level, defaulting to info.
func ParseLogLevel(v string) LogLevel {
	switch v {
	case "debug":
		return LogLevelDebug
	case "warn":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// LogLine is one retained log line.
type LogLine struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Source    string    `json:"source,omitempty"`
}

// Logger writes formatted lines to out and keeps the most recent maxSize
// lines in memory.
type Logger struct {
	mu       sync.RWMutex
	out      io.Writer
	minLevel LogLevel
	entries  []LogLine
	maxSize  int
}

// NewLogger creates a logger writing to out at the given threshold.
func NewLogger(out io.Writer, minLevel LogLevel, maxSize int) *Logger {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Logger{
		out:      out,
		minLevel: minLevel,
		entries:  make([]LogLine, 0, maxSize),
		maxSize:  maxSize,
	}
}

// Log records a line at the given level with an optional source tag.
func (l *Logger) Log(level LogLevel, message string, source ...string) {
	if l == nil || level < l.minLevel {
		return
	}

	line := LogLine{
		Timestamp: time.Now(),
		Level:     level.String(),
		Message:   message,
	}
	if len(source) > 0 {
		line.Source = source[0]
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, line)
	if len(l.entries) > l.maxSize {
		start := len(l.entries) - l.maxSize
		// Re-slice into a fresh buffer so capacity can't grow unbounded.
		newEntries := make([]LogLine, l.maxSize)
		copy(newEntries, l.entries[start:])
		l.entries = newEntries
	}

	if l.out != nil {
		tag := ""
		if line.Source != "" {
			tag = " [" + line.Source + "]"
		}
		fmt.Fprintf(l.out, "%s %-5s%s %s\n",
			line.Timestamp.Format("2006-01-02 15:04:05.000"), line.Level, tag, message)
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, source ...string) {
	l.Log(LogLevelDebug, message, source...)
}

// Info logs an info message.
func (l *Logger) Info(message string, source ...string) {
	l.Log(LogLevelInfo, message, source...)
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, source ...string) {
	l.Log(LogLevelWarn, message, source...)
}

// Error logs an error message.
func (l *Logger) Error(message string, source ...string) {
	l.Log(LogLevelError, message, source...)
}

// Lines returns a copy of the retained tail.
func (l *Logger) Lines() []LogLine {
	if l == nil {
		return []LogLine{}
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	lines := make([]LogLine, len(l.entries))
	copy(lines, l.entries)
	return lines
}

// Count returns the number of retained lines.
func (l *Logger) Count() int {
	if l == nil {
		return 0
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
