// Package logger provides leveled logging for the hypetrack pipeline.
// It wraps the standard log package with level-based filtering so verbose
// per-bucket fetch logging can be silenced outside of debugging sessions.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Level represents a logging level
type Level int

const (
	// DebugLevel logs per-attempt and per-bucket detail; disabled by default.
	DebugLevel Level = iota
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel logs degraded-but-continuing conditions such as stale-cache serves.
	WarnLevel
	// ErrorLevel logs failures that exclude a source or abort the run.
	ErrorLevel
)

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Logger provides leveled logging
type Logger struct {
	level  Level
	logger *log.Logger
}

var defaultLogger = &Logger{
	level:  InfoLevel,
	logger: log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds),
}

// Init initializes the default logger with the specified level and format.
// The "text" format includes source file locations for local debugging.
func Init(level string, format string) {
	flags := log.LstdFlags | log.Lmicroseconds
	if strings.ToLower(format) == "text" {
		flags |= log.Lshortfile
	}
	defaultLogger = &Logger{
		level:  ParseLevel(level),
		logger: log.New(os.Stderr, "", flags),
	}
}

// SetOutput redirects the default logger, primarily for tests.
func SetOutput(w io.Writer) {
	defaultLogger.logger.SetOutput(w)
}

func (l *Logger) output(lvl Level, tag, format string, args ...interface{}) {
	if l == nil || l.level > lvl {
		return
	}
	_ = l.logger.Output(3, fmt.Sprintf(tag+format, args...))
}

// Debug logs a message at DebugLevel
func Debug(format string, args ...interface{}) {
	defaultLogger.output(DebugLevel, "[DEBUG] ", format, args...)
}

// Info logs a message at InfoLevel
func Info(format string, args ...interface{}) {
	defaultLogger.output(InfoLevel, "[INFO] ", format, args...)
}

// Warn logs a message at WarnLevel
func Warn(format string, args ...interface{}) {
	defaultLogger.output(WarnLevel, "[WARN] ", format, args...)
}

// Error logs a message at ErrorLevel
func Error(format string, args ...interface{}) {
	defaultLogger.output(ErrorLevel, "[ERROR] ", format, args...)
}

// Fatal logs a message at ErrorLevel and exits
func Fatal(format string, args ...interface{}) {
	defaultLogger.output(ErrorLevel, "[FATAL] ", format, args...)
	os.Exit(1)
}
