package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	slogmulti "github.com/samber/slog-multi"
)

// Level represents a log level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of a log level
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel parses a log level string
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level: %s", s)
	}
}

// Logger is a leveled logger that fans records out to every configured sink.
type Logger struct {
	mu      sync.Mutex
	level   *slog.LevelVar
	writers []io.Writer
	slog    *slog.Logger
	file    *os.File
}

// Default is the default logger instance
var Default *Logger

func init() {
	Default = New()
}

// New creates a new logger based on environment variables:
// TASKR_LOG_LEVEL, TASKR_LOG_FILE and TASKR_LOG_STDERR.
func New() *Logger {
	l := &Logger{level: new(slog.LevelVar)}
	l.level.Set(slog.LevelInfo)

	if levelStr := os.Getenv("TASKR_LOG_LEVEL"); levelStr != "" {
		if level, err := ParseLevel(levelStr); err == nil {
			l.level.Set(level.slogLevel())
		}
	}

	if logFile := os.Getenv("TASKR_LOG_FILE"); logFile != "" {
		if f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			l.file = f
			l.writers = append(l.writers, f)
		}
	}

	if v := os.Getenv("TASKR_LOG_STDERR"); v == "1" || strings.EqualFold(v, "true") {
		l.writers = append(l.writers, os.Stderr)
	}

	l.rebuild()
	return l
}

// rebuild recreates the slog logger from the current writers. Caller holds mu
// (or owns l exclusively).
func (l *Logger) rebuild() {
	if len(l.writers) == 0 {
		l.slog = slog.New(slog.DiscardHandler)
		return
	}
	handlers := make([]slog.Handler, 0, len(l.writers))
	for _, w := range l.writers {
		handlers = append(handlers, slog.NewTextHandler(w, &slog.HandlerOptions{Level: l.level}))
	}
	l.slog = slog.New(slogmulti.Fanout(handlers...))
}

// Close closes the logger and any open file handles
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level Level) {
	l.level.Set(level.slogLevel())
}

// SetOutput replaces all sinks with w.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writers = []io.Writer{w}
	l.rebuild()
}

// AddOutput adds w as an additional sink.
func (l *Logger) AddOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writers = append(l.writers, w)
	l.rebuild()
}

// SetFile opens path for appending and adds it as a sink. Used when the log
// file comes from the config file rather than the environment.
func (l *Logger) SetFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		_ = l.file.Close()
		l.writers = removeWriter(l.writers, l.file)
	}
	l.file = f
	l.writers = append(l.writers, f)
	l.rebuild()
	return nil
}

func removeWriter(ws []io.Writer, target io.Writer) []io.Writer {
	out := ws[:0]
	for _, w := range ws {
		if w != target {
			out = append(out, w)
		}
	}
	return out
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.log(LevelDebug, format, v...)
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	l.log(LevelInfo, format, v...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.log(LevelWarn, format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.log(LevelError, format, v...)
}

func (l *Logger) log(level Level, format string, v ...interface{}) {
	l.mu.Lock()
	sl := l.slog
	l.mu.Unlock()

	ctx := context.Background()
	if !sl.Enabled(ctx, level.slogLevel()) {
		return
	}
	sl.Log(ctx, level.slogLevel(), fmt.Sprintf(format, v...))
}

// Package-level functions that use the default logger

// Debug logs a debug message using the default logger
func Debug(format string, v ...interface{}) {
	Default.Debug(format, v...)
}

// Info logs an info message using the default logger
func Info(format string, v ...interface{}) {
	Default.Info(format, v...)
}

// Warn logs a warning message using the default logger
func Warn(format string, v ...interface{}) {
	Default.Warn(format, v...)
}

// Error logs an error message using the default logger
func Error(format string, v ...interface{}) {
	Default.Error(format, v...)
}

// Close closes the default logger
func Close() error {
	return Default.Close()
}
