// Package log provides structured logging for protdict.
// Entries carry a level, a category and key/value fields. Nothing is written
// until Init or InitWriter is called, so the library stays silent by default.
package log

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

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

// ParseLevel maps a config string to a Level. Unknown values fall back to info.
func ParseLevel(raw string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return LevelDebug, true
	case "":
		return LevelInfo, false
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	default:
		return LevelInfo, false
	}
}

// Category groups related log messages.
type Category string

const (
	CatData     Category = "data"     // Container operations
	CatSlot     Category = "slot"     // Value slot mutation and validation
	CatTypes    Category = "types"    // Type registry (de)serialization
	CatValidate Category = "validate" // Validator registry
	CatCache    Category = "cache"    // cache operations
	CatConfig   Category = "config"   // Configuration loading/saving
	CatSnapshot Category = "snapshot" // Snapshot file codec
	CatWatch    Category = "watch"    // Snapshot file watching
	CatCLI      Category = "cli"      // Command-line entry points
)

// Logger writes entries to a single destination.
type Logger struct {
	mu       sync.Mutex
	file     *os.File
	writer   io.Writer
	enabled  bool
	minLevel Level
}

var (
	globalMu sync.RWMutex
	global   *Logger
)

func current() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return global
}

func install(l *Logger) {
	globalMu.Lock()
	prev := global
	global = l
	globalMu.Unlock()
	if prev != nil && prev.file != nil && prev != l {
		_ = prev.file.Close()
	}
}

// Init points the global logger at the file at path, appending, at debug
// level. The returned cleanup closes the file if it is still in use.
func Init(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // G304: path is user-controlled debug log path
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	l := &Logger{file: f, writer: f, enabled: true, minLevel: LevelDebug}
	install(l)
	return func() {
		globalMu.Lock()
		if global == l {
			global = nil
		}
		globalMu.Unlock()
		_ = f.Close()
	}, nil
}

// InitWriter replaces the global logger with one writing to w.
// Used by the CLI for stderr output and by tests to capture entries.
func InitWriter(w io.Writer, minLevel Level) {
	install(&Logger{writer: w, enabled: true, minLevel: minLevel})
}

// Reset drops the global logger. Subsequent calls are no-ops until re-initialised.
func Reset() {
	install(nil)
}

// SetEnabled toggles logging on/off.
func SetEnabled(enabled bool) {
	if l := current(); l != nil {
		l.mu.Lock()
		l.enabled = enabled
		l.mu.Unlock()
	}
}

// SetMinLevel sets the minimum log level.
func SetMinLevel(level Level) {
	if l := current(); l != nil {
		l.mu.Lock()
		l.minLevel = level
		l.mu.Unlock()
	}
}

func Debug(cat Category, msg string, fields ...any) { write(LevelDebug, cat, msg, fields) }
func Info(cat Category, msg string, fields ...any) { write(LevelInfo, cat, msg, fields) }
func Warn(cat Category, msg string, fields ...any) { write(LevelWarn, cat, msg, fields) }
func Error(cat Category, msg string, fields ...any) { write(LevelError, cat, msg, fields) }

// ErrorErr logs at error level with err appended as the "error" field.
func ErrorErr(cat Category, msg string, err error, fields ...any) {
	var text any = "<nil>"
	if err != nil {
		text = err.Error()
	}
	write(LevelError, cat, msg, append(fields, "error", text))
}

func write(level Level, cat Category, msg string, fields []any) {
	l := current()
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled || level < l.minLevel || l.writer == nil {
		return
	}

	// 2025-12-06T10:45:00 [ERROR] [data] message key=value key2="two words"
	var b strings.Builder
	b.WriteString(time.Now().Format("2006-01-02T15:04:05"))
	fmt.Fprintf(&b, " [%s] [%s] %s", level, cat, msg)
	for i := 0; i < len(fields); i += 2 {
		if i+1 == len(fields) {
			fmt.Fprintf(&b, " %v=<missing>", fields[i])
			break
		}
		fmt.Fprintf(&b, " %v=%s", fields[i], formatValue(fields[i+1]))
	}
	b.WriteByte('\n')
	_, _ = io.WriteString(l.writer, b.String())
}

// formatValue quotes values that would otherwise break key=value parsing.
func formatValue(v any) string {
	s := fmt.Sprint(v)
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
