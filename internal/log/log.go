// Package log provides the category logger used across tabtree.
// Logging is off until Init or InitWithTeaLog is called, which cmd does
// when --debug or TABTREE_DEBUG is set.
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/zjrosen/tabtree/internal/pubsub"
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

// ParseLevel maps a config string onto a Level. Unknown names map to debug.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelDebug
	}
}

// Category groups related log messages.
type Category string

const (
	CatTree     Category = "tree"     // TreeState mutations
	CatSync     Category = "sync"     // host reconciliation, ghost drops
	CatDrag     Category = "drag"     // drag/drop and hover expansion
	CatPin      Category = "pin"      // pin/unpin dissolution
	CatUnread   Category = "unread"   // unread tracking
	CatPersist  Category = "persist"  // tree_state writes and loads
	CatSnapshot Category = "snapshot" // snapshot store
	CatRPC      Category = "rpc"      // inbound requests
	CatHost     Category = "host"     // Tab Provider calls and events
	CatDB       Category = "db"       // sqlite
	CatCache    Category = "cache"    // cache operations
	CatConfig   Category = "config"   // configuration loading/saving
	CatWatcher  Category = "watcher"  // file watcher events
	CatCmd      Category = "cmd"      // command processor
	CatAPI      Category = "api"      // HTTP transport
)

// Logger writes formatted entries and fans them out to subscribers.
type Logger struct {
	mu       sync.Mutex
	file     *os.File
	writer   io.Writer
	enabled  bool
	minLevel Level
	broker   *pubsub.Broker[string]
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init initializes the global logger.
// Returns a cleanup function to close the log file.
func Init(path string) (func(), error) {
	var initErr error
	once.Do(func() {
		defaultLogger, initErr = newLogger(path)
	})
	if initErr != nil {
		return nil, initErr
	}
	if defaultLogger == nil {
		return nil, fmt.Errorf("logger initialization failed or already attempted")
	}
	return func() {
		if defaultLogger != nil && defaultLogger.file != nil {
			_ = defaultLogger.file.Close()
		}
	}, nil
}

// InitWithTeaLog uses tea.LogToFile for initialization.
func InitWithTeaLog(path string, prefix string) (func(), error) {
	f, err := tea.LogToFile(path, prefix)
	if err != nil {
		return nil, err
	}

	defaultLogger = &Logger{
		file:     f,
		writer:   f,
		enabled:  true,
		minLevel: LevelDebug,
		broker:   pubsub.NewBroker[string](),
	}

	return func() { _ = f.Close() }, nil
}

// InitWriter points the global logger at w. Used by tests and by
// `tabtree serve --log-stderr`.
func InitWriter(w io.Writer, minLevel Level) {
	defaultLogger = &Logger{
		writer:   w,
		enabled:  true,
		minLevel: minLevel,
		broker:   pubsub.NewBroker[string](),
	}
}

func newLogger(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644) //nolint:gosec // G304: debug log path is user supplied
	if err != nil {
		return nil, err
	}

	return &Logger{
		file:     f,
		writer:   f,
		enabled:  true,
		minLevel: LevelDebug,
		broker:   pubsub.NewBroker[string](),
	}, nil
}

// SetEnabled toggles logging on/off.
func SetEnabled(enabled bool) {
	if defaultLogger != nil {
		defaultLogger.mu.Lock()
		defaultLogger.enabled = enabled
		defaultLogger.mu.Unlock()
	}
}

// SetMinLevel sets the minimum log level.
func SetMinLevel(level Level) {
	if defaultLogger != nil {
		defaultLogger.mu.Lock()
		defaultLogger.minLevel = level
		defaultLogger.mu.Unlock()
	}
}

// Debug logs at debug level.
func Debug(cat Category, msg string, fields ...any) {
	write(LevelDebug, cat, msg, fields...)
}

// Info logs at info level.
func Info(cat Category, msg string, fields ...any) {
	write(LevelInfo, cat, msg, fields...)
}

// Warn logs at warning level.
func Warn(cat Category, msg string, fields ...any) {
	write(LevelWarn, cat, msg, fields...)
}

// Error logs at error level.
func Error(cat Category, msg string, fields ...any) {
	write(LevelError, cat, msg, fields...)
}

// ErrorErr logs an error with the error value.
func ErrorErr(cat Category, msg string, err error, fields ...any) {
	if err != nil {
		fields = append(fields, "error", err.Error())
	} else {
		fields = append(fields, "error", "<nil>")
	}
	write(LevelError, cat, msg, fields...)
}

func write(level Level, cat Category, msg string, fields ...any) {
	l := defaultLogger
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled || level < l.minLevel {
		return
	}

	// 2026-01-02T10:45:00 [WARN] [sync] dropping ghost entry tab=99998
	var sb strings.Builder
	sb.WriteString(time.Now().Format("2006-01-02T15:04:05"))
	fmt.Fprintf(&sb, " [%s] [%s] %s", level, cat, msg)
	for i := 0; i+1 < len(fields); i += 2 {
		fmt.Fprintf(&sb, " %v=%v", fields[i], fields[i+1])
	}
	if len(fields)%2 != 0 {
		fmt.Fprintf(&sb, " %v=<missing>", fields[len(fields)-1])
	}
	sb.WriteByte('\n')
	entry := sb.String()

	if l.writer != nil {
		_, _ = io.WriteString(l.writer, entry)
	}
	if l.broker != nil {
		l.broker.Publish(pubsub.LogEntryEvent, entry)
	}
}

// LogEvent is a pubsub event containing a log entry.
type LogEvent = pubsub.Event[string]

// Subscribe streams formatted log entries until ctx is cancelled.
// Returns nil when logging has not been initialized.
func Subscribe(ctx context.Context) <-chan LogEvent {
	if defaultLogger == nil || defaultLogger.broker == nil {
		return nil
	}
	return defaultLogger.broker.Subscribe(ctx)
}
