package utils

import (
	"io"
	"os"
	"strings"
	"sync"

	charmlog "github.com/charmbracelet/log"
)

// LogLevel represents an enumeration of log levels
type LogLevel int

const (
	Critical LogLevel = 50
	Fatal    LogLevel = Critical
	Error    LogLevel = 40
	Warning  LogLevel = 30
	Info     LogLevel = 20
	Debug    LogLevel = 10
	NotSet   LogLevel = 0
)

var (
	defaultLevel   = Info
	defaultOutput  io.Writer = os.Stderr
	defaultLevelMu sync.RWMutex
)

// SetDefaultLogLevel sets the level used by loggers created without an explicit level.
func SetDefaultLogLevel(level LogLevel) {
	defaultLevelMu.Lock()
	defer defaultLevelMu.Unlock()
	defaultLevel = level
}

// SetDefaultOutput redirects loggers created afterwards. Tests use it to capture output.
func SetDefaultOutput(w io.Writer) {
	defaultLevelMu.Lock()
	defer defaultLevelMu.Unlock()
	defaultOutput = w
}

// ParseLogLevel maps "debug", "info", "warn" and "error" to a LogLevel, defaulting to Info.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug
	case "warn", "warning":
		return Warning
	case "error":
		return Error
	case "critical", "fatal":
		return Critical
	default:
		return Info
	}
}

// Logger provides structured logging with context
type Logger struct {
	prefix string
	logger *charmlog.Logger
}

// NewLogger creates a new logger with a given prefix
func NewLogger(prefix string, logLevel ...LogLevel) *Logger {
	defaultLevelMu.RLock()
	level := defaultLevel
	out := defaultOutput
	defaultLevelMu.RUnlock()

	if len(logLevel) > 0 {
		level = logLevel[0]
	}

	l := charmlog.NewWithOptions(out, charmlog.Options{
		Prefix:          prefix,
		ReportTimestamp: true,
	})
	l.SetLevel(toCharmLevel(level))

	return &Logger{
		prefix: prefix,
		logger: l,
	}
}

// SetLogLevel sets the logging level
func (l *Logger) SetLogLevel(logLevel LogLevel) {
	l.logger.SetLevel(toCharmLevel(logLevel))
}

// With returns a child logger that always carries the given key/value pairs.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{prefix: l.prefix, logger: l.logger.With(keyvals...)}
}

// Info logs an informational message
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

// Error logs an error message
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func toCharmLevel(level LogLevel) charmlog.Level {
	switch {
	case level >= Critical:
		return charmlog.FatalLevel
	case level >= Error:
		return charmlog.ErrorLevel
	case level >= Warning:
		return charmlog.WarnLevel
	case level >= Info:
		return charmlog.InfoLevel
	default:
		return charmlog.DebugLevel
	}
}
